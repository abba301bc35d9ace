package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// PostgresStore persists notifications. The unique index on dedupe_key makes
// Insert idempotent per cycle: ON CONFLICT DO NOTHING reports zero rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps a database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, n *Notification) (bool, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return false, err
	}
	var payload any
	if len(n.Payload) > 0 {
		payload = []byte(n.Payload)
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, user_id, kind, priority, title, message, payload, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, n.ID.String(), tenant.ID.String(), n.UserID.String(), n.Kind, n.Priority, n.Title, n.Message, payload, n.DedupeKey, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID, unreadOnly bool, page id.Page) ([]*Notification, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	page = page.Normalize()
	query := `
		SELECT id, tenant_id, user_id, kind, priority, title, message, payload, dedupe_key, read_at, created_at
		FROM notifications
		WHERE tenant_id = $1 AND user_id = $2`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $3 OFFSET $4`
	rows, err := s.q(ctx).QueryContext(ctx, query, tenant.ID.String(), userID.String(), page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		var (
			n                         Notification
			rawID, rawTenant, rawUser string
			payload                   []byte
		)
		if err := rows.Scan(&rawID, &rawTenant, &rawUser, &n.Kind, &n.Priority, &n.Title, &n.Message, &payload, &n.DedupeKey, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		nid, err := id.ParseNotificationID(rawID)
		if err != nil {
			return nil, fmt.Errorf("notification id corrupt: %w", err)
		}
		tid, err := id.ParseTenantID(rawTenant)
		if err != nil {
			return nil, fmt.Errorf("notification tenant id corrupt: %w", err)
		}
		uid, err := id.ParseUserID(rawUser)
		if err != nil {
			return nil, fmt.Errorf("notification user id corrupt: %w", err)
		}
		n.ID, n.TenantID, n.UserID = nid, tid, uid
		n.Payload = payload
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID, at time.Time) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $4)
		WHERE id = $1 AND tenant_id = $2 AND user_id = $3
	`, notificationID.String(), tenant.ID.String(), userID.String(), at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
