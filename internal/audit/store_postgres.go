package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "bima/pkg/domain"
	txcontext "bima/pkg/platform/tx"
)

// PostgresStore persists audit entries and mirrors each one to the outbox
// table for the event stream. The store exposes no update or delete: the
// audit log is append-only at the repository layer.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps a database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) q(ctx context.Context) execer {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	var tenantID, actorID *string
	if e.TenantID != nil {
		v := e.TenantID.String()
		tenantID = &v
	}
	if e.ActorID != nil {
		v := e.ActorID.String()
		actorID = &v
	}
	q := s.q(ctx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, tenant_id, actor_user_id, at_ts, entity_kind, entity_id, action, outcome, before, after, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, tenantID, actorID, e.At, e.EntityKind, e.EntityID, e.Action, e.Outcome, nullableJSON(e.Before), nullableJSON(e.After), e.Reason)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), e.EntityKind, e.EntityID, string(e.Action), payload, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityKind, entityID string) ([]Entry, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, actor_user_id, at_ts, entity_kind, entity_id, action, outcome, before, after, reason
		FROM audit_entries
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY at_ts, id
	`, entityKind, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			rawTenant sql.NullString
			rawActor  sql.NullString
			before    []byte
			after     []byte
		)
		if err := rows.Scan(&e.ID, &rawTenant, &rawActor, &e.At, &e.EntityKind, &e.EntityID, &e.Action, &e.Outcome, &before, &after, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if rawTenant.Valid {
			tid, err := id.ParseTenantID(rawTenant.String)
			if err != nil {
				return nil, fmt.Errorf("audit tenant id corrupt: %w", err)
			}
			e.TenantID = &tid
		}
		if rawActor.Valid {
			aid, err := id.ParseUserID(rawActor.String)
			if err != nil {
				return nil, fmt.Errorf("audit actor id corrupt: %w", err)
			}
			e.ActorID = &aid
		}
		e.Before = before
		e.After = after
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
