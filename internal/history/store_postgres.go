package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// PostgresStore persists history records. Versions are allocated with a
// MAX+1 subquery inside the caller's transaction, which is serialized by the
// same lock that guards the mutation itself.
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
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, r Record) error {
	var tenantID, actorID *string
	if r.TenantID != nil {
		v := r.TenantID.String()
		tenantID = &v
	}
	if r.ActorID != nil {
		v := r.ActorID.String()
		actorID = &v
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO history_records (id, tenant_id, entity_kind, entity_id, version, snapshot, actor_user_id, at_ts)
		VALUES ($1, $2, $3, $4,
			COALESCE((SELECT MAX(version) FROM history_records WHERE entity_kind = $3 AND entity_id = $4), 0) + 1,
			$5, $6, $7)
	`, r.ID, tenantID, r.EntityKind, r.EntityID, []byte(r.Snapshot), actorID, r.At)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityKind, entityID string) ([]Record, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, entity_kind, entity_id, version, snapshot, actor_user_id, at_ts
		FROM history_records
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY version
	`, entityKind, entityID)
	if err != nil {
		return nil, fmt.Errorf("list history records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AsOf(ctx context.Context, entityKind, entityID string, t time.Time) (*Record, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, entity_kind, entity_id, version, snapshot, actor_user_id, at_ts
		FROM history_records
		WHERE entity_kind = $1 AND entity_id = $2 AND at_ts <= $3
		ORDER BY version DESC
		LIMIT 1
	`, entityKind, entityID, t)
	if err != nil {
		return nil, fmt.Errorf("history as-of: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sentinel.ErrNotFound
	}
	return scanRecord(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		rawTenant sql.NullString
		rawActor  sql.NullString
		snapshot  []byte
	)
	err := row.Scan(&r.ID, &rawTenant, &r.EntityKind, &r.EntityID, &r.Version, &snapshot, &rawActor, &r.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan history record: %w", err)
	}
	if rawTenant.Valid {
		tid, err := id.ParseTenantID(rawTenant.String)
		if err != nil {
			return nil, fmt.Errorf("history tenant id corrupt: %w", err)
		}
		r.TenantID = &tid
	}
	if rawActor.Valid {
		aid, err := id.ParseUserID(rawActor.String)
		if err != nil {
			return nil, fmt.Errorf("history actor id corrupt: %w", err)
		}
		r.ActorID = &aid
	}
	r.Snapshot = snapshot
	return &r, nil
}
