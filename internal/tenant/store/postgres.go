// Package store persists tenants. Tenant rows are platform-level data:
// access is restricted to super-admin operations and to the login path,
// so queries here take explicit identifiers rather than a tenant binding.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bima/internal/tenant/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// Postgres persists tenants in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps a database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const tenantColumns = `id, name, slug, status, contact_email, settings, created_at, updated_at, deleted_at`

func (s *Postgres) Create(ctx context.Context, t *models.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, status, contact_email, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID.String(), t.Name, t.Slug, t.Status, t.ContactEmail, settings, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1 AND deleted_at IS NULL
	`, tenantID.String())
	return scanTenant(row)
}

func (s *Postgres) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE lower(slug) = lower($1) AND deleted_at IS NULL
	`, slug)
	return scanTenant(row)
}

func (s *Postgres) Update(ctx context.Context, t *models.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE tenants
		SET name = $2, status = $3, contact_email = $4, settings = $5, updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL
	`, t.ID.String(), t.Name, t.Status, t.ContactEmail, settings, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) List(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE deleted_at IS NULL ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()
	var out []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		t        models.Tenant
		rawID    string
		settings []byte
	)
	err := row.Scan(&rawID, &t.Name, &t.Slug, &t.Status, &t.ContactEmail, &settings, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	tid, err := id.ParseTenantID(rawID)
	if err != nil {
		return nil, fmt.Errorf("tenant id corrupt: %w", err)
	}
	t.ID = tid
	t.Settings = tenantctx.DefaultSettings()
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal tenant settings: %w", err)
		}
	}
	return &t, nil
}
