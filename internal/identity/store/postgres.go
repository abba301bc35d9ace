// Package store persists users. User rows are platform-level: lookups by
// email happen before any tenant binding exists, so queries here take
// explicit identifiers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"bima/internal/identity/models"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// Postgres persists users in PostgreSQL.
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

const userColumns = `id, email, password_hash, role, tenant_id, status, failed_login_count, locked_until, must_change_password, created_at, updated_at, deleted_at`

func (s *Postgres) Create(ctx context.Context, u *models.User) error {
	var tenantID *string
	if u.TenantID != nil {
		v := u.TenantID.String()
		tenantID = &v
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, tenant_id, status, failed_login_count, must_change_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID.String(), u.Email, u.PasswordHash, u.Role, tenantID, u.Status, u.FailedLoginCount, u.MustChangePassword, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL
	`, userID.String())
	return scanUser(row)
}

func (s *Postgres) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL
	`, email)
	return scanUser(row)
}

func (s *Postgres) Update(ctx context.Context, u *models.User) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET email = $2, password_hash = $3, status = $4, failed_login_count = $5,
		    locked_until = $6, must_change_password = $7, updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL
	`, u.ID.String(), u.Email, u.PasswordHash, u.Status, u.FailedLoginCount, u.LockedUntil, u.MustChangePassword, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// RecordLoginFailure atomically increments the failure counter and applies
// the hard lock when the threshold is reached, preventing TOCTOU races under
// parallel login attempts.
func (s *Postgres) RecordLoginFailure(ctx context.Context, userID id.UserID, threshold int, lockedUntil time.Time) (*models.User, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		UPDATE users
		SET failed_login_count = failed_login_count + 1,
		    locked_until = CASE WHEN failed_login_count + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+userColumns+`
	`, userID.String(), threshold, lockedUntil)
	return scanUser(row)
}

// ClearLoginFailures resets the lockout state after a successful login.
func (s *Postgres) ClearLoginFailures(ctx context.Context, userID id.UserID) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE users
		SET failed_login_count = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, userID.String())
	if err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	return nil
}

func (s *Postgres) ListByTenantRoles(ctx context.Context, tenantID id.TenantID, roles []models.Role) ([]*models.User, error) {
	roleStrs := make([]string, len(roles))
	for i, r := range roles {
		roleStrs[i] = string(r)
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []any{tenantID.String()}
	if len(roleStrs) > 0 {
		query += ` AND role = ANY($2)`
		args = append(args, pq.Array(roleStrs))
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users by tenant: %w", err)
	}
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		rawID     string
		rawTenant sql.NullString
	)
	err := row.Scan(&rawID, &u.Email, &u.PasswordHash, &u.Role, &rawTenant, &u.Status,
		&u.FailedLoginCount, &u.LockedUntil, &u.MustChangePassword, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	uid, err := id.ParseUserID(rawID)
	if err != nil {
		return nil, fmt.Errorf("user id corrupt: %w", err)
	}
	u.ID = uid
	if rawTenant.Valid {
		tid, err := id.ParseTenantID(rawTenant.String)
		if err != nil {
			return nil, fmt.Errorf("user tenant id corrupt: %w", err)
		}
		u.TenantID = &tid
	}
	return &u, nil
}
