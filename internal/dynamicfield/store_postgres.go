package dynamicfield

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// PostgresStore persists definitions and typed values.
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

const definitionColumns = `id, tenant_id, entity_kind, name, key, data_type, choices, required, display_order, is_active, created_at, updated_at`

func (s *PostgresStore) CreateDefinition(ctx context.Context, d *Definition) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO field_definitions (id, tenant_id, entity_kind, name, key, data_type, choices, required, display_order, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.ID.String(), tenant.ID.String(), d.EntityKind, d.Name, d.Key, d.DataType,
		pq.Array(d.Choices), d.Required, d.Order, d.IsActive, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert field definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDefinition(ctx context.Context, defID id.FieldDefinitionID) (*Definition, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+definitionColumns+` FROM field_definitions
		WHERE id = $1 AND tenant_id = $2
	`, defID.String(), tenant.ID.String())
	return scanDefinition(row)
}

func (s *PostgresStore) UpdateDefinition(ctx context.Context, d *Definition) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE field_definitions
		SET name = $3, choices = $4, required = $5, display_order = $6, is_active = $7, updated_at = $8
		WHERE id = $1 AND tenant_id = $2
	`, d.ID.String(), tenant.ID.String(), d.Name, pq.Array(d.Choices), d.Required, d.Order, d.IsActive, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update field definition: %w", err)
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

func (s *PostgresStore) ListDefinitions(ctx context.Context, entityKind EntityKind, activeOnly bool) ([]*Definition, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + definitionColumns + ` FROM field_definitions WHERE tenant_id = $1 AND entity_kind = $2`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY display_order, name`
	rows, err := s.q(ctx).QueryContext(ctx, query, tenant.ID.String(), entityKind)
	if err != nil {
		return nil, fmt.Errorf("list field definitions: %w", err)
	}
	defer rows.Close()
	var out []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertValue(ctx context.Context, v *Value) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO field_values (definition_id, tenant_id, entity_kind, entity_id, value_text, value_number, value_date, value_bool, value_choice, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (definition_id, entity_id) DO UPDATE SET
			value_text = EXCLUDED.value_text,
			value_number = EXCLUDED.value_number,
			value_date = EXCLUDED.value_date,
			value_bool = EXCLUDED.value_bool,
			value_choice = EXCLUDED.value_choice,
			updated_at = EXCLUDED.updated_at
	`, v.DefinitionID.String(), tenant.ID.String(), v.EntityKind, v.EntityID,
		v.Text, v.Number, v.Date, v.Bool, v.Choice, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert field value: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListValues(ctx context.Context, entityKind EntityKind, entityID string) ([]*Value, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT definition_id, tenant_id, entity_kind, entity_id, value_text, value_number, value_date, value_bool, value_choice, updated_at
		FROM field_values
		WHERE tenant_id = $1 AND entity_kind = $2 AND entity_id = $3
	`, tenant.ID.String(), entityKind, entityID)
	if err != nil {
		return nil, fmt.Errorf("list field values: %w", err)
	}
	defer rows.Close()
	var out []*Value
	for rows.Next() {
		var (
			v                 Value
			rawDef, rawTenant string
		)
		if err := rows.Scan(&rawDef, &rawTenant, &v.EntityKind, &v.EntityID, &v.Text, &v.Number, &v.Date, &v.Bool, &v.Choice, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan field value: %w", err)
		}
		defID, err := id.ParseFieldDefinitionID(rawDef)
		if err != nil {
			return nil, fmt.Errorf("field definition id corrupt: %w", err)
		}
		tid, err := id.ParseTenantID(rawTenant)
		if err != nil {
			return nil, fmt.Errorf("field value tenant id corrupt: %w", err)
		}
		v.DefinitionID, v.TenantID = defID, tid
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EntityIDsWhere(ctx context.Context, defID id.FieldDefinitionID, needle string) ([]string, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT entity_id FROM field_values
		WHERE tenant_id = $1 AND definition_id = $2
		  AND (value_text = $3 OR value_choice = $3)
		ORDER BY entity_id
	`, tenant.ID.String(), defID.String(), needle)
	if err != nil {
		return nil, fmt.Errorf("field query: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return nil, err
		}
		out = append(out, entityID)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*Definition, error) {
	var (
		d                Definition
		rawID, rawTenant string
		choices          pq.StringArray
	)
	err := row.Scan(&rawID, &rawTenant, &d.EntityKind, &d.Name, &d.Key, &d.DataType, &choices, &d.Required, &d.Order, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan field definition: %w", err)
	}
	defID, err := id.ParseFieldDefinitionID(rawID)
	if err != nil {
		return nil, fmt.Errorf("field definition id corrupt: %w", err)
	}
	tid, err := id.ParseTenantID(rawTenant)
	if err != nil {
		return nil, fmt.Errorf("field definition tenant id corrupt: %w", err)
	}
	d.ID, d.TenantID = defID, tid
	d.Choices = []string(choices)
	return &d, nil
}
