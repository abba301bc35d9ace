// Package store persists the fleet aggregates. Every query composes the
// tenant predicate from the context binding; a row outside the active tenant
// is indistinguishable from a missing row.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"bima/internal/fleet/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// Postgres persists customers, vehicles, and ownership intervals.
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

// --- customers ---

const customerColumns = `id, tenant_id, kind, display_name, email, phone, created_at, updated_at, deleted_at`

func (s *Postgres) CreateCustomer(ctx context.Context, c *models.Customer) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO customers (id, tenant_id, kind, display_name, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID.String(), tenant.ID.String(), c.Kind, c.DisplayName, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *Postgres) GetCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, customerID.String(), tenant.ID.String())
	return scanCustomer(row)
}

func (s *Postgres) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE customers
		SET kind = $3, display_name = $4, email = $5, phone = $6, updated_at = $7
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, c.ID.String(), tenant.ID.String(), c.Kind, c.DisplayName, c.Email, c.Phone, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) SoftDeleteCustomer(ctx context.Context, customerID id.CustomerID, at time.Time) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE customers SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, customerID.String(), tenant.ID.String(), at)
	if err != nil {
		return fmt.Errorf("soft delete customer: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ListCustomers(ctx context.Context, page id.Page) ([]*models.Customer, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	page = page.Normalize()
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, tenant.ID.String(), page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()
	var out []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- vehicles ---

const vehicleColumns = `id, tenant_id, registration_plate, chassis_number, engine_number, vehicle_type, usage_category, status, created_at, updated_at, deleted_at`

func (s *Postgres) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO vehicles (id, tenant_id, registration_plate, chassis_number, engine_number, vehicle_type, usage_category, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, v.ID.String(), tenant.ID.String(), v.RegistrationPlate, v.ChassisNumber, v.EngineNumber, v.VehicleType, v.UsageCategory, v.Status, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert vehicle: %w", err)
	}
	return nil
}

func (s *Postgres) GetVehicle(ctx context.Context, vehicleID id.VehicleID) (*models.Vehicle, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+vehicleColumns+` FROM vehicles
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, vehicleID.String(), tenant.ID.String())
	return scanVehicle(row)
}

func (s *Postgres) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE vehicles
		SET registration_plate = $3, chassis_number = $4, engine_number = $5,
		    vehicle_type = $6, usage_category = $7, status = $8, updated_at = $9
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, v.ID.String(), tenant.ID.String(), v.RegistrationPlate, v.ChassisNumber, v.EngineNumber,
		v.VehicleType, v.UsageCategory, v.Status, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ListVehicles(ctx context.Context, filter VehicleFilter, page id.Page) ([]*models.Vehicle, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	page = page.Normalize()
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE tenant_id = $1 AND deleted_at IS NULL`
	args := []any{tenant.ID.String()}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.VehicleType != "" {
		args = append(args, string(filter.VehicleType))
		query += fmt.Sprintf(" AND vehicle_type = $%d", len(args))
	}
	args = append(args, page.Size, page.Offset())
	query += fmt.Sprintf(" ORDER BY created_at LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()
	var out []*models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Postgres) ListVehicleIDs(ctx context.Context) ([]id.VehicleID, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id FROM vehicles WHERE tenant_id = $1 AND deleted_at IS NULL
	`, tenant.ID.String())
	if err != nil {
		return nil, fmt.Errorf("list vehicle ids: %w", err)
	}
	defer rows.Close()
	var out []id.VehicleID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		vid, err := id.ParseVehicleID(raw)
		if err != nil {
			return nil, fmt.Errorf("vehicle id corrupt: %w", err)
		}
		out = append(out, vid)
	}
	return out, rows.Err()
}

// --- ownership ---

func (s *Postgres) CurrentOwnership(ctx context.Context, vehicleID id.VehicleID) (*models.Ownership, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, vehicle_id, customer_id, from_ts, to_ts, created_at
		FROM ownerships
		WHERE tenant_id = $1 AND vehicle_id = $2 AND to_ts IS NULL
	`, tenant.ID.String(), vehicleID.String())
	return scanOwnership(row)
}

// TransferOwnership closes the open interval and inserts the next one. The
// partial unique index on (vehicle_id) WHERE to_ts IS NULL makes a double
// transfer race fail instead of producing two current owners.
func (s *Postgres) TransferOwnership(ctx context.Context, vehicleID id.VehicleID, customerID id.CustomerID, at time.Time) (*models.Ownership, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	q := s.q(ctx)
	if _, err := q.ExecContext(ctx, `
		UPDATE ownerships SET to_ts = $3
		WHERE tenant_id = $1 AND vehicle_id = $2 AND to_ts IS NULL
	`, tenant.ID.String(), vehicleID.String(), at); err != nil {
		return nil, fmt.Errorf("close ownership: %w", err)
	}
	next := &models.Ownership{
		ID:         id.NewOwnershipID(),
		TenantID:   tenant.ID,
		VehicleID:  vehicleID,
		CustomerID: customerID,
		FromTS:     at,
		CreatedAt:  at,
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO ownerships (id, tenant_id, vehicle_id, customer_id, from_ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, next.ID.String(), tenant.ID.String(), vehicleID.String(), customerID.String(), at, at); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, sentinel.ErrConflict
		}
		return nil, fmt.Errorf("open ownership: %w", err)
	}
	return next, nil
}

func (s *Postgres) ListOwnerships(ctx context.Context, vehicleID id.VehicleID) ([]*models.Ownership, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, vehicle_id, customer_id, from_ts, to_ts, created_at
		FROM ownerships
		WHERE tenant_id = $1 AND vehicle_id = $2
		ORDER BY from_ts
	`, tenant.ID.String(), vehicleID.String())
	if err != nil {
		return nil, fmt.Errorf("list ownerships: %w", err)
	}
	defer rows.Close()
	var out []*models.Ownership
	for rows.Next() {
		o, err := scanOwnership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// --- scanners ---

type rowScanner interface {
	Scan(dest ...any) error
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		c                  models.Customer
		rawID, rawTenantID string
	)
	err := row.Scan(&rawID, &rawTenantID, &c.Kind, &c.DisplayName, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	cid, err := id.ParseCustomerID(rawID)
	if err != nil {
		return nil, fmt.Errorf("customer id corrupt: %w", err)
	}
	tid, err := id.ParseTenantID(rawTenantID)
	if err != nil {
		return nil, fmt.Errorf("customer tenant id corrupt: %w", err)
	}
	c.ID, c.TenantID = cid, tid
	return &c, nil
}

func scanVehicle(row rowScanner) (*models.Vehicle, error) {
	var (
		v                  models.Vehicle
		rawID, rawTenantID string
	)
	err := row.Scan(&rawID, &rawTenantID, &v.RegistrationPlate, &v.ChassisNumber, &v.EngineNumber,
		&v.VehicleType, &v.UsageCategory, &v.Status, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan vehicle: %w", err)
	}
	vid, err := id.ParseVehicleID(rawID)
	if err != nil {
		return nil, fmt.Errorf("vehicle id corrupt: %w", err)
	}
	tid, err := id.ParseTenantID(rawTenantID)
	if err != nil {
		return nil, fmt.Errorf("vehicle tenant id corrupt: %w", err)
	}
	v.ID, v.TenantID = vid, tid
	return &v, nil
}

func scanOwnership(row rowScanner) (*models.Ownership, error) {
	var (
		o                                models.Ownership
		rawID, rawTenant, rawVeh, rawCus string
	)
	err := row.Scan(&rawID, &rawTenant, &rawVeh, &rawCus, &o.FromTS, &o.ToTS, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ownership: %w", err)
	}
	oid, err := id.ParseOwnershipID(rawID)
	if err != nil {
		return nil, fmt.Errorf("ownership id corrupt: %w", err)
	}
	o.ID = oid
	tid, err := id.ParseTenantID(rawTenant)
	if err != nil {
		return nil, fmt.Errorf("ownership tenant id corrupt: %w", err)
	}
	vid, err := id.ParseVehicleID(rawVeh)
	if err != nil {
		return nil, fmt.Errorf("ownership vehicle id corrupt: %w", err)
	}
	cid, err := id.ParseCustomerID(rawCus)
	if err != nil {
		return nil, fmt.Errorf("ownership customer id corrupt: %w", err)
	}
	o.TenantID, o.VehicleID, o.CustomerID = tid, vid, cid
	return &o, nil
}
