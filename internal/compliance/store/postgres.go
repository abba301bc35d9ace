package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"bima/internal/compliance/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	txcontext "bima/pkg/platform/tx"
)

// Postgres persists compliance records. The single-active invariant is
// carried by partial unique indexes:
//
//	(tenant_id, vehicle_id)              WHERE status='active' AND deleted_at IS NULL  -- policies
//	(tenant_id, vehicle_id, permit_type) WHERE status='active' AND deleted_at IS NULL  -- permits
//
// so parallel activations race at the database, not in application code.
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- policies ---

const policyColumns = `id, tenant_id, vehicle_id, policy_number, start_date, end_date, premium_amount, coverage_amount, policy_type, notes,
	status, activated_at, cancelled_at, cancelled_by, cancellation_reason, cancellation_note, created_at, updated_at, deleted_at`

func (s *Postgres) CreatePolicy(ctx context.Context, p *models.Policy) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO policies (id, tenant_id, vehicle_id, policy_number, start_date, end_date, premium_amount, coverage_amount, policy_type, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID.String(), tenant.ID.String(), p.VehicleID.String(), p.PolicyNumber, p.Start, p.End,
		int64(p.PremiumAmount), int64(p.CoverageAmount), p.PolicyType, p.Notes, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func (s *Postgres) GetPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, policyID.String(), tenant.ID.String())
	return scanPolicy(row)
}

// UpdatePolicyDraft rewrites the mutable attributes. The WHERE clause keeps
// immutable rows untouched even if a stale caller slips past the engine.
func (s *Postgres) UpdatePolicyDraft(ctx context.Context, p *models.Policy) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE policies
		SET vehicle_id = $3, start_date = $4, end_date = $5, premium_amount = $6,
		    coverage_amount = $7, policy_type = $8, notes = $9, status = $10, updated_at = $11
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		  AND status IN ('draft', 'pending_payment')
	`, p.ID.String(), tenant.ID.String(), p.VehicleID.String(), p.Start, p.End, int64(p.PremiumAmount),
		int64(p.CoverageAmount), p.PolicyType, p.Notes, p.Status, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update draft policy: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ListPoliciesByVehicle(ctx context.Context, vehicleID id.VehicleID) ([]*models.Policy, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE tenant_id = $1 AND vehicle_id = $2 AND deleted_at IS NULL
		ORDER BY created_at
	`, tenant.ID.String(), vehicleID.String())
	if err != nil {
		return nil, fmt.Errorf("list policies by vehicle: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// NextPolicySequence allocates the next number in the tenant-year series by
// scanning the existing maximum inside the caller's transaction.
func (s *Postgres) NextPolicySequence(ctx context.Context, year int) (int, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return 0, err
	}
	prefix := fmt.Sprintf("POL-%d-%%", year)
	var max sql.NullInt64
	err = s.q(ctx).QueryRowContext(ctx, `
		SELECT MAX(CAST(split_part(policy_number, '-', 4) AS INTEGER))
		FROM policies
		WHERE tenant_id = $1 AND policy_number LIKE $2 AND deleted_at IS NULL
	`, tenant.ID.String(), prefix).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next policy sequence: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// --- permits ---

const permitColumns = `id, tenant_id, vehicle_id, permit_type, reference_number, issuing_authority, route, start_date, end_date,
	status, activated_at, cancelled_at, cancelled_by, cancellation_reason, cancellation_note, created_at, updated_at, deleted_at`

func (s *Postgres) CreatePermit(ctx context.Context, p *models.Permit) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO permits (id, tenant_id, vehicle_id, permit_type, reference_number, issuing_authority, route, start_date, end_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID.String(), tenant.ID.String(), p.VehicleID.String(), p.PermitType, p.ReferenceNumber,
		p.IssuingAuthority, p.Route, p.Start, p.End, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert permit: %w", err)
	}
	return nil
}

func (s *Postgres) GetPermit(ctx context.Context, permitID id.PermitID) (*models.Permit, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+permitColumns+` FROM permits
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, permitID.String(), tenant.ID.String())
	return scanPermit(row)
}

func (s *Postgres) UpdatePermitDraft(ctx context.Context, p *models.Permit) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE permits
		SET vehicle_id = $3, permit_type = $4, reference_number = $5, issuing_authority = $6,
		    route = $7, start_date = $8, end_date = $9, updated_at = $10
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		  AND status = 'draft'
	`, p.ID.String(), tenant.ID.String(), p.VehicleID.String(), p.PermitType, p.ReferenceNumber,
		p.IssuingAuthority, p.Route, p.Start, p.End, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update draft permit: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ListPermitsByVehicle(ctx context.Context, vehicleID id.VehicleID) ([]*models.Permit, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+permitColumns+` FROM permits
		WHERE tenant_id = $1 AND vehicle_id = $2 AND deleted_at IS NULL
		ORDER BY created_at
	`, tenant.ID.String(), vehicleID.String())
	if err != nil {
		return nil, fmt.Errorf("list permits by vehicle: %w", err)
	}
	defer rows.Close()
	return collectPermits(rows)
}

// ListAllPolicies returns every live policy in the active tenant. Used by
// the fleet-wide summary so it stays a single scan instead of per-vehicle
// queries.
func (s *Postgres) ListAllPolicies(ctx context.Context) ([]*models.Policy, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, tenant.ID.String())
	if err != nil {
		return nil, fmt.Errorf("list all policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// ListAllPermits returns every live permit in the active tenant.
func (s *Postgres) ListAllPermits(ctx context.Context) ([]*models.Permit, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+permitColumns+` FROM permits
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, tenant.ID.String())
	if err != nil {
		return nil, fmt.Errorf("list all permits: %w", err)
	}
	defer rows.Close()
	return collectPermits(rows)
}

// --- transitions ---

// Get loads a record of either kind by its raw id.
func (s *Postgres) Get(ctx context.Context, kind models.Kind, rawID string) (models.Record, error) {
	switch kind {
	case models.KindPolicy:
		pid, err := id.ParsePolicyID(rawID)
		if err != nil {
			return nil, err
		}
		return s.GetPolicy(ctx, pid)
	case models.KindPermit:
		pid, err := id.ParsePermitID(rawID)
		if err != nil {
			return nil, err
		}
		return s.GetPermit(ctx, pid)
	}
	return nil, sentinel.ErrNotFound
}

// SaveTransition persists lifecycle fields. An activation that violates the
// partial unique index surfaces as sentinel.ErrConflict.
func (s *Postgres) SaveTransition(ctx context.Context, rec models.Record, at time.Time) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	l := rec.Life()
	var (
		cancelledBy *string
		reason      *string
	)
	if l.CancelledBy != nil {
		v := l.CancelledBy.String()
		cancelledBy = &v
	}
	if l.CancellationReason != nil {
		v := string(*l.CancellationReason)
		reason = &v
	}

	table := "policies"
	if rec.RecordKind() == models.KindPermit {
		table = "permits"
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE `+table+`
		SET status = $3, activated_at = $4, cancelled_at = $5, cancelled_by = $6,
		    cancellation_reason = $7, cancellation_note = $8, updated_at = $9
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, rec.RecordID(), tenant.ID.String(), l.Status, l.ActivatedAt, l.CancelledAt, cancelledBy,
		reason, l.CancellationNote, at)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save %s transition: %w", table, err)
	}
	return requireAffected(res)
}

// ListExpiredActive returns active records whose end_date precedes today.
func (s *Postgres) ListExpiredActive(ctx context.Context, today time.Time) ([]models.Record, error) {
	return s.sweep(ctx, `end_date < $2`, []any{models.DateOnly(today)})
}

// ListExpiringActive returns active records with end_date within [today, until].
func (s *Postgres) ListExpiringActive(ctx context.Context, today, until time.Time) ([]models.Record, error) {
	return s.sweep(ctx, `end_date >= $2 AND end_date <= $3`, []any{models.DateOnly(today), models.DateOnly(until)})
}

func (s *Postgres) sweep(ctx context.Context, datePredicate string, dateArgs []any) ([]models.Record, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	args := append([]any{tenant.ID.String()}, dateArgs...)

	var out []models.Record
	polRows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE tenant_id = $1 AND deleted_at IS NULL AND status = 'active' AND `+datePredicate+`
		ORDER BY end_date
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sweep policies: %w", err)
	}
	policies, err := collectPolicies(polRows)
	polRows.Close()
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		out = append(out, p)
	}

	perRows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+permitColumns+` FROM permits
		WHERE tenant_id = $1 AND deleted_at IS NULL AND status = 'active' AND `+datePredicate+`
		ORDER BY end_date
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sweep permits: %w", err)
	}
	permits, err := collectPermits(perRows)
	perRows.Close()
	if err != nil {
		return nil, err
	}
	for _, p := range permits {
		out = append(out, p)
	}
	return out, nil
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

func scanPolicy(row rowScanner) (*models.Policy, error) {
	var (
		p                        models.Policy
		rawID, rawTenant, rawVeh string
		premium, coverage        int64
		cancelledBy, reason      sql.NullString
	)
	err := row.Scan(&rawID, &rawTenant, &rawVeh, &p.PolicyNumber, &p.Start, &p.End, &premium, &coverage,
		&p.PolicyType, &p.Notes, &p.Status, &p.ActivatedAt, &p.CancelledAt, &cancelledBy, &reason,
		&p.CancellationNote, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan policy: %w", err)
	}
	if err := fillRecordIDs(&p.ID, &p.TenantID, &p.VehicleID, rawID, rawTenant, rawVeh); err != nil {
		return nil, err
	}
	p.PremiumAmount = id.Money(premium)
	p.CoverageAmount = id.Money(coverage)
	fillClosure(&p.Lifecycle, cancelledBy, reason)
	return &p, nil
}

func scanPermit(row rowScanner) (*models.Permit, error) {
	var (
		p                        models.Permit
		rawID, rawTenant, rawVeh string
		cancelledBy, reason      sql.NullString
	)
	err := row.Scan(&rawID, &rawTenant, &rawVeh, &p.PermitType, &p.ReferenceNumber, &p.IssuingAuthority,
		&p.Route, &p.Start, &p.End, &p.Status, &p.ActivatedAt, &p.CancelledAt, &cancelledBy, &reason,
		&p.CancellationNote, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan permit: %w", err)
	}
	permitID, err := id.ParsePermitID(rawID)
	if err != nil {
		return nil, fmt.Errorf("permit id corrupt: %w", err)
	}
	p.ID = permitID
	tid, err := id.ParseTenantID(rawTenant)
	if err != nil {
		return nil, fmt.Errorf("permit tenant id corrupt: %w", err)
	}
	vid, err := id.ParseVehicleID(rawVeh)
	if err != nil {
		return nil, fmt.Errorf("permit vehicle id corrupt: %w", err)
	}
	p.TenantID, p.VehicleID = tid, vid
	fillClosure(&p.Lifecycle, cancelledBy, reason)
	return &p, nil
}

func fillRecordIDs(policyID *id.PolicyID, tenantID *id.TenantID, vehicleID *id.VehicleID, rawID, rawTenant, rawVeh string) error {
	pid, err := id.ParsePolicyID(rawID)
	if err != nil {
		return fmt.Errorf("policy id corrupt: %w", err)
	}
	tid, err := id.ParseTenantID(rawTenant)
	if err != nil {
		return fmt.Errorf("policy tenant id corrupt: %w", err)
	}
	vid, err := id.ParseVehicleID(rawVeh)
	if err != nil {
		return fmt.Errorf("policy vehicle id corrupt: %w", err)
	}
	*policyID, *tenantID, *vehicleID = pid, tid, vid
	return nil
}

func fillClosure(l *models.Lifecycle, cancelledBy, reason sql.NullString) {
	if cancelledBy.Valid {
		if uid, err := id.ParseUserID(cancelledBy.String); err == nil {
			l.CancelledBy = &uid
		}
	}
	if reason.Valid && reason.String != "" {
		r := models.CancellationReason(reason.String)
		l.CancellationReason = &r
	}
}

func collectPolicies(rows *sql.Rows) ([]*models.Policy, error) {
	var out []*models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func collectPermits(rows *sql.Rows) ([]*models.Permit, error) {
	var out []*models.Permit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
