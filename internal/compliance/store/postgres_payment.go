package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bima/internal/compliance/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

const paymentColumns = `id, tenant_id, policy_id, amount, reference, received_at, verified_at, verified_by, created_at, updated_at, deleted_at`

func (s *Postgres) CreatePayment(ctx context.Context, p *models.Payment) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, policy_id, amount, reference, received_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID.String(), tenant.ID.String(), p.PolicyID.String(), int64(p.Amount), p.Reference, p.ReceivedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Postgres) GetPayment(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, paymentID.String(), tenant.ID.String())
	return scanPayment(row)
}

func (s *Postgres) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	var verifiedBy *string
	if p.VerifiedBy != nil {
		v := p.VerifiedBy.String()
		verifiedBy = &v
	}
	res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE payments
		SET amount = $3, reference = $4, received_at = $5, verified_at = $6, verified_by = $7, updated_at = $8
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, p.ID.String(), tenant.ID.String(), int64(p.Amount), p.Reference, p.ReceivedAt, p.VerifiedAt, verifiedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return requireAffected(res)
}

func (s *Postgres) ListPaymentsByPolicy(ctx context.Context, policyID id.PolicyID) ([]*models.Payment, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND policy_id = $2 AND deleted_at IS NULL
		ORDER BY received_at
	`, tenant.ID.String(), policyID.String())
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SumVerifiedPayments totals the verified ledger entries for a policy. Run
// inside the activation transaction so the payment guard and the status
// change observe the same snapshot.
func (s *Postgres) SumVerifiedPayments(ctx context.Context, policyID id.PolicyID) (id.Money, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	err = s.q(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE tenant_id = $1 AND policy_id = $2 AND deleted_at IS NULL AND verified_at IS NOT NULL
	`, tenant.ID.String(), policyID.String()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum verified payments: %w", err)
	}
	return id.Money(total), nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p                        models.Payment
		rawID, rawTenant, rawPol string
		amount                   int64
		verifiedBy               sql.NullString
	)
	err := row.Scan(&rawID, &rawTenant, &rawPol, &amount, &p.Reference, &p.ReceivedAt, &p.VerifiedAt, &verifiedBy, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	payID, err := id.ParsePaymentID(rawID)
	if err != nil {
		return nil, fmt.Errorf("payment id corrupt: %w", err)
	}
	tid, err := id.ParseTenantID(rawTenant)
	if err != nil {
		return nil, fmt.Errorf("payment tenant id corrupt: %w", err)
	}
	polID, err := id.ParsePolicyID(rawPol)
	if err != nil {
		return nil, fmt.Errorf("payment policy id corrupt: %w", err)
	}
	p.ID, p.TenantID, p.PolicyID = payID, tid, polID
	p.Amount = id.Money(amount)
	if verifiedBy.Valid {
		if uid, err := id.ParseUserID(verifiedBy.String); err == nil {
			p.VerifiedBy = &uid
		}
	}
	return &p, nil
}
