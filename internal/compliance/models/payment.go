package models

import (
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Payment is one ledger entry against a policy. Payments are recorded facts
// (gateways are external); only verified entries count toward activation.
type Payment struct {
	ID         id.PaymentID `json:"id"`
	TenantID   id.TenantID  `json:"tenant_id"`
	PolicyID   id.PolicyID  `json:"policy_id"`
	Amount     id.Money     `json:"amount"`
	Reference  string       `json:"reference,omitempty"`
	ReceivedAt time.Time    `json:"received_at"`
	VerifiedAt *time.Time   `json:"verified_at,omitempty"`
	VerifiedBy *id.UserID   `json:"verified_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	DeletedAt  *time.Time   `json:"deleted_at,omitempty"`
}

// NewPayment validates and constructs an unverified ledger entry.
func NewPayment(tenantID id.TenantID, policyID id.PolicyID, amount id.Money, reference string, receivedAt, now time.Time) (*Payment, error) {
	if amount <= 0 {
		return nil, domainerrors.NewValidation("amount", "must be positive")
	}
	if receivedAt.IsZero() {
		receivedAt = now
	}
	return &Payment{
		ID:         id.NewPaymentID(),
		TenantID:   tenantID,
		PolicyID:   policyID,
		Amount:     amount,
		Reference:  reference,
		ReceivedAt: receivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsVerified reports whether the entry counts toward activation.
func (p *Payment) IsVerified() bool { return p.VerifiedAt != nil }

// Verify marks the entry verified. Verifying twice is rejected.
func (p *Payment) Verify(by id.UserID, at time.Time) error {
	if p.IsVerified() {
		return domainerrors.New(domainerrors.CodeInvalidTransition, "payment is already verified")
	}
	p.VerifiedAt = &at
	p.VerifiedBy = &by
	p.UpdatedAt = at
	return nil
}
