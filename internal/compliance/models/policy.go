package models

import (
	"fmt"
	"strings"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Policy is an insurance coverage record for one vehicle.
//
// Invariants:
//   - policy_number unique within the tenant, generated at creation
//   - end_date > start_date, premium > 0
//   - at most one active policy per vehicle (enforced by the store)
//   - immutable outside draft/pending_payment except closure fields
type Policy struct {
	ID             id.PolicyID  `json:"id"`
	TenantID       id.TenantID  `json:"tenant_id"`
	VehicleID      id.VehicleID `json:"vehicle_id"`
	PolicyNumber   string       `json:"policy_number"`
	Start          time.Time    `json:"start_date"`
	End            time.Time    `json:"end_date"`
	PremiumAmount  id.Money     `json:"premium_amount"`
	CoverageAmount id.Money     `json:"coverage_amount,omitempty"`
	PolicyType     string       `json:"policy_type,omitempty"`
	Notes          string       `json:"notes,omitempty"`
	Lifecycle
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NewPolicy validates and constructs a draft policy.
func NewPolicy(tenantID id.TenantID, vehicleID id.VehicleID, number string, start, end time.Time, premium id.Money, now time.Time) (*Policy, error) {
	if err := ValidateDates(start, end); err != nil {
		return nil, err
	}
	if premium <= 0 {
		return nil, domainerrors.NewValidation("premium_amount", "must be positive")
	}
	if strings.TrimSpace(number) == "" {
		return nil, domainerrors.NewValidation("policy_number", "cannot be empty")
	}
	return &Policy{
		ID:            id.NewPolicyID(),
		TenantID:      tenantID,
		VehicleID:     vehicleID,
		PolicyNumber:  number,
		Start:         DateOnly(start),
		End:           DateOnly(end),
		PremiumAmount: premium,
		Lifecycle:     Lifecycle{Status: StatusDraft},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (p *Policy) RecordKind() Kind              { return KindPolicy }
func (p *Policy) RecordID() string              { return p.ID.String() }
func (p *Policy) RecordTenantID() id.TenantID   { return p.TenantID }
func (p *Policy) RecordVehicleID() id.VehicleID { return p.VehicleID }
func (p *Policy) ConflictKey() string           { return "" }
func (p *Policy) StartDate() time.Time          { return p.Start }
func (p *Policy) EndDate() time.Time            { return p.End }
func (p *Policy) Life() *Lifecycle              { return &p.Lifecycle }

// IsFullyPaid reports whether the verified payment total covers the premium.
func (p *Policy) IsFullyPaid(verifiedTotal id.Money) bool {
	return verifiedTotal >= p.PremiumAmount
}

// FormatPolicyNumber builds the tenant-scoped number POL-{YEAR}-{SLUG}-{SEQ}.
func FormatPolicyNumber(year int, slug string, sequence int) string {
	return fmt.Sprintf("POL-%d-%s-%05d", year, strings.ToUpper(slug), sequence)
}
