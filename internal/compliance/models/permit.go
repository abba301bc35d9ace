package models

import (
	"strings"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Permit is a regulatory authorization for one vehicle. LATRA records are
// permits with PermitType "latra_license"; nothing in the core branches on
// the type beyond the per-type single-active invariant.
type Permit struct {
	ID               id.PermitID  `json:"id"`
	TenantID         id.TenantID  `json:"tenant_id"`
	VehicleID        id.VehicleID `json:"vehicle_id"`
	PermitType       string       `json:"permit_type"`
	ReferenceNumber  string       `json:"reference_number"`
	IssuingAuthority string       `json:"issuing_authority"`
	Route            string       `json:"route,omitempty"`
	Start            time.Time    `json:"start_date"`
	End              time.Time    `json:"end_date"`
	Lifecycle
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NewPermit validates and constructs a draft permit.
func NewPermit(tenantID id.TenantID, vehicleID id.VehicleID, permitType, referenceNumber, issuingAuthority string, start, end time.Time, now time.Time) (*Permit, error) {
	permitType = strings.TrimSpace(permitType)
	if permitType == "" {
		return nil, domainerrors.NewValidation("permit_type", "cannot be empty")
	}
	if strings.TrimSpace(referenceNumber) == "" {
		return nil, domainerrors.NewValidation("reference_number", "cannot be empty")
	}
	if err := ValidateDates(start, end); err != nil {
		return nil, err
	}
	return &Permit{
		ID:               id.NewPermitID(),
		TenantID:         tenantID,
		VehicleID:        vehicleID,
		PermitType:       permitType,
		ReferenceNumber:  referenceNumber,
		IssuingAuthority: issuingAuthority,
		Start:            DateOnly(start),
		End:              DateOnly(end),
		Lifecycle:        Lifecycle{Status: StatusDraft},
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (p *Permit) RecordKind() Kind              { return KindPermit }
func (p *Permit) RecordID() string              { return p.ID.String() }
func (p *Permit) RecordTenantID() id.TenantID   { return p.TenantID }
func (p *Permit) RecordVehicleID() id.VehicleID { return p.VehicleID }
func (p *Permit) ConflictKey() string           { return p.PermitType }
func (p *Permit) StartDate() time.Time          { return p.Start }
func (p *Permit) EndDate() time.Time            { return p.End }
func (p *Permit) Life() *Lifecycle              { return &p.Lifecycle }
