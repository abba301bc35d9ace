// Package report exposes tenant-scoped read projections for dashboards and
// exports. Results are plain data; rendering is external.
package report

import (
	"context"
	"time"

	compliancemodels "bima/internal/compliance/models"
	complianceservice "bima/internal/compliance/service"
	fleetmodels "bima/internal/fleet/models"
	fleetstore "bima/internal/fleet/store"
	identitymodels "bima/internal/identity/models"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// ComplianceReader is the slice of the compliance service the projections use.
type ComplianceReader interface {
	VehicleStatus(ctx context.Context, vehicleID id.VehicleID, asOf time.Time, riskWindowDays int) (*complianceservice.VehicleCompliance, error)
}

// RecordStore supplies the record listings.
type RecordStore interface {
	ListAllPolicies(ctx context.Context) ([]*compliancemodels.Policy, error)
	ListAllPermits(ctx context.Context) ([]*compliancemodels.Permit, error)
	ListPaymentsByPolicy(ctx context.Context, policyID id.PolicyID) ([]*compliancemodels.Payment, error)
}

// FleetStore supplies vehicle listings.
type FleetStore interface {
	ListVehicles(ctx context.Context, filter fleetstore.VehicleFilter, page id.Page) ([]*fleetmodels.Vehicle, error)
	GetVehicle(ctx context.Context, vehicleID id.VehicleID) (*fleetmodels.Vehicle, error)
}

// Authorizer checks the role matrix.
type Authorizer interface {
	Authorize(ctx context.Context, user *identitymodels.User, op identitymodels.Operation) error
}

// Service implements the projections.
type Service struct {
	records    RecordStore
	fleet      FleetStore
	compliance ComplianceReader
	authz      Authorizer
}

// New builds the report service.
func New(records RecordStore, fleet FleetStore, compliance ComplianceReader, authz Authorizer) *Service {
	return &Service{records: records, fleet: fleet, compliance: compliance, authz: authz}
}

// PolicyFilter narrows policy projections.
type PolicyFilter struct {
	Status      compliancemodels.Status
	VehicleType fleetmodels.VehicleType
	EndFrom     time.Time
	EndTo       time.Time
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// Policies lists policies matching the filter, oldest first (creation order).
func (s *Service) Policies(ctx context.Context, actor *identitymodels.User, filter PolicyFilter, page id.Page) ([]*compliancemodels.Policy, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpViewReports); err != nil {
		return nil, err
	}
	all, err := s.records.ListAllPolicies(ctx)
	if err != nil {
		return nil, err
	}
	var typeFilter map[id.VehicleID]bool
	if filter.VehicleType != "" {
		typeFilter, err = s.vehicleIDsOfType(ctx, filter.VehicleType)
		if err != nil {
			return nil, err
		}
	}
	var matched []*compliancemodels.Policy
	for _, p := range all {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if typeFilter != nil && !typeFilter[p.VehicleID] {
			continue
		}
		if !filter.EndFrom.IsZero() && p.End.Before(filter.EndFrom) {
			continue
		}
		if !filter.EndTo.IsZero() && p.End.After(filter.EndTo) {
			continue
		}
		if !filter.CreatedFrom.IsZero() && p.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && p.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		matched = append(matched, p)
	}
	return pageOf(matched, page), nil
}

// ActivePolicies is the standing dashboard projection.
func (s *Service) ActivePolicies(ctx context.Context, actor *identitymodels.User, page id.Page) ([]*compliancemodels.Policy, error) {
	return s.Policies(ctx, actor, PolicyFilter{Status: compliancemodels.StatusActive}, page)
}

// ExpiredPolicies lists policies that have run out.
func (s *Service) ExpiredPolicies(ctx context.Context, actor *identitymodels.User, page id.Page) ([]*compliancemodels.Policy, error) {
	return s.Policies(ctx, actor, PolicyFilter{Status: compliancemodels.StatusExpired}, page)
}

// PermitFilter narrows permit projections.
type PermitFilter struct {
	Status     compliancemodels.Status
	PermitType string
	EndFrom    time.Time
	EndTo      time.Time
}

// Permits lists permits matching the filter.
func (s *Service) Permits(ctx context.Context, actor *identitymodels.User, filter PermitFilter, page id.Page) ([]*compliancemodels.Permit, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpViewReports); err != nil {
		return nil, err
	}
	all, err := s.records.ListAllPermits(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*compliancemodels.Permit
	for _, p := range all {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.PermitType != "" && p.PermitType != filter.PermitType {
			continue
		}
		if !filter.EndFrom.IsZero() && p.End.Before(filter.EndFrom) {
			continue
		}
		if !filter.EndTo.IsZero() && p.End.After(filter.EndTo) {
			continue
		}
		matched = append(matched, p)
	}
	return pageOf(matched, page), nil
}

// VehiclesRegisteredBetween lists vehicles created inside the range.
func (s *Service) VehiclesRegisteredBetween(ctx context.Context, actor *identitymodels.User, from, to time.Time, page id.Page) ([]*fleetmodels.Vehicle, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpViewReports); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, domainerrors.NewValidation("date_range", "end precedes start")
	}
	all, err := s.fleet.ListVehicles(ctx, fleetstore.VehicleFilter{}, id.Page{Number: 1, Size: id.MaxPageSize})
	if err != nil {
		return nil, err
	}
	var matched []*fleetmodels.Vehicle
	for _, v := range all {
		if v.CreatedAt.Before(from) || v.CreatedAt.After(to) {
			continue
		}
		matched = append(matched, v)
	}
	return pageOf(matched, page), nil
}

// VehicleSnapshot is the per-vehicle compliance projection.
func (s *Service) VehicleSnapshot(ctx context.Context, actor *identitymodels.User, vehicleID id.VehicleID, asOf time.Time) (*complianceservice.VehicleCompliance, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpViewReports); err != nil {
		return nil, err
	}
	return s.compliance.VehicleStatus(ctx, vehicleID, asOf, 0)
}

// PaymentsLedger lists the payments recorded against a policy.
func (s *Service) PaymentsLedger(ctx context.Context, actor *identitymodels.User, policyID id.PolicyID) ([]*compliancemodels.Payment, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpViewReports); err != nil {
		return nil, err
	}
	return s.records.ListPaymentsByPolicy(ctx, policyID)
}

func (s *Service) vehicleIDsOfType(ctx context.Context, t fleetmodels.VehicleType) (map[id.VehicleID]bool, error) {
	vehicles, err := s.fleet.ListVehicles(ctx, fleetstore.VehicleFilter{VehicleType: t}, id.Page{Number: 1, Size: id.MaxPageSize})
	if err != nil {
		return nil, err
	}
	out := make(map[id.VehicleID]bool, len(vehicles))
	for _, v := range vehicles {
		out[v.ID] = true
	}
	return out, nil
}

func pageOf[T any](in []*T, page id.Page) []*T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(in) {
		return nil
	}
	end := start + page.Size
	if end > len(in) {
		end = len(in)
	}
	return in[start:end]
}
