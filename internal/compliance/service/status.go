package service

import (
	"context"
	"fmt"
	"time"

	"bima/internal/compliance/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
)

// ComplianceStatus is the derived state of one vehicle.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusAtRisk       ComplianceStatus = "at_risk"
	StatusNonCompliant ComplianceStatus = "non_compliant"
)

// ExpiringItem identifies an active record inside the risk window.
type ExpiringItem struct {
	Kind       models.Kind `json:"kind"`
	ID         string      `json:"id"`
	PermitType string      `json:"permit_type,omitempty"`
	EndDate    time.Time   `json:"end_date"`
}

// VehicleCompliance is the full result for one vehicle at one instant.
type VehicleCompliance struct {
	VehicleID id.VehicleID     `json:"vehicle_id"`
	AsOf      time.Time        `json:"as_of"`
	Status    ComplianceStatus `json:"status"`
	Issues    []string         `json:"issues"`
	Expiring  []ExpiringItem   `json:"expiring"`
}

// Summary aggregates a tenant's fleet.
type Summary struct {
	Total        int `json:"total"`
	Compliant    int `json:"compliant"`
	AtRisk       int `json:"at_risk"`
	NonCompliant int `json:"non_compliant"`
}

// VehicleStatus computes the compliance state of one vehicle at asOf.
// Historic asOf values are answered from active windows, so the answer for a
// past date equals what would have been computed on that date.
//
// A record activated ahead of its start_date is not in force until the
// start_date arrives.
func (s *Service) VehicleStatus(ctx context.Context, vehicleID id.VehicleID, asOf time.Time, riskWindowDays int) (*VehicleCompliance, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.vehicles.VehicleExists(ctx, vehicleID); err != nil {
		return nil, err
	}
	if riskWindowDays <= 0 {
		riskWindowDays = tenant.Settings.ExpiryReminderDays
	}
	if riskWindowDays <= 0 {
		riskWindowDays = tenantctx.DefaultExpiryReminderDays
	}

	policies, err := s.store.ListPoliciesByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	permits, err := s.store.ListPermitsByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	var records []models.Record
	for _, p := range policies {
		records = append(records, p)
	}
	for _, p := range permits {
		records = append(records, p)
	}

	result := evaluate(vehicleID, asOf, riskWindowDays, tenant.Settings.RequiredPermitTypes, records)
	return result, nil
}

// evaluate is the pure status computation shared by VehicleStatus and
// TenantSummary.
func evaluate(vehicleID id.VehicleID, asOf time.Time, riskWindowDays int, requiredPermitTypes []string, records []models.Record) *VehicleCompliance {
	day := models.DateOnly(asOf)
	riskThreshold := day.AddDate(0, 0, riskWindowDays)

	inForceAt := func(r models.Record) bool {
		return models.IsActiveAt(r, asOf) && !models.DateOnly(r.StartDate()).After(day)
	}

	issues := []string{}
	expiring := []ExpiringItem{}

	insurance := false
	for _, r := range records {
		if r.RecordKind() == models.KindPolicy && inForceAt(r) {
			insurance = true
			break
		}
	}
	if !insurance {
		issues = append(issues, "no active insurance")
	}

	permitActive := make(map[string]bool)
	for _, r := range records {
		if r.RecordKind() == models.KindPermit && inForceAt(r) {
			permitActive[r.ConflictKey()] = true
		}
	}
	for _, required := range requiredPermitTypes {
		if !permitActive[required] {
			issues = append(issues, fmt.Sprintf("no active %s permit", required))
		}
	}

	for _, r := range records {
		if !inForceAt(r) {
			continue
		}
		end := models.DateOnly(r.EndDate())
		if end.Before(day) {
			issues = append(issues, fmt.Sprintf("%s expired on %s", r.RecordKind(), end.Format("2006-01-02")))
			continue
		}
		if !end.After(riskThreshold) {
			item := ExpiringItem{Kind: r.RecordKind(), ID: r.RecordID(), EndDate: end}
			if r.RecordKind() == models.KindPermit {
				item.PermitType = r.ConflictKey()
			}
			expiring = append(expiring, item)
		}
	}

	status := StatusCompliant
	switch {
	case len(issues) > 0:
		status = StatusNonCompliant
	case len(expiring) > 0:
		status = StatusAtRisk
	}
	return &VehicleCompliance{
		VehicleID: vehicleID,
		AsOf:      asOf,
		Status:    status,
		Issues:    issues,
		Expiring:  expiring,
	}
}

// TenantSummary aggregates compliance across the fleet with one record scan
// per family rather than per-vehicle queries.
func (s *Service) TenantSummary(ctx context.Context, asOf time.Time) (*Summary, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	vehicleIDs, err := s.vehicles.ListVehicleIDs(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	riskWindow := tenant.Settings.ExpiryReminderDays
	if riskWindow <= 0 {
		riskWindow = tenantctx.DefaultExpiryReminderDays
	}

	byVehicle := make(map[id.VehicleID][]models.Record, len(vehicleIDs))
	for _, vid := range vehicleIDs {
		byVehicle[vid] = nil
	}
	policies, err := s.store.ListAllPolicies(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	for _, p := range policies {
		if _, ok := byVehicle[p.VehicleID]; ok {
			byVehicle[p.VehicleID] = append(byVehicle[p.VehicleID], p)
		}
	}
	permits, err := s.store.ListAllPermits(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	for _, p := range permits {
		if _, ok := byVehicle[p.VehicleID]; ok {
			byVehicle[p.VehicleID] = append(byVehicle[p.VehicleID], p)
		}
	}

	summary := &Summary{Total: len(vehicleIDs)}
	for vid, records := range byVehicle {
		result := evaluate(vid, asOf, riskWindow, tenant.Settings.RequiredPermitTypes, records)
		switch result.Status {
		case StatusCompliant:
			summary.Compliant++
		case StatusAtRisk:
			summary.AtRisk++
		default:
			summary.NonCompliant++
		}
	}
	return summary, nil
}
