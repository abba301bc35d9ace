// Package tenantctx carries the active tenant binding for a request or
// background task. The binding is an explicit immutable value in context —
// never process-global — and the store layer refuses to touch tenant-scoped
// tables without it.
package tenantctx

import (
	"context"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// DefaultExpiryReminderDays is used when a tenant has no override configured.
const DefaultExpiryReminderDays = 30

// PermitTypeLATRA is the permit type of a LATRA licence. It is required only
// for tenants that list it in RequiredPermitTypes.
const PermitTypeLATRA = "latra_license"

// Settings is the typed view of a tenant's configuration.
type Settings struct {
	ExpiryReminderDays   int      `json:"expiry_reminder_days"`
	FleetPoliciesEnabled bool     `json:"fleet_policies_enabled"`
	RequiredPermitTypes  []string `json:"required_permit_types"`
	RenewalGapDays       int      `json:"renewal_gap_days"`
}

// DefaultSettings returns the settings applied to a newly created tenant.
// Required permit types are opt-in: passenger-transport tenants add
// PermitTypeLATRA via their settings.
func DefaultSettings() Settings {
	return Settings{
		ExpiryReminderDays: DefaultExpiryReminderDays,
		RenewalGapDays:     1,
	}
}

// ActiveTenant pins the tenant identity for the duration of an operation.
type ActiveTenant struct {
	ID       id.TenantID
	Slug     string
	Name     string
	Settings Settings
}

type ctxKey struct{}

// With binds an active tenant to the context.
func With(ctx context.Context, t ActiveTenant) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// From extracts the active tenant if bound.
func From(ctx context.Context) (ActiveTenant, bool) {
	t, ok := ctx.Value(ctxKey{}).(ActiveTenant)
	return t, ok
}

// Require extracts the active tenant or fails with the tenant-unbound code.
// Every tenant-scoped store method calls this before composing a query.
func Require(ctx context.Context) (ActiveTenant, error) {
	t, ok := From(ctx)
	if !ok || t.ID.IsNil() {
		return ActiveTenant{}, domainerrors.New(domainerrors.CodeTenantUnbound, "operation requires an active tenant")
	}
	return t, nil
}
