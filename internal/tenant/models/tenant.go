// Package models defines the tenant aggregate.
package models

import (
	"regexp"
	"time"

	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Status is the tenant lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Tenant is the aggregate root for an insurance organization.
//
// Invariants:
//   - Slug is unique, URL-safe, immutable after creation
//   - Status transitions: active ↔ suspended only
//   - A suspended tenant's users cannot authenticate; enforced at login,
//     not by cascading status onto user rows
//   - Never soft-deleted while any business data exists
type Tenant struct {
	ID           id.TenantID        `json:"id"`
	Name         string             `json:"name"`
	Slug         string             `json:"slug"`
	Status       Status             `json:"status"`
	ContactEmail string             `json:"contact_email"`
	Settings     tenantctx.Settings `json:"settings"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	DeletedAt    *time.Time         `json:"deleted_at,omitempty"`
}

// New validates and constructs a tenant.
func New(tenantID id.TenantID, name, slug, contactEmail string, now time.Time) (*Tenant, error) {
	if name == "" {
		return nil, domainerrors.NewValidation("name", "cannot be empty")
	}
	if len([]rune(name)) > 255 {
		return nil, domainerrors.NewValidation("name", "must be 255 characters or less")
	}
	if !slugPattern.MatchString(slug) {
		return nil, domainerrors.NewValidation("slug", "must be lowercase letters, digits, and dashes")
	}
	return &Tenant{
		ID:           tenantID,
		Name:         name,
		Slug:         slug,
		Status:       StatusActive,
		ContactEmail: contactEmail,
		Settings:     tenantctx.DefaultSettings(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsActive reports whether tenant users may operate.
func (t *Tenant) IsActive() bool { return t.Status == StatusActive }

// Suspend transitions the tenant to suspended.
func (t *Tenant) Suspend(now time.Time) error {
	if t.Status == StatusSuspended {
		return domainerrors.New(domainerrors.CodeInvalidTransition, "tenant is already suspended")
	}
	t.Status = StatusSuspended
	t.UpdatedAt = now
	return nil
}

// Reactivate transitions the tenant back to active.
func (t *Tenant) Reactivate(now time.Time) error {
	if t.Status == StatusActive {
		return domainerrors.New(domainerrors.CodeInvalidTransition, "tenant is already active")
	}
	t.Status = StatusActive
	t.UpdatedAt = now
	return nil
}

// ActiveTenant converts the tenant into the context binding value.
func (t *Tenant) ActiveTenant() tenantctx.ActiveTenant {
	return tenantctx.ActiveTenant{
		ID:       t.ID,
		Slug:     t.Slug,
		Name:     t.Name,
		Settings: t.Settings,
	}
}
