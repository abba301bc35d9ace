// Package models defines the fleet aggregates: customers, vehicles, and
// ownership intervals.
package models

import (
	"strings"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// CustomerKind distinguishes individuals from companies.
type CustomerKind string

const (
	CustomerIndividual CustomerKind = "individual"
	CustomerCompany    CustomerKind = "company"
)

// Customer owns zero or more vehicles. Soft-delete only; history preserved.
type Customer struct {
	ID          id.CustomerID `json:"id"`
	TenantID    id.TenantID   `json:"tenant_id"`
	Kind        CustomerKind  `json:"kind"`
	DisplayName string        `json:"display_name"`
	Email       string        `json:"email,omitempty"`
	Phone       string        `json:"phone,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	DeletedAt   *time.Time    `json:"deleted_at,omitempty"`
}

// NewCustomer validates and constructs a customer.
func NewCustomer(tenantID id.TenantID, kind CustomerKind, displayName, email, phone string, now time.Time) (*Customer, error) {
	if kind != CustomerIndividual && kind != CustomerCompany {
		return nil, domainerrors.NewValidation("kind", "must be individual or company")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, domainerrors.NewValidation("display_name", "cannot be empty")
	}
	return &Customer{
		ID:          id.NewCustomerID(),
		TenantID:    tenantID,
		Kind:        kind,
		DisplayName: displayName,
		Email:       strings.ToLower(strings.TrimSpace(email)),
		Phone:       strings.TrimSpace(phone),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
