// Package models defines the time-bound compliance records (policies and
// permits), their shared lifecycle, and the payment ledger.
package models

import (
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Status is the lifecycle state shared by policies and permits.
// pending_payment is a policy-only intermediate; permits go draft → active.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Kind distinguishes the two record families.
type Kind string

const (
	KindPolicy Kind = "policy"
	KindPermit Kind = "permit"
)

// CancellationReason is the controlled vocabulary for cancel transitions.
// Policies and permits share most values but not all.
type CancellationReason string

const (
	ReasonCustomerRequest CancellationReason = "customer_request"
	ReasonNonPayment      CancellationReason = "non_payment"
	ReasonVehicleSold     CancellationReason = "vehicle_sold"
	ReasonDuplicate       CancellationReason = "duplicate"
	ReasonDataError       CancellationReason = "data_error"
	ReasonExpiredEarly    CancellationReason = "expired_early"
	ReasonOther           CancellationReason = "other"
)

var policyReasons = map[CancellationReason]bool{
	ReasonCustomerRequest: true,
	ReasonNonPayment:      true,
	ReasonVehicleSold:     true,
	ReasonDuplicate:       true,
	ReasonDataError:       true,
	ReasonOther:           true,
}

var permitReasons = map[CancellationReason]bool{
	ReasonCustomerRequest: true,
	ReasonVehicleSold:     true,
	ReasonDuplicate:       true,
	ReasonDataError:       true,
	ReasonExpiredEarly:    true,
	ReasonOther:           true,
}

// ValidReason reports whether reason is allowed for the record kind.
func ValidReason(kind Kind, reason CancellationReason) bool {
	if kind == KindPolicy {
		return policyReasons[reason]
	}
	return permitReasons[reason]
}

// Lifecycle carries the state and closure fields common to both kinds.
// Once a record leaves draft/pending_payment, everything outside these
// closure fields is frozen.
type Lifecycle struct {
	Status             Status              `json:"status"`
	ActivatedAt        *time.Time          `json:"activated_at,omitempty"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy        *id.UserID          `json:"cancelled_by,omitempty"`
	CancellationReason *CancellationReason `json:"cancellation_reason,omitempty"`
	CancellationNote   string              `json:"cancellation_note,omitempty"`
}

// IsImmutable reports whether non-closure attributes are frozen.
func (l *Lifecycle) IsImmutable() bool {
	switch l.Status {
	case StatusActive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (l *Lifecycle) IsTerminal() bool {
	return l.Status == StatusCancelled || l.Status == StatusExpired
}

// Record is the shape the lifecycle engine operates on. Policy and Permit
// implement it; the engine never branches on the concrete type beyond the
// policy-only payment guard.
type Record interface {
	RecordKind() Kind
	RecordID() string
	RecordTenantID() id.TenantID
	RecordVehicleID() id.VehicleID
	// ConflictKey narrows the single-active invariant: empty for policies
	// (one active policy per vehicle), the permit type for permits (one
	// active permit per vehicle and type).
	ConflictKey() string
	StartDate() time.Time
	EndDate() time.Time
	Life() *Lifecycle
}

// ValidateDates enforces end_date > start_date.
func ValidateDates(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return domainerrors.NewValidation("dates", "start_date and end_date are required")
	}
	if !end.After(start) {
		return domainerrors.NewValidation("end_date", "must be after start_date")
	}
	return nil
}

// ActiveWindow reconstructs the interval during which the record is (or was)
// in force: from activation until cancellation, the end-of-end_date boundary
// when expired, or open-ended while still active.
func ActiveWindow(r Record) (from time.Time, to *time.Time, ok bool) {
	l := r.Life()
	if l.ActivatedAt == nil {
		return time.Time{}, nil, false
	}
	from = *l.ActivatedAt
	switch l.Status {
	case StatusCancelled:
		if l.CancelledAt != nil {
			to = l.CancelledAt
		}
	case StatusExpired:
		boundary := EndOfDay(r.EndDate())
		to = &boundary
	case StatusActive:
		// open-ended
	default:
		return time.Time{}, nil, false
	}
	return from, to, true
}

// IsActiveAt reports whether the record was in force at instant t.
func IsActiveAt(r Record, t time.Time) bool {
	from, to, ok := ActiveWindow(r)
	if !ok || t.Before(from) {
		return false
	}
	return to == nil || t.Before(*to)
}

// EndOfDay returns the last instant of d's calendar day (UTC date semantics).
func EndOfDay(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, int(time.Second-time.Nanosecond), d.Location())
}

// DateOnly truncates t to its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
