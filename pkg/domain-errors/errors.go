// Package domainerrors provides coded errors shared by services and the
// transport layer. Stores return sentinel errors (pkg/platform/sentinel);
// services translate them into coded errors from this package so handlers
// can map codes to HTTP statuses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, language-neutral error kind.
type Code string

const (
	// CodeTenantUnbound signals a repository operation without an active tenant.
	CodeTenantUnbound Code = "tenant_unbound"
	// CodeForbidden signals a role-based authorization failure.
	CodeForbidden Code = "forbidden"
	// CodeNotFound signals the entity does not exist or is outside the active tenant.
	CodeNotFound Code = "not_found"
	// CodeValidation signals input that violates schema, range, or format.
	CodeValidation Code = "validation"
	// CodeImmutable signals an edit attempted on an active/cancelled/expired record.
	CodeImmutable Code = "immutable"
	// CodeOverlap signals an activation that would violate the single-active invariant.
	CodeOverlap Code = "overlap"
	// CodePaymentIncomplete signals activation attempted on an underpaid policy.
	CodePaymentIncomplete Code = "payment_incomplete"
	// CodeInvalidTransition signals a state change not allowed from the current state.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeLocked signals an actor account currently locked out.
	CodeLocked Code = "locked"
	// CodeConflict signals a concurrent modification or uniqueness conflict.
	CodeConflict Code = "conflict"
	// CodeUnauthenticated signals missing or invalid credentials.
	CodeUnauthenticated Code = "unauthenticated"
	// CodeInternal signals an infrastructure failure; retriable by the caller.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Field is set for validation errors.
type Error struct {
	Code    Code
	Field   string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewValidation builds a validation error pinned to a field.
func NewValidation(field, detail string) error {
	return &Error{Code: CodeValidation, Field: field, Message: detail}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
