// Package sentinel holds infrastructure-level sentinel errors. Stores return
// these (optionally wrapped) so services can translate them into coded
// domain errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: row does not exist in the store (or belongs to another tenant)
//   - ErrConflict: uniqueness or concurrent-modification conflict
//   - ErrInvalidState: entity in the wrong state for the requested operation
//   - ErrUnavailable: backing service temporarily unavailable
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
