// Package httptransport is the thin HTTP layer. Handlers delegate to domain
// services and translate coded errors into JSON envelopes; the one rule
// decided here is which roles and tenant a user creator may assign
// (handleCreateUser).
package httptransport

import (
	"encoding/json"
	"net/http"

	domainerrors "bima/pkg/domain-errors"
)

type errorEnvelope struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondError maps domain error codes onto HTTP statuses. Everything
// unrecognized is an opaque 500; internals never leak.
func respondError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case domainerrors.CodeValidation:
		status = http.StatusBadRequest
	case domainerrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case domainerrors.CodeForbidden, domainerrors.CodeTenantUnbound:
		status = http.StatusForbidden
	case domainerrors.CodeNotFound:
		status = http.StatusNotFound
	case domainerrors.CodeConflict, domainerrors.CodeOverlap, domainerrors.CodeInvalidTransition, domainerrors.CodeImmutable:
		status = http.StatusConflict
	case domainerrors.CodePaymentIncomplete:
		status = http.StatusUnprocessableEntity
	case domainerrors.CodeLocked:
		status = http.StatusTooManyRequests
	}
	env := errorEnvelope{Error: string(code)}
	var de *domainerrors.Error
	if ok := asDomainError(err, &de); ok {
		env.Field = de.Field
		if status < http.StatusInternalServerError {
			env.Detail = de.Message
		}
	}
	respondJSON(w, status, env)
}

func asDomainError(err error, target **domainerrors.Error) bool {
	for err != nil {
		if de, ok := err.(*domainerrors.Error); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainerrors.New(domainerrors.CodeValidation, "malformed JSON body")
	}
	return nil
}
