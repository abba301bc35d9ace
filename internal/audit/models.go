// Package audit records every mutation and attempted transition as an
// append-only log. Entries are written in the same transaction as the state
// change they describe and mirrored to a transactional outbox for the event
// stream.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "bima/pkg/domain"
)

// Action classifies what happened to the entity.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionSoftDelete Action = "soft_delete"
	ActionTransition Action = "transition"
)

// Outcome distinguishes applied mutations from guard-rejected attempts.
// Rejected transitions are audited too so abuse and conflict patterns stay
// observable.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   *id.TenantID    `json:"tenant_id,omitempty"` // nil for platform-level operations
	ActorID    *id.UserID      `json:"actor_id,omitempty"`  // nil for background tasks
	At         time.Time       `json:"at"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Action     Action          `json:"action"`
	Outcome    Outcome         `json:"outcome"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}
