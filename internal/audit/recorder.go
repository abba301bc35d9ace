package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	id "bima/pkg/domain"
	"bima/pkg/requestcontext"
)

// Store appends audit entries. Implementations must reject update and delete;
// the log is append-only by construction.
type Store interface {
	Append(ctx context.Context, e Entry) error
	ListByEntity(ctx context.Context, entityKind, entityID string) ([]Entry, error)
}

// Recorder is the single write path for audit entries. Services call it
// inside the same transaction as the mutation; the tx travels in ctx.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder builds a recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record completes the entry (id, timestamp, actor) and appends it.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = requestcontext.Now(ctx)
	}
	if e.ActorID == nil {
		if actor := requestcontext.ActorID(ctx); !actor.IsNil() {
			e.ActorID = &actor
		}
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeApplied
	}
	if err := r.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// RecordRejection audits a transition attempt that failed a guard.
// Audit failures on the rejection path are logged, not propagated: the guard
// error is what the caller must see.
func (r *Recorder) RecordRejection(ctx context.Context, tenantID *id.TenantID, entityKind, entityID, reason string) {
	err := r.Record(ctx, Entry{
		TenantID:   tenantID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Action:     ActionTransition,
		Outcome:    OutcomeRejected,
		Reason:     reason,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to audit rejected transition",
			"entity_kind", entityKind, "entity_id", entityID, "error", err)
	}
}

// Snapshot marshals an entity for the before/after columns.
func Snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"_marshal_error":%q}`, err.Error()))
	}
	return b
}
