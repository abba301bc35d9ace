// Package history stores one full snapshot per logical mutation of an
// auditable entity, supporting time-travel queries ("what was the policy at
// date D"). Snapshots are written in the same transaction as the mutation.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "bima/pkg/domain"
	"bima/pkg/requestcontext"
)

// Record is one immutable snapshot.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   *id.TenantID    `json:"tenant_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	Version    int             `json:"version"`
	Snapshot   json.RawMessage `json:"snapshot"`
	ActorID    *id.UserID      `json:"actor_id,omitempty"`
	At         time.Time       `json:"at"`
}

// Store appends and reads snapshots. No update or delete exists.
type Store interface {
	Append(ctx context.Context, r Record) error
	ListByEntity(ctx context.Context, entityKind, entityID string) ([]Record, error)
	// AsOf returns the newest snapshot at or before t, or sentinel.ErrNotFound.
	AsOf(ctx context.Context, entityKind, entityID string, t time.Time) (*Record, error)
}

// Snapshotter is the single write path services use.
type Snapshotter struct {
	store Store
}

// NewSnapshotter builds a snapshotter.
func NewSnapshotter(store Store) *Snapshotter {
	return &Snapshotter{store: store}
}

// Snapshot marshals entity and appends the next version for it.
func (s *Snapshotter) Snapshot(ctx context.Context, tenantID *id.TenantID, entityKind, entityID string, entity any) error {
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal history snapshot: %w", err)
	}
	r := Record{
		ID:         uuid.New(),
		TenantID:   tenantID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Snapshot:   raw,
		At:         requestcontext.Now(ctx),
	}
	if actor := requestcontext.ActorID(ctx); !actor.IsNil() {
		r.ActorID = &actor
	}
	if err := s.store.Append(ctx, r); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}
