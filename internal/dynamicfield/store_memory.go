package dynamicfield

import (
	"context"
	"sort"
	"sync"

	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

type valueKey struct {
	defID    id.FieldDefinitionID
	entityID string
}

// InMemoryStore is the test double for the dynamic field store.
type InMemoryStore struct {
	mu          sync.RWMutex
	definitions map[id.FieldDefinitionID]*Definition
	values      map[valueKey]*Value
}

// NewInMemoryStore builds an empty in-memory dynamic field store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		definitions: make(map[id.FieldDefinitionID]*Definition),
		values:      make(map[valueKey]*Value),
	}
}

func (s *InMemoryStore) CreateDefinition(ctx context.Context, d *Definition) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.definitions {
		if existing.TenantID == tenant.ID && existing.EntityKind == d.EntityKind && existing.Key == d.Key {
			return sentinel.ErrConflict
		}
	}
	cp := *d
	cp.TenantID = tenant.ID
	s.definitions[d.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetDefinition(ctx context.Context, defID id.FieldDefinitionID) (*Definition, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.definitions[defID]
	if !ok || d.TenantID != tenant.ID {
		return nil, sentinel.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *InMemoryStore) UpdateDefinition(ctx context.Context, d *Definition) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.definitions[d.ID]
	if !ok || existing.TenantID != tenant.ID {
		return sentinel.ErrNotFound
	}
	cp := *d
	cp.TenantID = tenant.ID
	s.definitions[d.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListDefinitions(ctx context.Context, entityKind EntityKind, activeOnly bool) ([]*Definition, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Definition
	for _, d := range s.definitions {
		if d.TenantID != tenant.ID || d.EntityKind != entityKind {
			continue
		}
		if activeOnly && !d.IsActive {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemoryStore) UpsertValue(ctx context.Context, v *Value) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	cp.TenantID = tenant.ID
	s.values[valueKey{defID: v.DefinitionID, entityID: v.EntityID}] = &cp
	return nil
}

func (s *InMemoryStore) ListValues(ctx context.Context, entityKind EntityKind, entityID string) ([]*Value, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Value
	for _, v := range s.values {
		if v.TenantID == tenant.ID && v.EntityKind == entityKind && v.EntityID == entityID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) EntityIDsWhere(ctx context.Context, defID id.FieldDefinitionID, needle string) ([]string, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, v := range s.values {
		if v.TenantID != tenant.ID || v.DefinitionID != defID {
			continue
		}
		if (v.Text != nil && *v.Text == needle) || (v.Choice != nil && *v.Choice == needle) {
			out = append(out, v.EntityID)
		}
	}
	sort.Strings(out)
	return out, nil
}
