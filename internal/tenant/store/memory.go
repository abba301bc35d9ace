package store

import (
	"context"
	"strings"
	"sync"

	"bima/internal/tenant/models"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

// InMemory is the test double for the tenant store. It mirrors the postgres
// store's uniqueness behavior so service tests exercise real conflicts.
type InMemory struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*models.Tenant
}

// NewInMemory builds an empty in-memory tenant store.
func NewInMemory() *InMemory {
	return &InMemory{tenants: make(map[id.TenantID]*models.Tenant)}
}

func (s *InMemory) Create(ctx context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tenants {
		if existing.DeletedAt == nil && strings.EqualFold(existing.Slug, t.Slug) {
			return sentinel.ErrConflict
		}
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok || t.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.DeletedAt == nil && strings.EqualFold(t.Slug, slug) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Update(ctx context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *InMemory) List(ctx context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		if t.DeletedAt == nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
