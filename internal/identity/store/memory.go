package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"bima/internal/identity/models"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

// InMemory is the test double for the user store.
type InMemory struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

// NewInMemory builds an empty in-memory user store.
func NewInMemory() *InMemory {
	return &InMemory{users: make(map[id.UserID]*models.User)}
}

func (s *InMemory) Create(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.DeletedAt == nil && strings.EqualFold(existing.Email, u.Email) {
			return sentinel.ErrConflict
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) Update(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *InMemory) RecordLoginFailure(ctx context.Context, userID id.UserID, threshold int, lockedUntil time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	u.FailedLoginCount++
	if u.FailedLoginCount >= threshold {
		until := lockedUntil
		u.LockedUntil = &until
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) ClearLoginFailures(ctx context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	u.FailedLoginCount = 0
	u.LockedUntil = nil
	return nil
}

func (s *InMemory) ListByTenantRoles(ctx context.Context, tenantID id.TenantID, roles []models.Role) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[models.Role]bool, len(roles))
	for _, r := range roles {
		want[r] = true
	}
	var out []*models.User
	for _, u := range s.users {
		if u.DeletedAt != nil || u.TenantID == nil || *u.TenantID != tenantID {
			continue
		}
		if len(roles) == 0 || want[u.Role] {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}
