package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

// InMemoryStore is the test double for the notification store.
type InMemoryStore struct {
	mu     sync.RWMutex
	rows   map[id.NotificationID]*Notification
	dedupe map[string]bool
}

// NewInMemoryStore builds an empty in-memory notification store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rows:   make(map[id.NotificationID]*Notification),
		dedupe: make(map[string]bool),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, n *Notification) (bool, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.DedupeKey != "" && s.dedupe[n.DedupeKey] {
		return false, nil
	}
	cp := *n
	cp.TenantID = tenant.ID
	s.rows[n.ID] = &cp
	if n.DedupeKey != "" {
		s.dedupe[n.DedupeKey] = true
	}
	return true, nil
}

func (s *InMemoryStore) ListByUser(ctx context.Context, userID id.UserID, unreadOnly bool, page id.Page) ([]*Notification, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Notification
	for _, n := range s.rows {
		if n.TenantID != tenant.ID || n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	page = page.Normalize()
	start := page.Offset()
	if start >= len(out) {
		return nil, nil
	}
	end := start + page.Size
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *InMemoryStore) MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID, at time.Time) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[notificationID]
	if !ok || n.TenantID != tenant.ID || n.UserID != userID {
		return sentinel.ErrNotFound
	}
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	return nil
}

// All returns every row, for test assertions.
func (s *InMemoryStore) All() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Notification, 0, len(s.rows))
	for _, n := range s.rows {
		cp := *n
		out = append(out, &cp)
	}
	return out
}
