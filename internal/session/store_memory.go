package session

import (
	"context"
	"sync"

	"bima/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in a map. Used in tests and single-process
// deployments without Redis.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewInMemoryStore builds an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

func (s *InMemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = *sess
	return nil
}

func (s *InMemoryStore) Find(ctx context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := sess
	return &cp, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
