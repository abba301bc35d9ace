// Package session implements opaque server-side sessions. The cookie value
// is a random token; all state lives in the session store and is rotated on
// every login. A per-session CSRF token guards state-changing requests.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Session is the server-side state behind one cookie.
type Session struct {
	Token     string       `json:"-"`
	UserID    id.UserID    `json:"user_id"`
	TenantID  *id.TenantID `json:"tenant_id,omitempty"`
	CSRFToken string       `json:"csrf_token"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Store persists sessions keyed by opaque token.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Find(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

// Manager creates, resolves, and rotates sessions.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
}

// NewManager builds a session manager. secret keys the CSRF token HMAC.
func NewManager(store Store, secret string, ttl time.Duration) *Manager {
	return &Manager{store: store, secret: []byte(secret), ttl: ttl}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create opens a fresh session for the user. Callers discard any prior
// session first (rotation on login).
func (m *Manager) Create(ctx context.Context, userID id.UserID, tenantID *id.TenantID, now time.Time) (*Session, error) {
	token, err := randomToken()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to generate session token")
	}
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	s := &Session{
		Token:     token,
		UserID:    userID,
		TenantID:  tenantID,
		CSRFToken: base64.RawURLEncoding.EncodeToString(mac.Sum(nil)),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to save session")
	}
	return s, nil
}

// Resolve loads and validates a session from its cookie token.
func (m *Manager) Resolve(ctx context.Context, token string, now time.Time) (*Session, error) {
	if token == "" {
		return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "no session")
	}
	s, err := m.store.Find(ctx, token)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "invalid session")
	}
	if now.After(s.ExpiresAt) {
		_ = m.store.Delete(ctx, token)
		return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "session expired")
	}
	s.Token = token
	return s, nil
}

// Destroy ends a session.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	return m.store.Delete(ctx, token)
}

// ValidCSRF compares a submitted CSRF token against the session's in
// constant time.
func (m *Manager) ValidCSRF(s *Session, submitted string) bool {
	return submitted != "" && hmac.Equal([]byte(s.CSRFToken), []byte(submitted))
}
