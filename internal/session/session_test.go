package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

func newManager() *Manager {
	return NewManager(NewInMemoryStore(), "test-secret", time.Hour)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	userID := id.NewUserID()

	sess, err := m.Create(ctx, userID, nil, now)
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	require.NotEmpty(t, sess.CSRFToken)

	t.Run("resolves while valid", func(t *testing.T) {
		got, err := m.Resolve(ctx, sess.Token, now.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, userID, got.UserID)
	})

	t.Run("expires after ttl", func(t *testing.T) {
		_, err := m.Resolve(ctx, sess.Token, now.Add(2*time.Hour))
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		_, err := m.Resolve(ctx, "bogus", now)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
	})

	t.Run("destroy ends the session", func(t *testing.T) {
		fresh, err := m.Create(ctx, userID, nil, now)
		require.NoError(t, err)
		require.NoError(t, m.Destroy(ctx, fresh.Token))
		_, err = m.Resolve(ctx, fresh.Token, now)
		assert.Error(t, err)
	})
}

func TestTokensAreUnique(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	now := time.Now()

	a, err := m.Create(ctx, id.NewUserID(), nil, now)
	require.NoError(t, err)
	b, err := m.Create(ctx, id.NewUserID(), nil, now)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.CSRFToken, b.CSRFToken)
}

func TestCSRFValidation(t *testing.T) {
	ctx := context.Background()
	m := newManager()
	sess, err := m.Create(ctx, id.NewUserID(), nil, time.Now())
	require.NoError(t, err)

	assert.True(t, m.ValidCSRF(sess, sess.CSRFToken))
	assert.False(t, m.ValidCSRF(sess, ""))
	assert.False(t, m.ValidCSRF(sess, "forged"))
}
