//go:build integration

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bima/internal/session"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	"bima/pkg/testutil/containers"
)

func TestRedisSessionStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	redis := containers.GetRedis(t)
	store := session.NewRedisStore(redis.Client)
	manager := session.NewManager(store, "test-secret", time.Hour)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		sess, err := manager.Create(ctx, id.NewUserID(), nil, time.Now())
		require.NoError(t, err)

		got, err := store.Find(ctx, sess.Token)
		require.NoError(t, err)
		assert.Equal(t, sess.UserID, got.UserID)
		assert.Equal(t, sess.CSRFToken, got.CSRFToken)
	})

	t.Run("delete removes the key", func(t *testing.T) {
		sess, err := manager.Create(ctx, id.NewUserID(), nil, time.Now())
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, sess.Token))

		_, err = store.Find(ctx, sess.Token)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("ttl expires the key", func(t *testing.T) {
		short := session.NewManager(store, "test-secret", 2*time.Second)
		sess, err := short.Create(ctx, id.NewUserID(), nil, time.Now())
		require.NoError(t, err)

		time.Sleep(3 * time.Second)
		_, err = store.Find(ctx, sess.Token)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
