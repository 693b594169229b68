package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rc, err := NewRedisCache(ctx, RedisOptions{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRedisCache(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()

	_, err := rc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, rc.Set(ctx, "a:1", []byte("one"), time.Minute))
	require.NoError(t, rc.Set(ctx, "a:2", []byte("two"), time.Minute))
	require.NoError(t, rc.Set(ctx, "b:1", []byte("three"), 0))

	got, err := rc.Get(ctx, "a:1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	require.NoError(t, rc.Clear(ctx, "a:*"))
	exists, err := rc.Exists(ctx, "a:2")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, rc.Delete(ctx, "b:1"))
	exists, err = rc.Exists(ctx, "b:1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, rc.Ping(ctx))
}

func TestRedisSessionStatusStore(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	store := NewSessionStatusStore(rc, time.Minute, time.Hour)

	require.NoError(t, store.MarkRevoked(ctx, "s1"))
	revoked, found, err := store.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, revoked)
}
