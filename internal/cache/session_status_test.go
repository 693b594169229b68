package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusStore(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestMemoryCache(t)
	store := NewSessionStatusStore(mc, 30*time.Second, 15*time.Minute)

	_, found, err := store.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.MarkActive(ctx, "s1"))
	revoked, found, err := store.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, revoked)

	clock.Advance(31 * time.Second)
	_, found, err = store.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found, "active markers expire quickly")

	require.NoError(t, store.MarkRevoked(ctx, "s1"))
	clock.Advance(10 * time.Minute)
	revoked, found, err = store.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, revoked)
}

type failingCache struct{ Cache }

func (failingCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestSessionStatusStorePropagatesBackendErrors(t *testing.T) {
	store := NewSessionStatusStore(failingCache{}, 0, 0)
	_, _, err := store.Lookup(context.Background(), "s1")
	assert.EqualError(t, err, "connection refused")
}
