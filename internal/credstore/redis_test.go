package credstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisLayer(t *testing.T) (*RedisLayer, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	inner := NewMemory()
	layer, err := NewRedisLayer(inner, mr.Addr(), "", 0, time.Minute, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = layer.Close() })

	return layer, inner, mr
}

func TestRedisLayer_ReadThroughPopulatesCache(t *testing.T) {
	layer, inner, mr := newTestRedisLayer(t)
	ctx := context.Background()

	// Written directly to the durable store, bypassing the cache.
	require.NoError(t, inner.Put(ctx, validCred("t1")))
	assert.False(t, mr.Exists(credKeyPrefix+"t1"))

	got, err := layer.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "secret-t1", got.ClientSecret)
	assert.True(t, mr.Exists(credKeyPrefix+"t1"), "read-through should populate the cache")
}

func TestRedisLayer_GetServedFromCache(t *testing.T) {
	layer, inner, _ := newTestRedisLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.Put(ctx, validCred("t1")))

	// Remove from the durable store; a cached read must still succeed.
	require.NoError(t, inner.Delete(ctx, "t1"))

	got, err := layer.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-t1", got.RefreshToken)
}

func TestRedisLayer_DeleteEvictsCache(t *testing.T) {
	layer, _, mr := newTestRedisLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.Put(ctx, validCred("t1")))
	require.True(t, mr.Exists(credKeyPrefix+"t1"))

	require.NoError(t, layer.Delete(ctx, "t1"))
	assert.False(t, mr.Exists(credKeyPrefix+"t1"))

	_, err := layer.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisLayer_CorruptCacheEntryFallsThrough(t *testing.T) {
	layer, inner, mr := newTestRedisLayer(t)
	ctx := context.Background()

	require.NoError(t, inner.Put(ctx, validCred("t1")))
	require.NoError(t, mr.Set(credKeyPrefix+"t1", "{not json"))

	got, err := layer.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "secret-t1", got.ClientSecret)
}

func TestRedisLayer_TTLExpiryRefetches(t *testing.T) {
	layer, inner, mr := newTestRedisLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.Put(ctx, validCred("t1")))

	// Rotate the durable record behind the cache, then expire the entry.
	rotated := validCred("t1")
	rotated.ClientSecret = "rotated-secret"
	require.NoError(t, inner.Put(ctx, rotated))
	mr.FastForward(2 * time.Minute)

	got, err := layer.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "rotated-secret", got.ClientSecret)
}
