package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	val, found, err := c.Get(context.Background(), "canvas-1:v1")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestMemoryCache_SetThenGet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	err := c.Set(ctx, "canvas-1:v1", []byte(`{"version":"v1"}`), time.Minute)
	require.NoError(t, err)

	val, found, err := c.Get(ctx, "canvas-1:v1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"version":"v1"}`), val)
}

func TestMemoryCache_ExpiredEntryIsMiss(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	err := c.Set(ctx, "canvas-1:v1", []byte("x"), -time.Millisecond)
	require.NoError(t, err)

	_, found, err := c.Get(ctx, "canvas-1:v1")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_ZeroTTLDoesNotExpire(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	err := c.Set(ctx, "canvas-1:v1", []byte("x"), 0)
	require.NoError(t, err)

	c.sweep(time.Now().Add(24 * time.Hour))

	_, found, err := c.Get(ctx, "canvas-1:v1")
	assert.NoError(t, err)
	assert.True(t, found)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "canvas-1:v1", []byte("x"), time.Minute))
	require.NoError(t, c.Delete(ctx, "canvas-1:v1"))

	_, found, err := c.Get(ctx, "canvas-1:v1")
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.Delete(ctx, "canvas-1:v1"))
}

func TestMemoryCache_SweepRemovesOnlyExpired(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "stale", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "fresh", []byte("y"), time.Hour))
	require.NoError(t, c.Set(ctx, "pinned", []byte("z"), 0))

	c.sweep(time.Now().Add(30 * time.Minute))

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.NotContains(t, c.items, "stale")
	assert.Contains(t, c.items, "fresh")
	assert.Contains(t, c.items, "pinned")
}

func TestMemoryCache_GetReturnsCopy(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "canvas-1:v1", []byte("abc"), time.Minute))

	val, _, err := c.Get(ctx, "canvas-1:v1")
	require.NoError(t, err)
	val[0] = 'z'

	again, _, err := c.Get(ctx, "canvas-1:v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache()

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
