package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func TestMemoryCache_SetGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "obs", sample{Symbol: "BTC/USD", Price: "29000"}, 0))
	require.NoError(t, mc.Set(ctx, "name", "gridwatch", 0))

	var got sample
	require.NoError(t, mc.Get(ctx, "obs", &got))
	assert.Equal(t, "29000", got.Price)

	var name string
	require.NoError(t, mc.Get(ctx, "name", &name))
	assert.Equal(t, "gridwatch", name)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &got), ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	var v string
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Increment(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := mc.Increment(ctx, "failures")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	var n int64
	require.NoError(t, mc.Get(ctx, "failures", &n))
	assert.Equal(t, int64(3), n)

	require.NoError(t, mc.Set(ctx, "text", "abc", 0))
	_, err := mc.Increment(ctx, "text")
	assert.Error(t, err)

	require.NoError(t, mc.Delete(ctx, "failures"))
	got, err := mc.Increment(ctx, "failures")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(time.Hour))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	require.NoError(t, mc.Set(ctx, "b", "2", 0))

	var v string
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", "3", 0))
	assert.Equal(t, 2, mc.Len())

	ok, _ := mc.Exists(ctx, "b")
	assert.False(t, ok)
	ok, _ = mc.Exists(ctx, "a", "c")
	assert.True(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "grid:BTC/USD", Key("grid", "BTC/USD"))
	assert.Equal(t, "observation:latest:BTC/USD", Key("observation", "latest", "BTC/USD"))
}
