package repository

import (
	"context"
	"testing"
	"time"

	"GridWatch/internal/domain/models"
	"GridWatch/pkg/cache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *ObservationCache {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	return NewObservationCache(mc, time.Minute)
}

func TestObservationCache_Latest(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	got, err := c.Latest(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Nil(t, got)

	obs := models.TrendObservation{
		Symbol:     "BTC/USD",
		Exchange:   "bitfinex",
		Price:      decimal.RequireFromString("29000.25"),
		ObservedAt: time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC),
		Direction:  models.DirectionDown,
	}
	require.NoError(t, c.SaveLatest(ctx, obs))

	got, err = c.Latest(ctx, "BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Price.Equal(obs.Price))
	assert.Equal(t, models.DirectionDown, got.Direction)
	assert.True(t, got.ObservedAt.Equal(obs.ObservedAt))
}

func TestObservationCache_Failures(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	n, err := c.Failures(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.IncrFailures(ctx, "BTC/USD")
	require.NoError(t, err)
	n, err = c.IncrFailures(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.Failures(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, c.ResetFailures(ctx, "BTC/USD"))
	n, err = c.Failures(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestObservationCache_Grid(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	snap := models.GridSnapshot{
		Symbol: "BTC/USD",
		Quote:  "USD",
		Levels: models.GridLevels{decimal.NewFromInt(1), decimal.NewFromInt(2)},
	}
	require.NoError(t, c.SaveGrid(ctx, snap))

	got, err := c.Grid(ctx, "BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"1", "2"}, got.Levels.Strings())

	missing, err := c.Grid(ctx, "ETH/USD")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.NoError(t, c.Health(ctx))
}
