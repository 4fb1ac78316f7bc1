package market

import (
	"context"
	"testing"
	"time"

	"GridWatch/internal/domain/models"
	"GridWatch/pkg/config"
	applogger "GridWatch/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_Walk(t *testing.T) {
	at := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)
	s := NewStub(decimal.NewFromInt(29000), decimal.NewFromInt(200), WithStubInterval(0), WithStubClock(func() time.Time { return at }))
	assert.Equal(t, at, s.Now())
	sub, err := s.Subscribe(context.Background(), "BTCF0/USTF0")
	require.NoError(t, err)

	var got []string
	for range stubWalk {
		sample, err := sub.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, at, sample.ObservedAt)
		got = append(got, sample.Price.String())
	}
	assert.Equal(t, []string{"29050", "29100", "29050", "29000", "28950", "28900", "28950", "29000"}, got)
}

func TestStub_CancelAndCapability(t *testing.T) {
	s := NewStub(decimal.NewFromInt(100), decimal.NewFromInt(4), WithStubInterval(time.Hour), WithStubTickerStream(false))
	assert.False(t, s.SupportsTickerStream())

	sub, err := s.Subscribe(context.Background(), "BTC/USD")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStream(t *testing.T) {
	grid := models.GridConfig{CentralPrice: decimal.NewFromInt(29000), InterLevelDelta: decimal.NewFromInt(200)}
	cfg := config.Default().Exchange

	st, err := NewStream(cfg, grid, applogger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "bitfinex", st.Name())
	assert.True(t, st.SupportsTickerStream())

	cfg.Name = "stub"
	cfg.TickerStream = false
	st, err = NewStream(cfg, grid, applogger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "stub", st.Name())
	assert.False(t, st.SupportsTickerStream())

	cfg.Name = "kraken"
	_, err = NewStream(cfg, grid, applogger.Nop())
	assert.Error(t, err)
}
