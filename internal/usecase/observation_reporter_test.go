package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
	"GridWatch/internal/repository"
	"GridWatch/pkg/cache"
	applogger "GridWatch/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFunc func(ctx context.Context, obs *models.TrendObservation) error

func (f sinkFunc) Process(ctx context.Context, obs *models.TrendObservation) error { return f(ctx, obs) }

func newBufferLogger(t *testing.T, buf *bytes.Buffer) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "debug", Format: "json", Writer: buf})
	require.NoError(t, err)
	return l
}

func TestObservationReporter(t *testing.T) {
	var buf bytes.Buffer
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := repository.NewObservationCache(mc, time.Minute)

	var forwarded []*models.TrendObservation
	sink := sinkFunc(func(_ context.Context, obs *models.TrendObservation) error {
		forwarded = append(forwarded, obs)
		return nil
	})

	r := NewObservationReporter(newBufferLogger(t, &buf), "BTCF0/USTF0", "USTF0",
		WithSink(sink),
		WithObservationCache(store),
	)

	obs := models.TrendObservation{
		Symbol:     "BTCF0/USTF0",
		Exchange:   "bitfinex",
		Price:      decimal.RequireFromString("29000.5"),
		ObservedAt: time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC),
		Direction:  models.DirectionUp,
	}
	r.ReportObservation(obs)
	r.ReportFailure(errors.New("socket closed"))
	r.ReportFailure(errors.New("socket closed"))
	r.ReportFatal("bitfinex does not support ticker streaming")
	r.Close()

	out := buf.String()
	assert.Contains(t, out, "2023-07-01T12:00:00.000Z 29000.5 USTF0")
	assert.Contains(t, out, `"direction":"up"`)
	assert.Contains(t, out, "ticker stream failed, resubscribing")
	assert.Contains(t, out, "socket closed")
	assert.Contains(t, out, `"fatal":true`)

	require.Len(t, forwarded, 1)
	assert.Equal(t, "29000.5", forwarded[0].Price.String())

	ctx := context.Background()
	latest, err := store.Latest(ctx, "BTCF0/USTF0")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.DirectionUp, latest.Direction)

	n, err := store.Failures(ctx, "BTCF0/USTF0")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestObservationReporter_SinkErrorsAreNotFatal(t *testing.T) {
	var buf bytes.Buffer
	r := NewObservationReporter(newBufferLogger(t, &buf), "X/Y", "Y",
		WithSink(sinkFunc(func(context.Context, *models.TrendObservation) error { return errors.New("kafka down") })),
	)

	assert.NotPanics(t, func() {
		r.ReportObservation(models.TrendObservation{Symbol: "X/Y", Price: decimal.NewFromInt(1), ObservedAt: time.Now(), Direction: models.DirectionUp})
	})
	assert.Contains(t, buf.String(), "kafka down")
}

// blockingCache stalls every write until release is closed.
type blockingCache struct {
	drepo.ObservationCache
	release chan struct{}
	mu      sync.Mutex
	saved   int
}

func (c *blockingCache) SaveLatest(ctx context.Context, _ models.TrendObservation) error {
	<-c.release
	c.mu.Lock()
	c.saved++
	c.mu.Unlock()
	return nil
}

func (c *blockingCache) IncrFailures(ctx context.Context, _ string) (int64, error) {
	<-c.release
	return 0, nil
}

func TestObservationReporter_SlowCacheDoesNotBlock(t *testing.T) {
	var buf bytes.Buffer
	bc := &blockingCache{release: make(chan struct{})}
	r := NewObservationReporter(newBufferLogger(t, &buf), "X/Y", "Y",
		WithObservationCache(bc),
		WithCacheBacklog(2),
		WithSideEffectTimeout(time.Minute),
	)

	obs := models.TrendObservation{Symbol: "X/Y", Price: decimal.NewFromInt(1), ObservedAt: time.Now(), Direction: models.DirectionUp}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.ReportObservation(obs)
			r.ReportFailure(errors.New("reset"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reporting waited on the cache")
	}
	assert.Contains(t, buf.String(), "cache update dropped")

	close(bc.release)
	r.Close()
	bc.mu.Lock()
	defer bc.mu.Unlock()
	assert.Positive(t, bc.saved)

	assert.NotPanics(t, func() { r.ReportObservation(obs) })
}
