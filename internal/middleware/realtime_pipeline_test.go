package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"GridWatch/internal/domain/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProc struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	batches   int
	delivered []string
}

func (r *recordingProc) Process(ctx context.Context, obs *models.TrendObservation) error {
	return r.ProcessBatch(ctx, []*models.TrendObservation{obs})
}

func (r *recordingProc) ProcessBatch(_ context.Context, obs []*models.TrendObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failFirst {
		return errors.New("downstream unavailable")
	}
	if len(obs) > 1 {
		r.batches++
	}
	for _, o := range obs {
		r.delivered = append(r.delivered, o.Price.String())
	}
	return nil
}

func (r *recordingProc) prices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delivered...)
}

type nopMetrics struct{}

func (nopMetrics) RecordMessageSent(string, string) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64) {}
func (nopMetrics) RecordObservation(string, models.Direction) {}
func (nopMetrics) RecordStreamFailure(string) {}
func (nopMetrics) RecordFailureReport(string) {}

func obsAt(price string) *models.TrendObservation {
	return &models.TrendObservation{
		Symbol:     "BTC/USD",
		Exchange:   "bitfinex",
		Price:      decimal.RequireFromString(price),
		ObservedAt: time.Now(),
		Direction:  models.DirectionUp,
	}
}

func fastRetry() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

func TestRealtimePipeline_DeliversInOrderAfterFailures(t *testing.T) {
	proc := &recordingProc{failFirst: 2}
	p := NewRealtimePipeline(proc, nopMetrics{}, WithMaxRPS(0), WithFlushBackoff(fastRetry()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, price := range []string{"1", "2", "3", "4"} {
		require.NoError(t, p.Process(ctx, obsAt(price)))
	}
	p.Start(ctx)

	require.Eventually(t, func() bool { return len(proc.prices()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3", "4"}, proc.prices())
	require.NoError(t, p.Stop(ctx))
}

func TestRealtimePipeline_Throttle(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, nopMetrics{}, WithMaxRPS(1))
	ctx := context.Background()

	for _, price := range []string{"1", "2", "3"} {
		require.NoError(t, p.Process(ctx, obsAt(price)))
	}
	require.NoError(t, p.Stop(ctx))

	assert.Equal(t, []string{"1"}, proc.prices())
}

func TestRealtimePipeline_BufferFull(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, nopMetrics{}, WithMaxRPS(0), WithBufferSize(2))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, obsAt("1")))
	require.NoError(t, p.Process(ctx, obsAt("2")))
	assert.ErrorIs(t, p.Process(ctx, obsAt("3")), ErrBufferFull)

	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, []string{"1", "2"}, proc.prices())
	assert.Equal(t, 1, proc.batches)
}

func TestRealtimePipeline_Validation(t *testing.T) {
	p := NewRealtimePipeline(&recordingProc{}, nopMetrics{})
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, nil))

	noSymbol := obsAt("1")
	noSymbol.Symbol = ""
	assert.Error(t, p.Process(ctx, noSymbol))

	noTime := obsAt("1")
	noTime.ObservedAt = time.Time{}
	assert.Error(t, p.Process(ctx, noTime))

	negative := obsAt("-1")
	assert.Error(t, p.Process(ctx, negative))

	badDir := obsAt("1")
	badDir.Direction = "sideways"
	assert.Error(t, p.Process(ctx, badDir))
}

func TestRealtimePipeline_Transform(t *testing.T) {
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, nopMetrics{}, WithMaxRPS(0), WithTransform(func(o *models.TrendObservation) *models.TrendObservation {
		c := *o
		c.Price = c.Price.Round(0)
		return &c
	}))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, obsAt("10.6")))
	require.NoError(t, p.Stop(ctx))
	assert.Equal(t, []string{"11"}, proc.prices())
}
