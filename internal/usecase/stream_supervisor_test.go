package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"GridWatch/internal/domain/models"
	"GridWatch/internal/services/trend"
	"GridWatch/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDropped = errors.New("connection dropped")

func TestStreamSupervisor_RecoversAndSuppressesRepeatedFailures(t *testing.T) {
	stream := newScriptedStream(
		step{price: "100"},
		step{price: "105"},
		step{price: "103"},
		step{err: errDropped},
		step{err: errDropped},
		step{price: "110"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{cancel: cancel, stopAfterObs: 4}

	sup := NewStreamSupervisor(stream, rep, nopMetrics{}, "BTC/USD")
	err := sup.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []models.Direction{
		models.DirectionUp, models.DirectionUp, models.DirectionDown, models.DirectionUp,
	}, rep.directions())
	require.Len(t, rep.failures, 1)
	assert.ErrorIs(t, rep.failures[0], errDropped)
	assert.Empty(t, rep.fatals)
	assert.Equal(t, 3, stream.subscribeCount())
}

func TestStreamSupervisor_ReportsAgainAfterSuccess(t *testing.T) {
	stream := newScriptedStream(
		step{price: "100"},
		step{err: errDropped},
		step{price: "99"},
		step{err: errDropped},
		step{err: errDropped},
		step{err: errDropped},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{cancel: cancel, stopAfterFailures: 2}

	reg := prometheus.NewRegistry()
	sup := NewStreamSupervisor(stream, rep, metrics.New(reg), "BTC/USD")
	err := sup.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []models.Direction{models.DirectionUp, models.DirectionDown}, rep.directions())
	assert.Len(t, rep.failures, 2)
}

func TestStreamSupervisor_SubscribeFailuresAreOneRun(t *testing.T) {
	stream := newScriptedStream(step{price: "42"})
	stream.subscribeErrs = []error{errDropped, errDropped, errDropped}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{cancel: cancel, stopAfterObs: 1}

	err := NewStreamSupervisor(stream, rep, nopMetrics{}, "ETH/USD").Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rep.failures, 1)
	require.Len(t, rep.observations, 1)
	assert.Equal(t, 4, stream.subscribeCount())
}

func TestStreamSupervisor_UnsupportedMarketIsFatal(t *testing.T) {
	stream := newScriptedStream(step{price: "1"})
	stream.supported = false
	rep := &recordingReporter{}

	err := NewStreamSupervisor(stream, rep, nopMetrics{}, "BTC/USD").Run(context.Background())

	require.ErrorIs(t, err, ErrTickerUnsupported)
	assert.Len(t, rep.fatals, 1)
	assert.Zero(t, stream.subscribeCount())
	assert.Empty(t, rep.observations)
	assert.Empty(t, rep.failures)
}

func TestStreamSupervisor_CancelledBeforeStart(t *testing.T) {
	stream := newScriptedStream(step{price: "1"})
	rep := &recordingReporter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStreamSupervisor(stream, rep, nopMetrics{}, "BTC/USD").Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stream.subscribeCount())
	assert.Empty(t, rep.failures)
}

func TestStreamSupervisor_CancelWhileWaitingIsNotAFailure(t *testing.T) {
	stream := newScriptedStream(step{price: "1"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep := &recordingReporter{}

	err := NewStreamSupervisor(stream, rep, nopMetrics{}, "BTC/USD").Run(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rep.observations, 1)
	assert.Empty(t, rep.failures)
}

func TestStreamSupervisor_ObservationFields(t *testing.T) {
	stream := newScriptedStream(step{price: "29000.5"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{cancel: cancel, stopAfterObs: 1}

	_ = NewStreamSupervisor(stream, rep, nopMetrics{}, "BTCF0/USTF0").Run(ctx)

	require.Len(t, rep.observations, 1)
	obs := rep.observations[0]
	assert.Equal(t, "BTCF0/USTF0", obs.Symbol)
	assert.Equal(t, "scripted", obs.Exchange)
	assert.Equal(t, "29000.5", obs.Price.String())
	assert.Equal(t, stream.now, obs.ObservedAt)
	assert.Equal(t, "2023-07-01T12:00:00.000Z", obs.ISO8601())
}

func TestStreamSupervisor_FlatClassifier(t *testing.T) {
	stream := newScriptedStream(step{price: "5"}, step{price: "5"}, step{price: "4"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{cancel: cancel, stopAfterObs: 3}

	_ = NewStreamSupervisor(stream, rep, nopMetrics{}, "X/Y", WithClassifier(trend.Strategy(true))).Run(ctx)

	assert.Equal(t, []models.Direction{models.DirectionUp, models.DirectionFlat, models.DirectionDown}, rep.directions())
}

func TestStreamSupervisor_ExponentialRetry(t *testing.T) {
	stream := newScriptedStream(step{err: errDropped}, step{err: errDropped}, step{price: "7"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{cancel: cancel, stopAfterObs: 1}

	policy, err := NewRetryPolicy(RetryExponential, time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)

	err = NewStreamSupervisor(stream, rep, nopMetrics{}, "X/Y", WithRetryPolicy(policy)).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rep.failures, 1)
	assert.Len(t, rep.observations, 1)
}

func TestNewRetryPolicy(t *testing.T) {
	b, err := NewRetryPolicy("", 0, 0)
	require.NoError(t, err)
	assert.IsType(t, &backoff.ZeroBackOff{}, b)
	assert.Zero(t, b.NextBackOff())

	b, err = NewRetryPolicy("Exponential", 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	exp, ok := b.(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Zero(t, exp.MaxElapsedTime)
	assert.Equal(t, time.Second, exp.MaxInterval)
	assert.NotEqual(t, backoff.Stop, exp.NextBackOff())

	_, err = NewRetryPolicy("linear", 0, 0)
	assert.Error(t, err)
}
