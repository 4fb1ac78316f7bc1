package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
	"GridWatch/internal/services/trend"
	applogger "GridWatch/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// ErrTickerUnsupported is returned when the market cannot stream tickers.
var ErrTickerUnsupported = errors.New("ticker streaming not supported")

// Retry policies accepted by NewRetryPolicy.
const (
	RetryImmediate   = "immediate"
	RetryExponential = "exponential"
)

// StreamSupervisor keeps one ticker subscription alive for a symbol, classifies
// every sample against the previous one and reports the result. A run of
// consecutive failures is reported once; the next successful sample re-arms
// reporting. The previous price survives resubscriptions.
type StreamSupervisor struct {
	stream   drepo.MarketStream
	reporter drepo.Reporter
	metrics  drepo.Metrics
	logger   *applogger.Logger
	symbol   string
	classify trend.Func
	retry    backoff.BackOff

	previous    decimal.NullDecimal
	suppressing bool
}

// SupervisorOption configures StreamSupervisor.
type SupervisorOption func(*StreamSupervisor)

// WithClassifier replaces the default two-way classifier.
func WithClassifier(fn trend.Func) SupervisorOption {
	return func(s *StreamSupervisor) {
		if fn != nil {
			s.classify = fn
		}
	}
}

// WithRetryPolicy sets the delay between a failure and the next subscription.
func WithRetryPolicy(b backoff.BackOff) SupervisorOption {
	return func(s *StreamSupervisor) {
		if b != nil {
			s.retry = b
		}
	}
}

// WithSupervisorLogger enables debug logging of state transitions.
func WithSupervisorLogger(l *applogger.Logger) SupervisorOption {
	return func(s *StreamSupervisor) { s.logger = l }
}

// NewStreamSupervisor creates a supervisor for symbol.
func NewStreamSupervisor(stream drepo.MarketStream, reporter drepo.Reporter, metrics drepo.Metrics, symbol string, opts ...SupervisorOption) *StreamSupervisor {
	s := &StreamSupervisor{
		stream:   stream,
		reporter: reporter,
		metrics:  metrics,
		symbol:   symbol,
		classify: trend.Classify,
		retry:    &backoff.ZeroBackOff{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Symbol returns the supervised market.
func (s *StreamSupervisor) Symbol() string { return s.symbol }

// Run blocks until ctx is done or the market turns out not to support ticker
// streams. Transient failures never end the loop.
func (s *StreamSupervisor) Run(ctx context.Context) error {
	if !s.stream.SupportsTickerStream() {
		s.reporter.ReportFatal(fmt.Sprintf("%s does not support ticker streaming", s.stream.Name()))
		return fmt.Errorf("%s: %w", s.stream.Name(), ErrTickerUnsupported)
	}

	s.retry.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.session(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.fail(err)

		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// session subscribes once and consumes samples until the subscription fails.
func (s *StreamSupervisor) session(ctx context.Context) error {
	s.debug("subscribing")
	sub, err := s.stream.Subscribe(ctx, s.symbol)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.symbol, err)
	}
	defer sub.Close()

	for {
		sample, err := sub.Next(ctx)
		if err != nil {
			return fmt.Errorf("watch ticker %s: %w", s.symbol, err)
		}
		s.observe(sample)
	}
}

func (s *StreamSupervisor) observe(sample models.PriceSample) {
	dir := s.classify(sample.Price, s.previous)
	s.previous = decimal.NewNullDecimal(sample.Price)
	s.suppressing = false
	s.retry.Reset()

	observedAt := sample.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.stream.Now()
	}

	s.metrics.RecordObservation(s.symbol, dir)
	s.metrics.RecordLastPrice(s.symbol, sample.Price.InexactFloat64())
	s.reporter.ReportObservation(models.TrendObservation{
		Symbol:     s.symbol,
		Exchange:   s.stream.Name(),
		Price:      sample.Price,
		ObservedAt: observedAt,
		Direction:  dir,
	})
}

func (s *StreamSupervisor) fail(err error) {
	s.metrics.RecordStreamFailure(s.symbol)
	if s.suppressing {
		s.debug("failure suppressed", applogger.Error(err))
		return
	}
	s.suppressing = true
	s.metrics.RecordFailureReport(s.symbol)
	s.reporter.ReportFailure(err)
}

func (s *StreamSupervisor) wait(ctx context.Context) error {
	d := s.retry.NextBackOff()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *StreamSupervisor) debug(msg string, fields ...applogger.Field) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, append(fields, applogger.String("symbol", s.symbol))...)
}

// NewRetryPolicy maps a configured policy name to a backoff. Both policies retry forever.
func NewRetryPolicy(policy string, initial, maxInterval time.Duration) (backoff.BackOff, error) {
	switch strings.ToLower(policy) {
	case "", RetryImmediate:
		return &backoff.ZeroBackOff{}, nil
	case RetryExponential:
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		b.MaxElapsedTime = 0
		b.Reset()
		return b, nil
	default:
		return nil, fmt.Errorf("unknown retry policy %q", policy)
	}
}
