package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
	mid "GridWatch/internal/middleware"
	applogger "GridWatch/pkg/logger"
)

// ObservationSink accepts observations for delivery to a backend.
type ObservationSink interface {
	Process(ctx context.Context, obs *models.TrendObservation) error
}

// ObservationReporter is the production Reporter. It logs every event, keeps
// the latest state in the cache and forwards observations to the sink.
// Side effects are best effort; none of them can stop the stream. Cache
// updates are queued to a single writer goroutine so a slow cache never
// delays the caller; when the queue is full the update is dropped.
type ObservationReporter struct {
	logger  *applogger.Logger
	sink    ObservationSink
	cache   drepo.ObservationCache
	symbol  string
	quote   string
	timeout time.Duration
	backlog int

	mu     sync.Mutex
	closed bool
	writes chan cacheWrite
	wg     sync.WaitGroup
}

type cacheWrite struct {
	name string
	do   func(ctx context.Context, c drepo.ObservationCache) error
}

// ReporterOption configures ObservationReporter.
type ReporterOption func(*ObservationReporter)

// WithSink forwards observations to s.
func WithSink(s ObservationSink) ReporterOption {
	return func(r *ObservationReporter) { r.sink = s }
}

// WithObservationCache records latest observations and failure counts.
func WithObservationCache(c drepo.ObservationCache) ReporterOption {
	return func(r *ObservationReporter) { r.cache = c }
}

// WithSideEffectTimeout bounds each cache or sink call.
func WithSideEffectTimeout(d time.Duration) ReporterOption {
	return func(r *ObservationReporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCacheBacklog sets how many cache updates may wait for the writer.
func WithCacheBacklog(n int) ReporterOption {
	return func(r *ObservationReporter) {
		if n > 0 {
			r.backlog = n
		}
	}
}

// NewObservationReporter creates a reporter for symbol; quote is printed next to prices.
func NewObservationReporter(logger *applogger.Logger, symbol, quote string, opts ...ReporterOption) *ObservationReporter {
	r := &ObservationReporter{
		logger:  logger,
		symbol:  symbol,
		quote:   quote,
		timeout: 500 * time.Millisecond,
		backlog: 64,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache != nil {
		r.writes = make(chan cacheWrite, r.backlog)
		r.wg.Add(1)
		go r.writeCache()
	}
	return r
}

// Close stops the cache writer after the queued updates are applied.
// Updates reported afterwards are discarded.
func (r *ObservationReporter) Close() {
	r.mu.Lock()
	if r.closed || r.writes == nil {
		r.closed = true
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.writes)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *ObservationReporter) writeCache() {
	defer r.wg.Done()
	for w := range r.writes {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := w.do(ctx, r.cache); err != nil {
			r.logger.Warn("cache "+w.name, applogger.Error(err))
		}
		cancel()
	}
}

func (r *ObservationReporter) enqueue(w cacheWrite) {
	if r.writes == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.writes <- w:
	default:
		r.logger.Warn("cache update dropped, writer busy", applogger.String("update", w.name))
	}
}

var _ drepo.Reporter = (*ObservationReporter)(nil)

func (r *ObservationReporter) ReportObservation(obs models.TrendObservation) {
	r.logger.Info(fmt.Sprintf("%s %s %s", obs.ISO8601(), obs.Price.String(), r.quote),
		applogger.String("symbol", obs.Symbol),
		applogger.String("direction", obs.Direction.String()),
		applogger.String("exchange", obs.Exchange),
	)

	r.enqueue(cacheWrite{name: "latest observation", do: func(ctx context.Context, c drepo.ObservationCache) error {
		return c.SaveLatest(ctx, obs)
	}})

	if r.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sink.Process(ctx, &obs); err != nil {
			if errors.Is(err, mid.ErrBufferFull) {
				r.logger.Warn("observation dropped", applogger.String("symbol", obs.Symbol))
				return
			}
			r.logger.Warn("forward observation", applogger.Error(err))
		}
	}
}

func (r *ObservationReporter) ReportFailure(err error) {
	r.logger.Error("ticker stream failed, resubscribing",
		applogger.String("symbol", r.symbol),
		applogger.Error(err),
	)

	symbol := r.symbol
	r.enqueue(cacheWrite{name: "failure count", do: func(ctx context.Context, c drepo.ObservationCache) error {
		_, err := c.IncrFailures(ctx, symbol)
		return err
	}})
}

func (r *ObservationReporter) ReportFatal(message string) {
	r.logger.Error(message,
		applogger.String("symbol", r.symbol),
		applogger.Bool("fatal", true),
	)
}
