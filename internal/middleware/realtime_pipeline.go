package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GridWatch/internal/domain/models"
	domrepo "GridWatch/internal/domain/repository"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrBufferFull is returned when the pipeline cannot accept more observations.
var ErrBufferFull = errors.New("pipeline buffer full")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, obs *models.TrendObservation) error
	ProcessBatch(ctx context.Context, obs []*models.TrendObservation) error
}

// RealtimePipeline sits between the stream reporter and the storage backends.
// It validates, throttles per symbol and hands observations to a single
// delivery goroutine, so the caller never waits on the backend. Delivery keeps
// arrival order; on downstream errors the pending batch is retried with backoff
// while new observations queue up to the buffer size.
type RealtimePipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	maxRPS    int
	bufSize   int
	batchSize int
	timeout   time.Duration
	inCh      chan *models.TrendObservation
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopped   bool
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	retry     backoff.BackOff
	pending   []*models.TrendObservation
	// simple format transform hook (optional)
	transform func(*models.TrendObservation) *models.TrendObservation
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max observations per second per symbol. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets how many observations may queue while downstream is slow or down.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBatchSize caps how many queued observations are delivered in one call.
func WithBatchSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithDeliveryTimeout bounds each Process or ProcessBatch call. Zero means no bound.
func WithDeliveryTimeout(d time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithFlushBackoff replaces the retry schedule for failed deliveries.
func WithFlushBackoff(b backoff.BackOff) PipelineOption {
	return func(p *RealtimePipeline) {
		if b != nil {
			p.retry = b
		}
	}
}

// WithTransform sets a transformation hook applied before validation of the result.
func WithTransform(fn func(*models.TrendObservation) *models.TrendObservation) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	flush := backoff.NewExponentialBackOff()
	flush.InitialInterval = 50 * time.Millisecond
	flush.MaxInterval = 2 * time.Second
	flush.MaxElapsedTime = 0

	p := &RealtimePipeline{
		proc:      proc,
		metrics:   metrics,
		maxRPS:    20,
		bufSize:   1000,
		batchSize: 100,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		limiters:  make(map[string]*rate.Limiter),
		retry:     flush,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.inCh = make(chan *models.TrendObservation, p.bufSize)
	p.retry.Reset()
	return p
}

// Start launches the delivery goroutine.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop halts delivery and makes one last attempt to flush what is queued.
func (p *RealtimePipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	started := p.started
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		select {
		case <-p.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rest := p.drain(p.pending, -1)
	p.pending = nil
	if len(rest) == 0 {
		return nil
	}
	if err := p.proc.ProcessBatch(ctx, rest); err != nil {
		p.metrics.RecordError("pipeline_final_flush")
		return fmt.Errorf("pipeline final flush: %w", err)
	}
	return nil
}

// Process validates, throttles and queues obs for delivery. It never blocks.
func (p *RealtimePipeline) Process(_ context.Context, obs *models.TrendObservation) error {
	if err := validateObservation(obs); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		obs = p.transform(obs)
		if err := validateObservation(obs); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(obs.Symbol, time.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	select {
	case p.inCh <- obs:
		p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.inCh)))
		return nil
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return ErrBufferFull
	}
}

func (p *RealtimePipeline) run(ctx context.Context) {
	defer close(p.doneCh)

	var pending []*models.TrendObservation
	defer func() { p.pending = pending }()

	for {
		if len(pending) == 0 {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case obs := <-p.inCh:
				pending = append(pending, obs)
			}
		}
		pending = p.drain(pending, p.batchSize)

		start := time.Now()
		if err := p.deliver(ctx, pending); err != nil {
			p.metrics.RecordError("pipeline_flush")
			wait := p.retry.NextBackOff()
			if wait == backoff.Stop {
				p.retry.Reset()
				wait = p.retry.NextBackOff()
			}
			t := time.NewTimer(wait)
			select {
			case <-p.stopCh:
				t.Stop()
				return
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}
		p.retry.Reset()
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
		pending = pending[:0]
	}
}

func (p *RealtimePipeline) deliver(ctx context.Context, batch []*models.TrendObservation) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if len(batch) == 1 {
		return p.proc.Process(ctx, batch[0])
	}
	return p.proc.ProcessBatch(ctx, batch)
}

// drain moves queued observations into dst until limit is reached. A negative limit drains everything.
func (p *RealtimePipeline) drain(dst []*models.TrendObservation, limit int) []*models.TrendObservation {
	for limit < 0 || len(dst) < limit {
		select {
		case obs := <-p.inCh:
			dst = append(dst, obs)
		default:
			return dst
		}
	}
	return dst
}

func (p *RealtimePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[symbol]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.maxRPS), p.maxRPS)
		p.limiters[symbol] = l
	}
	return l.AllowN(now, 1)
}

func validateObservation(obs *models.TrendObservation) error {
	if obs == nil {
		return fmt.Errorf("observation nil")
	}
	if obs.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if obs.ObservedAt.IsZero() {
		return fmt.Errorf("observed_at missing")
	}
	if obs.Price.IsNegative() {
		return fmt.Errorf("negative price")
	}
	if !obs.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", obs.Direction)
	}
	return nil
}
