package usecase

import (
	"context"
	"fmt"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
)

// Backends accepted by ObservationProcessor.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// ObservationProcessor routes observations to the configured backend.
type ObservationProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewObservationProcessor creates a processor. pub or store may be nil when
// the backend does not need them.
func NewObservationProcessor(pub drepo.Publisher, store drepo.Storage, metrics drepo.Metrics, backend string) *ObservationProcessor {
	if backend == "" {
		backend = BackendNone
	}
	return &ObservationProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Backend returns the configured backend name.
func (p *ObservationProcessor) Backend() string { return p.backend }

// Process routes a single observation to the configured backend.
func (p *ObservationProcessor) Process(ctx context.Context, obs *models.TrendObservation) error {
	if obs == nil {
		return fmt.Errorf("observation is nil")
	}

	start := time.Now()
	var err error

	switch p.backend {
	case BackendNone:
	case BackendKafka:
		if p.pub == nil {
			err = fmt.Errorf("kafka publisher not configured")
			break
		}
		err = p.pub.Publish(ctx, obs)
	case BackendClickHouse:
		if p.store == nil {
			err = fmt.Errorf("clickhouse storage not configured")
			break
		}
		err = p.store.Store(ctx, obs)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process observation: %w", err)
	}

	p.metrics.RecordMessageSent(p.backend, obs.Symbol)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch routes several observations in one backend call.
func (p *ObservationProcessor) ProcessBatch(ctx context.Context, obs []*models.TrendObservation) error {
	if len(obs) == 0 {
		return nil
	}

	start := time.Now()
	var err error

	switch p.backend {
	case BackendNone:
	case BackendKafka:
		if p.pub == nil {
			err = fmt.Errorf("kafka publisher not configured")
			break
		}
		err = p.pub.PublishBatch(ctx, obs)
	case BackendClickHouse:
		if p.store == nil {
			err = fmt.Errorf("clickhouse storage not configured")
			break
		}
		err = p.store.StoreBatch(ctx, obs)
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, o := range obs {
		p.metrics.RecordMessageSent(p.backend, o.Symbol)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *ObservationProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
