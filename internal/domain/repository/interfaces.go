package repository

import (
	"context"
	"time"

	"GridWatch/internal/domain/models"
)

// MarketStream is the exchange collaborator the stream supervisor drives.
type MarketStream interface {
	Name() string
	SupportsTickerStream() bool
	Subscribe(ctx context.Context, symbol string) (TickerSubscription, error)
	Now() time.Time
	Status(ctx context.Context) error
}

// TickerSubscription yields samples for one subscribed symbol until it fails or is closed.
type TickerSubscription interface {
	Next(ctx context.Context) (models.PriceSample, error)
	Close() error
}

// Reporter receives everything the supervisor observes. Implementations must not block for long.
type Reporter interface {
	ReportObservation(obs models.TrendObservation)
	ReportFailure(err error)
	ReportFatal(message string)
}

type Publisher interface {
	Publish(ctx context.Context, obs *models.TrendObservation) error
	PublishBatch(ctx context.Context, obs []*models.TrendObservation) error
	Close() error
}

type Storage interface {
	Init(ctx context.Context) error // ensure tables
	Store(ctx context.Context, obs *models.TrendObservation) error
	StoreBatch(ctx context.Context, obs []*models.TrendObservation) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.TrendObservation, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// ObservationCache keeps the latest state per symbol for the HTTP API.
type ObservationCache interface {
	SaveLatest(ctx context.Context, obs models.TrendObservation) error
	Latest(ctx context.Context, symbol string) (*models.TrendObservation, error)
	IncrFailures(ctx context.Context, symbol string) (int64, error)
	Failures(ctx context.Context, symbol string) (int64, error)
	SaveGrid(ctx context.Context, snap models.GridSnapshot) error
	Grid(ctx context.Context, symbol string) (*models.GridSnapshot, error)
	Health(ctx context.Context) error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordObservation(symbol string, dir models.Direction)
	RecordStreamFailure(symbol string)
	RecordFailureReport(symbol string)
}
