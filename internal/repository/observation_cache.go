package repository

import (
	"context"
	"errors"
	"time"

	"GridWatch/internal/domain/models"
	"GridWatch/internal/domain/repository"
	"GridWatch/pkg/cache"
)

const healthKey = "health"

// ObservationCache stores the latest observation, failure counter and grid
// snapshot per symbol on top of a cache.Service.
type ObservationCache struct {
	cache cache.Service
	ttl   time.Duration
}

// NewObservationCache wraps svc. ttl applies to latest observations only.
func NewObservationCache(svc cache.Service, ttl time.Duration) *ObservationCache {
	return &ObservationCache{cache: svc, ttl: ttl}
}

var _ repository.ObservationCache = (*ObservationCache)(nil)

func (c *ObservationCache) SaveLatest(ctx context.Context, obs models.TrendObservation) error {
	return c.cache.Set(ctx, cache.Key("observation", "latest", obs.Symbol), obs, c.ttl)
}

// Latest returns nil without error when nothing was observed yet.
func (c *ObservationCache) Latest(ctx context.Context, symbol string) (*models.TrendObservation, error) {
	var obs models.TrendObservation
	if err := c.cache.Get(ctx, cache.Key("observation", "latest", symbol), &obs); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &obs, nil
}

func (c *ObservationCache) IncrFailures(ctx context.Context, symbol string) (int64, error) {
	return c.cache.Increment(ctx, cache.Key("observation", "failures", symbol))
}

func (c *ObservationCache) Failures(ctx context.Context, symbol string) (int64, error) {
	var n int64
	if err := c.cache.Get(ctx, cache.Key("observation", "failures", symbol), &n); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// ResetFailures clears the counter, used when a new run starts.
func (c *ObservationCache) ResetFailures(ctx context.Context, symbol string) error {
	return c.cache.Delete(ctx, cache.Key("observation", "failures", symbol))
}

func (c *ObservationCache) SaveGrid(ctx context.Context, snap models.GridSnapshot) error {
	return c.cache.Set(ctx, cache.Key("grid", snap.Symbol), snap, 0)
}

func (c *ObservationCache) Grid(ctx context.Context, symbol string) (*models.GridSnapshot, error) {
	var snap models.GridSnapshot
	if err := c.cache.Get(ctx, cache.Key("grid", symbol), &snap); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (c *ObservationCache) Health(ctx context.Context) error {
	_, err := c.cache.Exists(ctx, healthKey)
	return err
}
