package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GridWatch/internal/domain/models"
	drepo "GridWatch/internal/domain/repository"
	"GridWatch/internal/services/grid"

	"github.com/shopspring/decimal"
)

var ErrGridNotBuilt = errors.New("grid not built")

// GridService owns the grid of the running symbol and previews other grids.
type GridService struct {
	settings  models.GridSettings
	maxLevels int
	cache     drepo.ObservationCache
	clock     func() time.Time

	levels   models.GridLevels
	mu       sync.RWMutex
	snapshot *models.GridSnapshot
}

// GridServiceOption configures GridService.
type GridServiceOption func(*GridService)

// WithLevels hands over levels already generated from the same settings,
// so Build does not generate them again.
func WithLevels(levels models.GridLevels) GridServiceOption {
	return func(s *GridService) { s.levels = levels }
}

func NewGridService(settings models.GridSettings, maxLevels int, cache drepo.ObservationCache, opts ...GridServiceOption) *GridService {
	if maxLevels <= 0 {
		maxLevels = grid.DefaultMaxLevels
	}
	s := &GridService{settings: settings, maxLevels: maxLevels, cache: cache, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build computes the snapshot once; later calls return the same snapshot.
func (s *GridService) Build(ctx context.Context) (*models.GridSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return s.snapshot, nil
	}

	cfg := s.settings.GridConfig()
	if err := grid.CheckBounds(cfg, s.maxLevels); err != nil {
		return nil, err
	}
	levels := s.levels
	if len(levels) != cfg.TotalLevels() {
		levels = grid.Generate(cfg)
	}
	snap := &models.GridSnapshot{
		Symbol:       s.settings.Symbol(),
		Quote:        s.settings.QuoteCurrency,
		CentralPrice: cfg.CentralPrice,
		Delta:        cfg.InterLevelDelta,
		UpperCount:   cfg.UpperCount,
		DownCount:    cfg.DownCount,
		Levels:       levels,
		Min:          levels.Min(),
		Max:          levels.Max(),
		GeneratedAt:  s.clock().UTC(),
	}
	s.snapshot = snap

	if s.cache != nil {
		if err := s.cache.SaveGrid(ctx, *snap); err != nil {
			return snap, fmt.Errorf("cache grid: %w", err)
		}
	}
	return snap, nil
}

// Current returns the built snapshot or nil.
func (s *GridService) Current() *models.GridSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

type PreviewParams struct {
	CentralPrice decimal.Decimal
	Delta        decimal.Decimal
	Upper        int
	Down         int
}

// Preview generates an arbitrary grid under the configured level bound.
func (s *GridService) Preview(p PreviewParams) (models.GridLevels, error) {
	cfg := models.GridConfig{
		CentralPrice:    p.CentralPrice,
		InterLevelDelta: p.Delta,
		UpperCount:      p.Upper,
		DownCount:       p.Down,
	}
	if !cfg.CentralPrice.IsPositive() {
		return nil, fmt.Errorf("central price must be positive, got %s", cfg.CentralPrice)
	}
	if err := grid.CheckBounds(cfg, s.maxLevels); err != nil {
		return nil, err
	}
	return grid.Generate(cfg), nil
}

// Locate finds the grid interval enclosing price.
func (s *GridService) Locate(price decimal.Decimal) (models.GridPosition, error) {
	snap := s.Current()
	if snap == nil {
		return models.GridPosition{}, ErrGridNotBuilt
	}
	return grid.Locate(snap.Levels, price), nil
}

// Status returns the latest observation and failure count for the running symbol.
func (s *GridService) Status(ctx context.Context) (*models.ObservationStatus, error) {
	symbol := s.settings.Symbol()
	st := &models.ObservationStatus{Symbol: symbol}
	if s.cache == nil {
		return st, nil
	}

	latest, err := s.cache.Latest(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}
	failures, err := s.cache.Failures(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failure count: %w", err)
	}
	st.Latest = latest
	st.FailureReports = failures
	return st, nil
}

func (s *GridService) Symbol() string { return s.settings.Symbol() }
