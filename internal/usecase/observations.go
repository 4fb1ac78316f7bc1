package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GridWatch/internal/domain/models"
	domrepo "GridWatch/internal/domain/repository"
)

var ErrStorageDisabled = errors.New("observation storage not configured")

// ObservationsUseCase reads stored observation history.
type ObservationsUseCase struct {
	store domrepo.Storage
}

func NewObservationsUseCase(store domrepo.Storage) *ObservationsUseCase {
	return &ObservationsUseCase{store: store}
}

type GetObservationsParams struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

type GetObservationsResult struct {
	Symbol       string                     `json:"symbol"`
	From         time.Time                  `json:"from"`
	To           time.Time                  `json:"to"`
	Count        int                        `json:"count"`
	Observations []*models.TrendObservation `json:"observations"`
}

func (uc *ObservationsUseCase) Enabled() bool { return uc.store != nil }

func (uc *ObservationsUseCase) GetObservations(ctx context.Context, p GetObservationsParams) (*GetObservationsResult, error) {
	if uc.store == nil {
		return nil, ErrStorageDisabled
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 5000 {
		p.Limit = 5000
	}

	obs, err := uc.store.Query(ctx, p.Symbol, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	if obs == nil {
		obs = []*models.TrendObservation{}
	}

	return &GetObservationsResult{
		Symbol:       p.Symbol,
		From:         p.From,
		To:           p.To,
		Count:        len(obs),
		Observations: obs,
	}, nil
}
