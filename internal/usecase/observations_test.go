package usecase

import (
	"context"
	"testing"
	"time"

	"GridWatch/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservationsUseCase(t *testing.T) {
	now := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

	disabled := NewObservationsUseCase(nil)
	assert.False(t, disabled.Enabled())
	_, err := disabled.GetObservations(context.Background(), GetObservationsParams{Symbol: "BTC/USD"})
	assert.ErrorIs(t, err, ErrStorageDisabled)

	store := &memStorage{stored: []*models.TrendObservation{{Symbol: "BTC/USD", ObservedAt: now, Direction: models.DirectionUp}}}
	uc := NewObservationsUseCase(store)

	_, err = uc.GetObservations(context.Background(), GetObservationsParams{Symbol: "BTC/USD", From: now, To: now.Add(-time.Hour)})
	assert.Error(t, err)
	_, err = uc.GetObservations(context.Background(), GetObservationsParams{})
	assert.Error(t, err)

	res, err := uc.GetObservations(context.Background(), GetObservationsParams{Symbol: "BTC/USD", From: now.Add(-time.Hour), To: now})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "BTC/USD", res.Symbol)
}
