package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"GridWatch/internal/domain/models"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	stored  []*models.TrendObservation
	failErr error
}

func (m *memStorage) Init(context.Context) error { return nil }

func (m *memStorage) Store(_ context.Context, obs *models.TrendObservation) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.stored = append(m.stored, obs)
	return nil
}

func (m *memStorage) StoreBatch(ctx context.Context, obs []*models.TrendObservation) error {
	for _, o := range obs {
		if err := m.Store(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStorage) Query(context.Context, string, time.Time, time.Time, int) ([]*models.TrendObservation, error) {
	return m.stored, nil
}

func (m *memStorage) Health(context.Context) error { return nil }
func (m *memStorage) Close() error { return nil }

func TestKafkaObservationsHandler(t *testing.T) {
	store := &memStorage{}
	h := NewKafkaObservationsHandler("gridwatch.observations", store, nopMetrics{})
	assert.Equal(t, "gridwatch.observations", h.Topic())

	obs := models.TrendObservation{
		Symbol:     "BTC/USD",
		Exchange:   "bitfinex",
		Price:      decimal.RequireFromString("29000.123456789"),
		ObservedAt: time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC),
		Direction:  models.DirectionDown,
	}
	payload, err := json.Marshal(obs)
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), payload))
	require.Len(t, store.stored, 1)
	assert.True(t, store.stored[0].Price.Equal(obs.Price))
	assert.Equal(t, models.DirectionDown, store.stored[0].Direction)
}

func TestKafkaObservationsHandler_Rejects(t *testing.T) {
	store := &memStorage{}
	h := NewKafkaObservationsHandler("t", store, nopMetrics{})

	assert.Error(t, h.Handle(context.Background(), []byte("{not json")))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"BTC/USD","direction":"up"}`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"BTC/USD","observed_at":"2023-07-01T12:00:00Z","direction":"sideways","price":"1"}`)))

	store.failErr = errors.New("clickhouse down")
	assert.Error(t, h.Handle(context.Background(), []byte(`{"symbol":"BTC/USD","observed_at":"2023-07-01T12:00:00Z","direction":"up","price":"1"}`)))
	assert.Empty(t, store.stored)
}
