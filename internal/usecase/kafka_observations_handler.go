package usecase

import (
	"context"
	"fmt"
	"time"

	"GridWatch/internal/domain/models"
	domrepo "GridWatch/internal/domain/repository"
	pkgkafka "GridWatch/pkg/kafka"

	"github.com/goccy/go-json"
)

// KafkaObservationsHandler consumes published observations and writes them to storage.
type KafkaObservationsHandler struct {
	topic   string
	storage domrepo.Storage
	metrics domrepo.Metrics
}

func NewKafkaObservationsHandler(topic string, storage domrepo.Storage, metrics domrepo.Metrics) *KafkaObservationsHandler {
	return &KafkaObservationsHandler{topic: topic, storage: storage, metrics: metrics}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var obs models.TrendObservation
	if err := json.Unmarshal(b, &obs); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode observation: %w", err)
	}
	if obs.Symbol == "" || obs.ObservedAt.IsZero() || !obs.Direction.Valid() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("invalid observation for %q", obs.Symbol)
	}

	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(obs.ObservedAt).Seconds())

	start := time.Now()
	err := h.storage.Store(ctx, &obs)
	h.metrics.RecordLatency("ch_insert_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordMessageSent(BackendClickHouse, obs.Symbol)
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
