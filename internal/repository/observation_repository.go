package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"GridWatch/internal/domain/models"
	"GridWatch/internal/domain/repository"
	pkgkafka "GridWatch/pkg/kafka"

	"github.com/shopspring/decimal"
)

// ObservationsTableDDL creates the observations table; %s is the fully qualified table name.
const ObservationsTableDDL = "CREATE TABLE IF NOT EXISTS %s (ts DateTime64(3), symbol LowCardinality(String), exchange LowCardinality(String), price Decimal(38, 12), direction LowCardinality(String)) ENGINE=MergeTree ORDER BY (symbol, ts)"

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db    *sql.DB
	table string
}

// NewClickHouseStorage creates ClickHouse storage.
func NewClickHouseStorage(db *sql.DB, table string) *ClickHouseStorage {
	return &ClickHouseStorage{db: db, table: table}
}

var _ repository.Storage = (*ClickHouseStorage)(nil)

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ObservationsTableDDL, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseStorage) Store(ctx context.Context, obs *models.TrendObservation) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, symbol, exchange, price, direction) VALUES (?, ?, ?, ?, ?)", s.table)
	_, err := s.db.ExecContext(ctx, q, row(obs)...)
	return err
}

// StoreBatch inserts through a prepared batch, chunked to 2000 rows per commit.
func (s *ClickHouseStorage) StoreBatch(ctx context.Context, obs []*models.TrendObservation) error {
	if len(obs) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(obs); start += chunkSize {
		end := start + chunkSize
		if end > len(obs) {
			end = len(obs)
		}
		if err := s.insertChunk(ctx, obs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ClickHouseStorage) insertChunk(ctx context.Context, chunk []*models.TrendObservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (ts, symbol, exchange, price, direction)", s.table))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, o := range chunk {
		if o == nil || o.Symbol == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, row(o)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.TrendObservation, error) {
	q := fmt.Sprintf("SELECT symbol, exchange, ts, toString(price), direction FROM %s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TrendObservation
	for rows.Next() {
		var (
			o     models.TrendObservation
			price string
			dir   string
		)
		if err := rows.Scan(&o.Symbol, &o.Exchange, &o.ObservedAt, &price, &dir); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		o.Direction = models.Direction(dir)
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // Managed by pkg
}

func row(o *models.TrendObservation) []interface{} {
	return []interface{}{
		o.ObservedAt.UTC(),
		o.Symbol,
		o.Exchange,
		o.Price,
		string(o.Direction),
	}
}

// KafkaPublisher implements Publisher for Kafka.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher. Messages are keyed by symbol so
// one symbol's observations stay ordered within a partition.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, obs *models.TrendObservation) error {
	return p.PublishBatch(ctx, []*models.TrendObservation{obs})
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, obs []*models.TrendObservation) error {
	if len(obs) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(obs))
	for i, o := range obs {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(o.Symbol),
			Value:   o,
			Headers: map[string]string{pkgkafka.HeaderTraceID: fmt.Sprintf("%s-%d", o.Symbol, o.ObservedAt.UnixMilli())},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close leaves the producer open; it is shared with the log collector and
// closed by its owner.
func (p *KafkaPublisher) Close() error {
	return nil
}
