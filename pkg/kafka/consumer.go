package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	applogger "GridWatch/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer fetches from one reader per registered topic and hands messages
// to a worker pool. Messages of one partition are handled one at a time and
// committed only after success or a dead letter write.
type Consumer struct {
	cfg     *ConsumerConfig
	log     *applogger.Logger
	metrics *consumerMetrics
	hook    ConsumerHook

	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer

	queue    chan kafka.Message
	ctx      context.Context
	cancel   context.CancelFunc
	readerWg sync.WaitGroup
	workerWg sync.WaitGroup
	stopOnce sync.Once

	partMu    sync.Mutex
	partLocks map[partitionKey]*sync.Mutex
}

type partitionKey struct {
	topic     string
	partition int
}

// NewConsumer validates the options; nothing connects until Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:         "gridwatch",
		AutoOffsetReset: "earliest",
		WorkerCount:     1,
		BufferSize:      10,
		RetryMax:        3,
		BackoffMin:      50 * time.Millisecond,
		BackoffMax:      2 * time.Second,
		MinBytes:        10e3,
		MaxBytes:        10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applogger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:       cfg,
		log:       cfg.Logger,
		metrics:   newConsumerMetrics(cfg.Registerer),
		hook:      HookChain{},
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]*kafka.Reader),
		queue:     make(chan kafka.Message, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
		partLocks: make(map[partitionKey]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.DLQTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	return c, nil
}

// WithConsumerHook replaces the hook. Call before Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler registers h for its topic. A second handler for the same
// topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("kafka consumer: handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start creates the readers and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}

	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
			StartOffset: startOffset(c.cfg.AutoOffsetReset),
		})
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workerWg.Add(1)
		go c.work()
	}
	for topic, r := range c.readers {
		c.readerWg.Add(1)
		go c.fetch(topic, r)
	}

	c.log.Info("kafka consumer: started",
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.String("group", c.cfg.GroupID),
	)
	return nil
}

// Stop cancels fetching and in-flight retries, then waits for the workers.
// Uncommitted messages are redelivered to the group later.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()

		// Readers send on queue, so they finish before it is closed
		if err = waitGroup(ctx, &c.readerWg); err == nil {
			close(c.queue)
			err = waitGroup(ctx, &c.workerWg)
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("kafka consumer: close dlq writer", applogger.Error(cerr))
			}
		}
		if err == nil {
			c.log.Info("kafka consumer: stopped")
		}
	})
	return err
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	}
}

// fetch blocks on the queue when workers fall behind.
func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.readerWg.Done()

	for {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka consumer: fetch", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-c.ctx.Done():
				return
			}
		}

		select {
		case c.queue <- msg:
			c.metrics.setQueue(topic, len(c.queue), cap(c.queue))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work() {
	defer c.workerWg.Done()
	for msg := range c.queue {
		c.process(msg)
	}
}

func (c *Consumer) process(msg kafka.Message) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("kafka consumer: panic in handler", applogger.String("topic", msg.Topic), applogger.Any("panic", r))
		}
		c.metrics.handleLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
	}()

	h, ok := c.handlers[msg.Topic]
	if !ok {
		return
	}

	pl := c.partitionLock(msg.Topic, msg.Partition)
	pl.Lock()
	defer pl.Unlock()

	err := c.handleWithRetry(h, msg)
	switch {
	case err == nil:
		c.metrics.handled.WithLabelValues(msg.Topic, "ok").Inc()
	case c.ctx.Err() != nil:
		// Shutting down mid-retry; leave it for redelivery
		return
	default:
		c.metrics.handled.WithLabelValues(msg.Topic, "failed").Inc()
		c.log.Error("kafka consumer: handle message",
			applogger.String("topic", msg.Topic),
			applogger.Int64("offset", msg.Offset),
			applogger.Error(err),
		)
		if !c.deadLetter(msg, err) {
			return
		}
	}

	if err := c.commit(msg); err != nil {
		c.log.Error("kafka consumer: commit offset", applogger.String("topic", msg.Topic), applogger.Int64("offset", msg.Offset), applogger.Error(err))
	}
}

// handleWithRetry runs hooks and handler up to RetryMax+1 times.
func (c *Consumer) handleWithRetry(h MessageHandler, msg kafka.Message) error {
	d := &Delivery{}
	op := func() error {
		d.Attempt++
		d.Msg = msg

		ctx, err := c.hook.Before(c.ctx, d)
		if err == nil {
			err = h.Handle(ctx, d.Msg.Value)
			c.hook.After(ctx, d, err)
			if err != nil {
				c.hook.OnError(ctx, d, err)
			}
		}
		return err
	}
	return backoff.Retry(op, c.retryPolicy())
}

func (c *Consumer) retryPolicy() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.BackoffMin
	exp.MaxInterval = c.cfg.BackoffMax
	exp.RandomizationFactor = 0.5
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(c.cfg.RetryMax, 0))), c.ctx)
}

// deadLetter reports whether msg may be committed.
func (c *Consumer) deadLetter(msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	err := c.dlq.WriteMessages(c.ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
	if err != nil {
		c.log.Error("kafka consumer: write dlq", applogger.String("topic", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	c.metrics.handled.WithLabelValues(msg.Topic, "dead_lettered").Inc()
	return true
}

// commit runs after Stop has been requested too, so it uses its own context.
func (c *Consumer) commit(msg kafka.Message) error {
	r := c.readers[msg.Topic]
	if r == nil {
		return nil
	}
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return r.CommitMessages(ctx, msg)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 50 * time.Millisecond
	exp.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(op, backoff.WithMaxRetries(exp, 2))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.partMu.Lock()
	defer c.partMu.Unlock()
	k := partitionKey{topic, partition}
	if l, ok := c.partLocks[k]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.partLocks[k] = l
	return l
}

func startOffset(reset string) int64 {
	if reset == "latest" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

type consumerMetrics struct {
	queueDepth    *prometheus.GaugeVec
	queueFullness *prometheus.GaugeVec
	handled       *prometheus.CounterVec
	handleLatency *prometheus.HistogramVec
}

var (
	defaultConsumerMetrics     *consumerMetrics
	defaultConsumerMetricsOnce sync.Once
)

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	if reg == nil {
		defaultConsumerMetricsOnce.Do(func() {
			defaultConsumerMetrics = buildConsumerMetrics(prometheus.DefaultRegisterer)
		})
		return defaultConsumerMetrics
	}
	return buildConsumerMetrics(reg)
}

func buildConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gridwatch_kafka_consumer_queue_depth", Help: "Messages waiting for a worker"},
			[]string{"topic"},
		),
		queueFullness: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "gridwatch_kafka_consumer_queue_fullness", Help: "Worker queue utilization (len/cap)"},
			[]string{"topic"},
		),
		handled: f.NewCounterVec(
			prometheus.CounterOpts{Name: "gridwatch_kafka_consumer_messages_total", Help: "Consumed messages by outcome"},
			[]string{"topic", "result"},
		),
		handleLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "gridwatch_kafka_consumer_handle_seconds", Help: "Handling time per message including retries"},
			[]string{"topic"},
		),
	}
}

func (m *consumerMetrics) setQueue(topic string, n, capacity int) {
	m.queueDepth.WithLabelValues(topic).Set(float64(n))
	if capacity > 0 {
		m.queueFullness.WithLabelValues(topic).Set(float64(n) / float64(capacity))
	}
}
