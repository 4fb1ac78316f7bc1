package di

import (
	"context"
	"fmt"
	"time"

	"GridWatch/internal/domain/models"
	"GridWatch/internal/domain/repository"
	"GridWatch/internal/handler/api"
	mid "GridWatch/internal/middleware"
	internalrepo "GridWatch/internal/repository"
	"GridWatch/internal/service/market"
	apimetrics "GridWatch/internal/service/metrics"
	"GridWatch/internal/services/trend"
	"GridWatch/internal/usecase"
	"GridWatch/pkg/cache"
	pkgch "GridWatch/pkg/clickhouse"
	"GridWatch/pkg/config"
	xhttp "GridWatch/pkg/http"
	pkgkafka "GridWatch/pkg/kafka"
	applogger "GridWatch/pkg/logger"
	"GridWatch/pkg/metrics"
	"GridWatch/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideRegistry creates the registry every collector of the process lands on.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideKafkaProducer creates a Kafka producer when the observation backend
// or the log collector needs one; otherwise it returns nil.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if cfg.Backend.Type != usecase.BackendKafka && cfg.Kafka.LogTopic == "" {
		return nil, func() {}, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts, cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With kafka.log_topic set,
// repeated error logs are aggregated and shipped through the producer.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	if cfg.Kafka.LogTopic == "" || producer == nil {
		return l, func() {}, nil
	}
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.LogTopic,
		Source:         cfg.Environment,
		Publisher:      producer,
	})
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

// ProvideCacheService creates a Redis-backed layered cache when Redis is
// enabled, an in-process cache otherwise.
func ProvideCacheService(cfg *config.Config) (cache.Service, func(), error) {
	if !cfg.Redis.Enabled {
		mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Minute))
		return mc, func() { _ = mc.Close() }, nil
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.RedisAddr()),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, err
	}
	lc := cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(5*time.Second))
	return lc, func() { _ = lc.Close() }, nil
}

// ProvideObservationCache wraps the cache service with observation keys.
func ProvideObservationCache(svc cache.Service, cfg *config.Config) repository.ObservationCache {
	return internalrepo.NewObservationCache(svc, cfg.Redis.TTL)
}

// ProvideClickHouseClient connects to ClickHouse when any component needs it;
// otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.UsesClickHouse() {
		return nil, func() {}, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureDatabase(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	return client, func() { _ = client.Close() }, nil
}

// ProvideObservationStorage creates the observations table and returns the
// storage, or nil when ClickHouse is not configured.
func ProvideObservationStorage(client *pkgch.Client, cfg *config.Config) (repository.Storage, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseStorage(client.DB(), client.Table(cfg.ClickHouse.Table))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideObservationPublisher creates the Kafka publisher for backend kafka.
func ProvideObservationPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil || cfg.Backend.Type != usecase.BackendKafka {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideObservationProcessor creates the backend router.
func ProvideObservationProcessor(
	pub repository.Publisher,
	store repository.Storage,
	metrics repository.Metrics,
	cfg *config.Config,
) *usecase.ObservationProcessor {
	backend := cfg.Backend.Type
	if backend == usecase.BackendClickHouse && store == nil {
		backend = usecase.BackendNone
	}
	return usecase.NewObservationProcessor(pub, store, metrics, backend)
}

// ProvideRealtimePipeline places the buffered, throttled pipeline in front of the processor.
func ProvideRealtimePipeline(processor *usecase.ObservationProcessor, metrics repository.Metrics, cfg *config.Config) *mid.RealtimePipeline {
	return mid.NewRealtimePipeline(processor, metrics,
		mid.WithMaxRPS(int(cfg.Pipeline.MaxRPS)),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithBatchSize(cfg.Backend.BatchSize),
		mid.WithDeliveryTimeout(cfg.Backend.BatchTimeout),
	)
}

// ProvideMarketStream creates the configured exchange adapter.
func ProvideMarketStream(cfg *config.Config, settings models.GridSettings, logger *applogger.Logger) (repository.MarketStream, error) {
	return market.NewStream(cfg.Exchange, settings.GridConfig(), logger.With(applogger.String("component", "market")))
}

// ProvideObservationReporter logs, caches and forwards supervisor events.
func ProvideObservationReporter(
	logger *applogger.Logger,
	settings models.GridSettings,
	pipeline *mid.RealtimePipeline,
	obsCache repository.ObservationCache,
) (repository.Reporter, func()) {
	r := usecase.NewObservationReporter(logger, settings.Symbol(), settings.QuoteCurrency,
		usecase.WithSink(pipeline),
		usecase.WithObservationCache(obsCache),
	)
	return r, r.Close
}

// ProvideStreamSupervisor creates the supervisor for the configured symbol.
func ProvideStreamSupervisor(
	stream repository.MarketStream,
	reporter repository.Reporter,
	metrics repository.Metrics,
	settings models.GridSettings,
	cfg *config.Config,
	logger *applogger.Logger,
) (*usecase.StreamSupervisor, error) {
	retry, err := usecase.NewRetryPolicy(cfg.Supervisor.RetryPolicy, cfg.Supervisor.BackoffInitial, cfg.Supervisor.BackoffMax)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	return usecase.NewStreamSupervisor(stream, reporter, metrics, settings.Symbol(),
		usecase.WithClassifier(trend.Strategy(cfg.Supervisor.FlatDirection)),
		usecase.WithRetryPolicy(retry),
		usecase.WithSupervisorLogger(logger.With(applogger.String("component", "supervisor"))),
	), nil
}

// ProvideGridService creates the grid owner for the run.
func ProvideGridService(settings models.GridSettings, levels models.GridLevels, cfg *config.Config, obsCache repository.ObservationCache) *usecase.GridService {
	return usecase.NewGridService(settings, cfg.Grid.MaxLevels, obsCache, usecase.WithLevels(levels))
}

// ProvideObservationsUseCase exposes stored history.
func ProvideObservationsUseCase(store repository.Storage) *usecase.ObservationsUseCase {
	return usecase.NewObservationsUseCase(store)
}

// ProvideAPIMetrics registers API metrics.
func ProvideAPIMetrics(reg *prometheus.Registry) *apimetrics.APIMetrics {
	return apimetrics.NewAPIMetrics(reg)
}

// ProvideGridHandler creates the Echo handler.
func ProvideGridHandler(
	logger *applogger.Logger,
	grid *usecase.GridService,
	history *usecase.ObservationsUseCase,
	obsCache repository.ObservationCache,
	store repository.Storage,
	m *apimetrics.APIMetrics,
) *api.GridEchoHandler {
	return api.NewGridEchoHandler(logger, grid, history, obsCache, store, m)
}

// ProvideHTTPServer creates the HTTP server, or nil when it is disabled.
func ProvideHTTPServer(cfg *config.Config, handler *api.GridEchoHandler, logger *applogger.Logger, reg *prometheus.Registry) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(handler,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithLogger(logger.With(applogger.String("component", "http"))),
		xhttp.WithMetrics(metricsPath, reg, reg),
	)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil
// when kafka.consumer.enabled is false.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, logger *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	l := logger.With(applogger.String("component", "kafka-consumer"))
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.OffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.LoggingHook(l)))
	return consumer, nil
}

// ProvideKafkaObservationsHandler persists consumed observations to ClickHouse.
func ProvideKafkaObservationsHandler(store repository.Storage, metrics repository.Metrics, cfg *config.Config) *usecase.KafkaObservationsHandler {
	if store == nil {
		return nil
	}
	return usecase.NewKafkaObservationsHandler(cfg.Kafka.Topic, store, metrics)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	logger *applogger.Logger,
	stream repository.MarketStream,
	supervisor *usecase.StreamSupervisor,
	grid *usecase.GridService,
	pipeline *mid.RealtimePipeline,
	processor *usecase.ObservationProcessor,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaObservationsHandler,
	httpServer *xhttp.Server,
) *server.App {
	app := server.New(cfg, logger, stream, supervisor, grid, pipeline, processor)
	if consumer != nil && kh != nil {
		app.SetConsumer(consumer, kh)
	}
	if httpServer != nil {
		app.SetHTTPServer(httpServer)
	}
	return app
}
