package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	drepo "GridWatch/internal/domain/repository"
	mid "GridWatch/internal/middleware"
	"GridWatch/internal/usecase"
	"GridWatch/pkg/config"
	xhttp "GridWatch/pkg/http"
	pkgkafka "GridWatch/pkg/kafka"
	applogger "GridWatch/pkg/logger"
)

const statusProbeTimeout = 10 * time.Second

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	stream     drepo.MarketStream
	supervisor *usecase.StreamSupervisor
	grid       *usecase.GridService
	pipeline   *mid.RealtimePipeline
	processor  *usecase.ObservationProcessor
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	stream drepo.MarketStream,
	supervisor *usecase.StreamSupervisor,
	grid *usecase.GridService,
	pipeline *mid.RealtimePipeline,
	processor *usecase.ObservationProcessor,
) *App {
	return &App{
		cfg:        cfg,
		logger:     logger,
		stream:     stream,
		supervisor: supervisor,
		grid:       grid,
		pipeline:   pipeline,
		processor:  processor,
	}
}

// SetConsumer attaches a Kafka consumer and the handler it feeds.
func (a *App) SetConsumer(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) {
	a.consumer, a.kh = c, h
}

// SetHTTPServer attaches the HTTP API.
func (a *App) SetHTTPServer(s *xhttp.Server) { a.httpServer = s }

// Run starts the application and blocks until SIGINT/SIGTERM or until the
// supervisor stops on its own. A supervisor that stops by itself, e.g. because
// the exchange cannot stream tickers, is returned as an error.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext is Run driven by ctx instead of process signals.
func (a *App) RunContext(ctx context.Context) error {
	snap, err := a.grid.Build(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("grid ready",
		applogger.String("symbol", snap.Symbol),
		applogger.Int("levels", len(snap.Levels)),
		applogger.String("min", snap.Min.String()),
		applogger.String("max", snap.Max.String()),
	)

	a.probeStatus(ctx)

	// Delivery outlives ctx so Stop can flush what the supervisor reported last.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	a.pipeline.Start(workCtx)

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			a.logger.Error("kafka consumer start error", applogger.Error(err))
		} else {
			a.logger.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.logger.Error("http server start error", applogger.Error(err))
			return err
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	errCh := make(chan error, 1)
	go func() { errCh <- a.supervisor.Run(runCtx) }()
	a.logger.Info("supervisor started",
		applogger.String("symbol", a.supervisor.Symbol()),
		applogger.String("exchange", a.stream.Name()),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		cancelRun()
		<-errCh
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			runErr = err
			a.logger.Error("supervisor stopped", applogger.Error(err))
		}
	}

	a.shutdown()
	return runErr
}

// probeStatus checks the exchange platform status. A failed probe is only a warning.
func (a *App) probeStatus(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()
	if err := a.stream.Status(pctx); err != nil {
		a.logger.Warn("exchange status probe failed", applogger.String("exchange", a.stream.Name()), applogger.Error(err))
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() {
	a.logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Flush what the supervisor already reported
	if err := a.pipeline.Stop(ctx); err != nil {
		a.logger.Warn("pipeline stop error", applogger.Error(err))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Storage and producer connections are closed by their providers
	a.processor.Close()

	a.logger.Info("shutdown complete")
}
