//go:build wireinject
// +build wireinject

package di

import (
	"GridWatch/internal/domain/models"
	"GridWatch/pkg/config"
	"GridWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config, settings models.GridSettings, levels models.GridLevels) (*server.App, func(), error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,
		ProvideAPIMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideCacheService,
		ProvideClickHouseClient,
		ProvideKafkaConsumer,

		// Repositories
		ProvideObservationCache,
		ProvideObservationStorage,
		ProvideObservationPublisher,
		ProvideMarketStream,

		// Use cases
		ProvideObservationProcessor,
		ProvideRealtimePipeline,
		ProvideObservationReporter,
		ProvideStreamSupervisor,
		ProvideGridService,
		ProvideObservationsUseCase,
		ProvideKafkaObservationsHandler,

		// HTTP
		ProvideGridHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
