//go:build wireinject
// +build wireinject

package di

import (
	"MarketPull/pkg/config"
	"MarketPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Repositories
		ProvideBarStore,
		ProvideBarPublisher,
		ProvideExchangeREST,
		ProvideMarketStream,

		// Use cases
		ProvideBarProcessor,
		ProvideBarCollector,
		ProvideKafkaBarsHandler,
		ProvideTickerBoard,
		ProvideCandlesUseCase,
		ProvideIndicatorsUseCase,
		ProvideMoversUseCase,
		ProvideBackfillQueue,

		// HTTP layer
		ProvideMarketHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
