//go:build wireinject
// +build wireinject

package di

import (
	"TradeCore/pkg/config"
	"TradeCore/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Decision engines
		ProvideClassifier,
		ProvideConsensusEngine,
		ProvideSizer,
		ProvidePlanner,

		// External collaborators
		ProvideTTLCache,
		ProvideRiskClient,
		ProvideRiskSource,
		ProvideCorrelationSource,
		ProvideMarketFeed,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideDecisionPublisher,
		ProvideDecisionStore,
		ProvideLocker,
		ProvideSnapshotCache,
		ProvideKafkaConsumer,

		// Use cases
		ProvideDecisionService,
		ProvideTickCollector,
		ProvideOutcomesHandler,

		// HTTP
		ProvideRateLimiter,
		ProvideHTTPHandler,

		ProvideApp,
	)
	return nil, nil
}
