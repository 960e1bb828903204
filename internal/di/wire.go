//go:build wireinject
// +build wireinject

package di

import (
	"FinPilot/pkg/config"
	"FinPilot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStore,
		ProvideCache,
		ProvideKafkaProducer,

		// Services
		ProvideNotificationTransport,
		ProvideDispatcher,
		ProvideHealthProbe,
		ProvideModelRunner,

		// Use cases
		ProvideModelInvoker,
		ProvidePipelineSteps,
		ProvideOrchestrator,
		ProvideScheduler,
		ProvideTriggerConsumer,

		// Transport
		ProvidePipelineHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
