//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"BollingerChart/internal/domain/repository"
	"BollingerChart/internal/handler/ws"
	"BollingerChart/pkg/config"
	"BollingerChart/pkg/metrics"
	"BollingerChart/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,

		// Metrics
		ProvideMetrics,
		wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),
		wire.Bind(new(ws.SubscriberGauge), new(*metrics.Recorder)),

		// Infrastructure
		ProvideClickHouseClient,
		ProvideCandleSource,
		ProvideCache,
		ProvideBandPublisher,

		// Use cases
		ProvideChartUseCase,

		// Transport
		ProvideLimiter,
		ProvideChartHandler,
		ProvideHub,
		ProvideHandlers,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
