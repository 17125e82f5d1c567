package di

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"BollingerChart/internal/domain/models"
	"BollingerChart/internal/domain/repository"
	"BollingerChart/internal/handler/api"
	"BollingerChart/internal/handler/ws"
	mid "BollingerChart/internal/middleware"
	internalrepo "BollingerChart/internal/repository"
	"BollingerChart/internal/service/ratelimit"
	"BollingerChart/internal/usecase"
	"BollingerChart/pkg/cache"
	pkgch "BollingerChart/pkg/clickhouse"
	"BollingerChart/pkg/config"
	xhttp "BollingerChart/pkg/http"
	"BollingerChart/pkg/http/middleware"
	pkgkafka "BollingerChart/pkg/kafka"
	applogger "BollingerChart/pkg/logger"
	"BollingerChart/pkg/metrics"
	"BollingerChart/pkg/server"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics registers the Prometheus collectors on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient connects to ClickHouse when it is the candle source.
// Other sources get a nil client.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, error) {
	if cfg.Data.Source != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(4, 2),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	l.Info("clickhouse connected",
		applogger.String("host", cfg.ClickHouse.Host),
		applogger.String("database", cfg.ClickHouse.Database))
	return client, nil
}

// ProvideCandleSource picks the series loader named by data.source.
func ProvideCandleSource(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) (repository.CandleSource, error) {
	switch cfg.Data.Source {
	case "url":
		client := xhttp.NewClient(
			xhttp.WithTimeout(cfg.Data.Timeout),
			xhttp.WithMaxBodyBytes(cfg.Data.MaxBodyBytes),
		)
		return internalrepo.NewJSONURLSource(client, cfg.Data.URL, l), nil
	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("clickhouse source without a client")
		}
		tf := repository.NormalizeTimeframe(cfg.Data.Timeframe)
		return internalrepo.NewClickHouseCandleSource(ch, cfg.ClickHouse.Database, cfg.Data.Symbol, tf, cfg.Data.Limit, l)
	default:
		return internalrepo.NewJSONFileSource(cfg.Data.Path, l), nil
	}
}

// ProvideCache builds the compute result cache.
func ProvideCache(cfg *config.Config, l *applogger.Logger) (cache.Service, error) {
	cc := cfg.Cache
	newRedis := func() (*cache.RedisCache, error) {
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(cc.Redis.Addr),
			cache.WithRedisPassword(cc.Redis.Password),
			cache.WithRedisDB(cc.Redis.DB),
			cache.WithRedisPool(cc.Redis.PoolSize, 2, 0),
			cache.WithRedisPrefix(cc.KeyPrefix),
		)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return rc, nil
	}

	switch cc.Type {
	case "none":
		return cache.Nop{}, nil
	case "redis":
		rc, err := newRedis()
		if err != nil {
			return nil, err
		}
		l.Info("redis cache ready", applogger.String("addr", cc.Redis.Addr))
		return rc, nil
	case "layered":
		rc, err := newRedis()
		if err != nil {
			return nil, err
		}
		l.Info("layered cache ready", applogger.String("addr", cc.Redis.Addr))
		return cache.NewLayeredCache(rc,
			cache.WithLayeredMemorySize(cc.MaxSize),
			cache.WithLayeredMemoryTTL(cc.TTL),
		), nil
	default:
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cc.MaxSize),
			cache.WithMemoryDefaultTTL(cc.TTL),
			cache.WithMemoryCleanup(cc.Cleanup),
		), nil
	}
}

// ProvideBandPublisher returns a Kafka publisher when Kafka is enabled.
// Failed publishes are buffered and retried by a PublishPipeline.
func ProvideBandPublisher(cfg *config.Config, m repository.Metrics, l *applogger.Logger) (repository.BandPublisher, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopBandPublisher{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithTopic(cfg.Kafka.Topic),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	l.Info("kafka publisher ready",
		applogger.Strings("brokers", cfg.Kafka.Brokers),
		applogger.String("topic", producer.Topic()))
	pipe := mid.NewPublishPipeline(
		internalrepo.NewKafkaBandPublisher(producer, cfg.Data.Symbol), m, l,
		mid.WithBufferSize(cfg.Kafka.RetryBuffer),
	)
	pipe.Start(context.Background())
	return pipe, nil
}

// ProvideChartUseCase creates the chart state holder with the configured inputs.
func ProvideChartUseCase(
	cfg *config.Config,
	source repository.CandleSource,
	pub repository.BandPublisher,
	m repository.Metrics,
	c cache.Service,
	l *applogger.Logger,
) (*usecase.ChartUseCase, error) {
	return usecase.NewChartUseCase(source, pub, m, c, l, usecase.ChartConfig{
		Symbol: cfg.Data.Symbol,
		Inputs: models.InputParameters{
			Length:           cfg.Indicator.Length,
			StdDevMultiplier: cfg.Indicator.StdDev,
			Offset:           cfg.Indicator.Offset,
			Source:           models.Source(cfg.Indicator.Source),
		},
		CachePrefix: "chart",
		CacheTTL:    cfg.Cache.TTL,
	})
}

// ProvideLimiter returns nil when rate limiting is disabled.
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
}

// ProvideChartHandler creates the REST handler. A ClickHouse client, when
// present, is part of the health check.
func ProvideChartHandler(l *applogger.Logger, chart *usecase.ChartUseCase, lim *ratelimit.Limiter, ch *pkgch.Client) *api.ChartEchoHandler {
	var allower middleware.Allower
	if lim != nil {
		allower = lim
	}
	h := api.NewChartEchoHandler(l, chart, allower)
	if ch != nil {
		h.AddHealthCheck("clickhouse", ch.Health)
	}
	return h
}

// ProvideHub returns nil when websockets are disabled.
func ProvideHub(cfg *config.Config, chart *usecase.ChartUseCase, gauge ws.SubscriberGauge, l *applogger.Logger) *ws.Hub {
	if !cfg.WebSocket.Enabled {
		return nil
	}
	return ws.NewHub(chart, gauge, l, ws.Config{
		SendBuffer:   cfg.WebSocket.SendBuffer,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		AllowOrigins: cfg.Server.AllowOrigins,
	})
}

// ProvideHandlers collects every route registrar.
func ProvideHandlers(chart *api.ChartEchoHandler, hub *ws.Hub) xhttp.Handlers {
	hs := xhttp.Handlers{chart}
	if hub != nil {
		hs = append(hs, hub)
	}
	return hs
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	chart *usecase.ChartUseCase,
	handlers xhttp.Handlers,
	lim *ratelimit.Limiter,
	hub *ws.Hub,
	pub repository.BandPublisher,
	c cache.Service,
	ch *pkgch.Client,
) *server.App {
	return server.New(cfg, l, chart, handlers, server.Resources{
		Limiter:    lim,
		Hub:        hub,
		Publisher:  pub,
		Cache:      c,
		ClickHouse: ch,
	})
}
