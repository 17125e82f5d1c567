package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"BollingerChart/internal/domain/repository"
	"BollingerChart/internal/handler/ws"
	"BollingerChart/internal/service/ratelimit"
	"BollingerChart/internal/usecase"
	"BollingerChart/pkg/cache"
	pkgch "BollingerChart/pkg/clickhouse"
	"BollingerChart/pkg/config"
	xhttp "BollingerChart/pkg/http"
	applogger "BollingerChart/pkg/logger"
)

const limiterSweepInterval = time.Minute

// Resources are the long-lived clients the App closes on shutdown. Nil
// members are skipped.
type Resources struct {
	Limiter    *ratelimit.Limiter
	Hub        *ws.Hub
	Publisher  repository.BandPublisher
	Cache      cache.Service
	ClickHouse *pkgch.Client
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	chart      *usecase.ChartUseCase
	handler    xhttp.Handler
	res        Resources
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, chart *usecase.ChartUseCase, handler xhttp.Handler, res Resources) *App {
	return &App{
		cfg:     cfg,
		log:     l,
		chart:   chart,
		handler: handler,
		res:     res,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true, a.cfg.Server.AllowOrigins...),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	// The server answers with an empty chart until the first load completes.
	go a.loadSeries(ctx)

	if a.res.Limiter != nil {
		go a.sweepLimiter(ctx)
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) loadSeries(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, a.cfg.Data.Timeout)
	defer cancel()

	start := time.Now()
	if err := a.chart.LoadSeries(loadCtx); err != nil {
		a.log.Error("initial series load failed", applogger.String("source", a.cfg.Data.Source), applogger.Error(err))
		return
	}
	a.log.Info("series ready",
		applogger.String("source", a.cfg.Data.Source),
		applogger.Int("candles", len(a.chart.Series())),
		applogger.Duration("took", time.Since(start)))
}

func (a *App) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.res.Limiter.Sweep(); n > 0 {
				a.log.Debug("rate limiter swept", applogger.Int("removed", n))
			}
		}
	}
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.res.Hub != nil {
		_ = a.res.Hub.Close()
	}
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.res.Publisher != nil {
		if err := a.res.Publisher.Close(); err != nil {
			a.log.Warn("publisher close error", applogger.Error(err))
		}
	}
	if a.res.Cache != nil {
		if err := a.res.Cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}
	if a.res.ClickHouse != nil {
		if err := a.res.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
