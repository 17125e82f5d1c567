package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"BollingerChart/internal/domain/models"
	domrepo "BollingerChart/internal/domain/repository"
	"BollingerChart/internal/services/bands"
	"BollingerChart/internal/services/render"
	"BollingerChart/pkg/cache"
	applogger "BollingerChart/pkg/logger"
)

// ChartConfig holds the use case settings that come from configuration.
type ChartConfig struct {
	Symbol      string
	Inputs      models.InputParameters
	CachePrefix string
	CacheTTL    time.Duration
}

// RecomputeEvent is delivered after the band series has been replaced.
type RecomputeEvent struct {
	Inputs     models.InputParameters `json:"inputs"`
	ShortName  string                 `json:"shortName"`
	Points     []models.BandPoint     `json:"points"`
	Timestamps []int64                `json:"timestamps"`
}

// ChartUseCase owns the chart state: the loaded series, the indicator inputs
// and styles, and the current band points. Input or series changes recompute
// the points; style changes only notify restyle observers.
type ChartUseCase struct {
	source    domrepo.CandleSource
	publisher domrepo.BandPublisher
	metrics   domrepo.Metrics
	cache     cache.Service
	cfg       ChartConfig
	l         *applogger.Logger

	mu      sync.RWMutex
	series  []models.Candle
	version uint64
	loaded  bool
	inputs  models.InputParameters
	styles  models.StyleParameters
	points  []models.BandPoint
	issued  uint64

	// Notifications run one at a time in the order their changes were
	// committed under mu. Observers must not call back into the use case.
	turnMu   sync.Mutex
	turnCond *sync.Cond
	served   uint64

	obsMu       sync.RWMutex
	onRecompute []func(RecomputeEvent)
	onRestyle   []func(models.StyleParameters)
}

var styleValidator = validator.New()

func NewChartUseCase(
	source domrepo.CandleSource,
	publisher domrepo.BandPublisher,
	metrics domrepo.Metrics,
	c cache.Service,
	l *applogger.Logger,
	cfg ChartConfig,
) (*ChartUseCase, error) {
	if err := bands.Validate(cfg.Inputs); err != nil {
		return nil, fmt.Errorf("initial inputs: %w", err)
	}
	if c == nil {
		c = cache.Nop{}
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "bb"
	}
	uc := &ChartUseCase{
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		cache:     c,
		cfg:       cfg,
		l:         l,
		inputs:    cfg.Inputs,
		styles:    models.DefaultStyleParameters(),
		points:    []models.BandPoint{},
	}
	uc.turnCond = sync.NewCond(&uc.turnMu)
	return uc, nil
}

// OnRecompute registers fn to run after every recomputation.
func (uc *ChartUseCase) OnRecompute(fn func(RecomputeEvent)) {
	uc.obsMu.Lock()
	defer uc.obsMu.Unlock()
	uc.onRecompute = append(uc.onRecompute, fn)
}

// OnRestyle registers fn to run after every style change.
func (uc *ChartUseCase) OnRestyle(fn func(models.StyleParameters)) {
	uc.obsMu.Lock()
	defer uc.obsMu.Unlock()
	uc.onRestyle = append(uc.onRestyle, fn)
}

// LoadSeries pulls the series from the configured source and recomputes.
// On failure the previous series stays in place.
func (uc *ChartUseCase) LoadSeries(ctx context.Context) error {
	candles, err := uc.source.Load(ctx)
	if err != nil {
		uc.recordError(err)
		uc.l.Error("load series failed", applogger.Error(err))
		return fmt.Errorf("load series: %w", err)
	}
	return uc.SetSeries(ctx, candles)
}

// SetSeries replaces the series and recomputes with the current inputs.
func (uc *ChartUseCase) SetSeries(ctx context.Context, candles []models.Candle) error {
	series := append([]models.Candle(nil), candles...)

	uc.mu.Lock()
	points, err := uc.compute(series, uc.inputs)
	if err != nil {
		uc.mu.Unlock()
		uc.recordError(err)
		uc.l.Error("series rejected", applogger.Int("candles", len(series)), applogger.Error(err))
		return err
	}
	uc.series = series
	uc.version++
	uc.loaded = true
	uc.points = points
	ev := uc.eventLocked()
	ticket := uc.ticketLocked()
	uc.mu.Unlock()

	if uc.metrics != nil {
		uc.metrics.RecordSeriesSize(len(series))
	}
	if err := uc.cache.DeleteByPattern(ctx, cache.BuildPattern(uc.computeKeyPrefix())); err != nil {
		uc.l.Warn("compute cache invalidation failed", applogger.Error(err))
	}
	uc.l.Info("series loaded", applogger.Int("candles", len(series)))
	uc.inTurn(ticket, func() { uc.afterRecompute(ctx, ev) })
	return nil
}

// UpdateInputs recomputes the bands with p. Invalid inputs are rejected and
// the previous inputs and points are kept.
func (uc *ChartUseCase) UpdateInputs(ctx context.Context, p models.InputParameters) (RecomputeEvent, error) {
	uc.mu.Lock()
	points, err := uc.compute(uc.series, p)
	if err != nil {
		uc.mu.Unlock()
		uc.recordError(err)
		uc.l.Warn("inputs rejected", applogger.Any("inputs", p), applogger.Error(err))
		return RecomputeEvent{}, err
	}
	uc.inputs = p
	uc.points = points
	ev := uc.eventLocked()
	ticket := uc.ticketLocked()
	uc.mu.Unlock()

	uc.inTurn(ticket, func() { uc.afterRecompute(ctx, ev) })
	return ev, nil
}

// UpdateStyles replaces the styles. The band points are not touched.
func (uc *ChartUseCase) UpdateStyles(s models.StyleParameters) error {
	if err := styleValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: styles: %v", models.ErrInvalidParameter, err)
	}

	uc.mu.Lock()
	uc.styles = s
	ticket := uc.ticketLocked()
	uc.mu.Unlock()

	uc.inTurn(ticket, func() {
		uc.obsMu.RLock()
		observers := append([]func(models.StyleParameters){}, uc.onRestyle...)
		uc.obsMu.RUnlock()
		for _, fn := range observers {
			fn(s)
		}
	})
	return nil
}

// Compute runs a one-off computation over the loaded series without touching
// the chart state. Results are cached per series version and parameter set.
func (uc *ChartUseCase) Compute(ctx context.Context, p models.InputParameters) ([]models.BandPoint, error) {
	if err := bands.Validate(p); err != nil {
		uc.recordError(err)
		return nil, err
	}

	uc.mu.RLock()
	series, version := uc.series, uc.version
	uc.mu.RUnlock()

	key := cache.GenerateKeyWithParams(uc.computeKeyPrefix(), version, p.Length, p.StdDevMultiplier, p.Offset, p.Source)
	var cached []models.BandPoint
	if err := uc.cache.Get(ctx, key, &cached); err == nil {
		uc.recordCache(true)
		return cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		uc.l.Warn("compute cache read failed", applogger.String("key", key), applogger.Error(err))
	}
	uc.recordCache(false)

	points, err := uc.compute(series, p)
	if err != nil {
		uc.recordError(err)
		return nil, err
	}
	if err := uc.cache.Set(ctx, key, points, uc.cfg.CacheTTL); err != nil {
		uc.l.Warn("compute cache write failed", applogger.String("key", key), applogger.Error(err))
	}
	return points, nil
}

func (uc *ChartUseCase) Inputs() models.InputParameters {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.inputs
}

func (uc *ChartUseCase) Styles() models.StyleParameters {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.styles
}

// Series returns a copy of the loaded candles; empty until the first load.
func (uc *ChartUseCase) Series() []models.Candle {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return append([]models.Candle{}, uc.series...)
}

// Points returns a copy of the current band points.
func (uc *ChartUseCase) Points() []models.BandPoint {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return append([]models.BandPoint{}, uc.points...)
}

// Loaded reports whether a series has been loaded.
func (uc *ChartUseCase) Loaded() bool {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.loaded
}

// Indicator describes the current state for the chart widget.
func (uc *ChartUseCase) Indicator() render.Indicator {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return render.Build(uc.inputs, append([]models.BandPoint{}, uc.points...), uc.styles)
}

func (uc *ChartUseCase) compute(series []models.Candle, p models.InputParameters) ([]models.BandPoint, error) {
	start := time.Now()
	points, err := bands.Compute(series, p)
	if err != nil {
		return nil, err
	}
	if uc.metrics != nil {
		uc.metrics.RecordComputation(string(p.Source), len(points), time.Since(start).Seconds())
	}
	return points, nil
}

// eventLocked must be called with uc.mu held.
func (uc *ChartUseCase) eventLocked() RecomputeEvent {
	ts := make([]int64, len(uc.series))
	for i, c := range uc.series {
		ts[i] = c.Timestamp
	}
	return RecomputeEvent{
		Inputs:     uc.inputs,
		ShortName:  render.ShortName(uc.inputs),
		Points:     append([]models.BandPoint{}, uc.points...),
		Timestamps: ts,
	}
}

// ticketLocked must be called with uc.mu held. Every ticket issued must be
// passed to inTurn or later notifications block forever.
func (uc *ChartUseCase) ticketLocked() uint64 {
	uc.issued++
	return uc.issued
}

// inTurn runs fn after the notifications of every earlier ticket have run.
func (uc *ChartUseCase) inTurn(ticket uint64, fn func()) {
	uc.turnMu.Lock()
	for uc.served+1 != ticket {
		uc.turnCond.Wait()
	}
	uc.turnMu.Unlock()

	defer func() {
		uc.turnMu.Lock()
		uc.served = ticket
		uc.turnCond.Broadcast()
		uc.turnMu.Unlock()
	}()
	fn()
}

func (uc *ChartUseCase) afterRecompute(ctx context.Context, ev RecomputeEvent) {
	uc.obsMu.RLock()
	observers := append([]func(RecomputeEvent){}, uc.onRecompute...)
	uc.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}

	if uc.publisher == nil {
		return
	}
	err := uc.publisher.Publish(ctx, &domrepo.BandsEvent{
		Symbol:     uc.cfg.Symbol,
		Inputs:     ev.Inputs,
		Points:     ev.Points,
		Timestamps: ev.Timestamps,
		ComputedAt: time.Now().UnixMilli(),
	})
	if uc.metrics != nil {
		uc.metrics.RecordPublished(err)
	}
	if err != nil {
		uc.l.Warn("publish bands failed", applogger.Error(err))
	}
}

func (uc *ChartUseCase) computeKeyPrefix() string {
	return cache.GenerateKey(uc.cfg.CachePrefix, "compute")
}

func (uc *ChartUseCase) recordCache(hit bool) {
	if uc.metrics != nil {
		uc.metrics.RecordCacheResult(hit)
	}
}

func (uc *ChartUseCase) recordError(err error) {
	if uc.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, models.ErrInvalidParameter):
		uc.metrics.RecordError("invalid_parameter")
	case errors.Is(err, models.ErrMalformedInput):
		uc.metrics.RecordError("malformed_input")
	default:
		uc.metrics.RecordError("load")
	}
}
