package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"BollingerChart/internal/domain/models"
	domrepo "BollingerChart/internal/domain/repository"
	"BollingerChart/pkg/cache"
	applogger "BollingerChart/pkg/logger"
)

type stubSource struct {
	candles []models.Candle
	err     error
}

func (s *stubSource) Load(context.Context) ([]models.Candle, error) { return s.candles, s.err }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domrepo.BandsEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *domrepo.BandsEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type countingMetrics struct {
	mu           sync.Mutex
	computations int
	errors       map[string]int
	hits, misses int
	published    int
	seriesSize   int
}

func (m *countingMetrics) RecordComputation(string, int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.computations++
}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
}

func (m *countingMetrics) RecordSeriesSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seriesSize = n
}

func (m *countingMetrics) RecordCacheResult(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) RecordPublished(error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func ramp(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		v := 100 + float64(i)
		out[i] = models.Candle{Timestamp: int64(i+1) * 86_400_000, Open: v, High: v, Low: v, Close: v, Volume: 1}
	}
	return out
}

type fixture struct {
	uc      *ChartUseCase
	source  *stubSource
	pub     *recordingPublisher
	metrics *countingMetrics
}

func newFixture(t *testing.T, c cache.Service) *fixture {
	t.Helper()
	f := &fixture{
		source:  &stubSource{candles: ramp(20)},
		pub:     &recordingPublisher{},
		metrics: &countingMetrics{},
	}
	uc, err := NewChartUseCase(f.source, f.pub, f.metrics, c, applogger.Nop(), ChartConfig{
		Symbol: "TEST",
		Inputs: models.DefaultInputParameters(),
	})
	if err != nil {
		t.Fatalf("new use case: %v", err)
	}
	f.uc = uc
	return f
}

func TestNewChartUseCaseRejectsBadInitialInputs(t *testing.T) {
	_, err := NewChartUseCase(&stubSource{}, nil, nil, nil, applogger.Nop(), ChartConfig{
		Inputs: models.InputParameters{Length: 1, StdDevMultiplier: 2, Source: models.SourceClose},
	})
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
}

func TestBeforeLoadEverythingIsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	if f.uc.Loaded() || len(f.uc.Series()) != 0 || len(f.uc.Points()) != 0 {
		t.Fatalf("expected empty state before load")
	}
	ind := f.uc.Indicator()
	if ind.ShortName != "BB(20, 2)" || len(ind.Data) != 0 {
		t.Fatalf("indicator = %+v", ind)
	}
	points, err := f.uc.Compute(context.Background(), models.DefaultInputParameters())
	if err != nil || len(points) != 0 {
		t.Fatalf("compute before load: %v err=%v", points, err)
	}
}

func TestLoadSeriesRecomputesAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	var events []RecomputeEvent
	f.uc.OnRecompute(func(ev RecomputeEvent) { events = append(events, ev) })

	if err := f.uc.LoadSeries(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	points := f.uc.Points()
	if len(points) != 20 || !points[19].Valid || math.Abs(points[19].Basis-109.5) > 1e-9 {
		t.Fatalf("points[19] = %+v", points[19])
	}
	if len(events) != 1 || len(events[0].Timestamps) != 20 {
		t.Fatalf("events = %d", len(events))
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Symbol != "TEST" {
		t.Fatalf("published = %+v", f.pub.events)
	}
	if f.metrics.seriesSize != 20 || f.metrics.published != 1 {
		t.Fatalf("metrics = %+v", f.metrics)
	}
}

func TestLoadSeriesFailureKeepsPreviousSeries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.uc.LoadSeries(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	f.source.err = errors.New("unreachable")
	if err := f.uc.LoadSeries(ctx); err == nil {
		t.Fatalf("expected load error")
	}
	if len(f.uc.Series()) != 20 {
		t.Fatalf("previous series should be kept")
	}

	bad := ramp(20)
	bad[3].Close = math.NaN()
	if err := f.uc.SetSeries(ctx, bad); !errors.Is(err, models.ErrMalformedInput) {
		t.Fatalf("err = %v, want ErrMalformedInput", err)
	}
	if f.uc.Series()[3].Close != 103 {
		t.Fatalf("malformed series must not replace the loaded one")
	}
	if f.metrics.errors["malformed_input"] != 1 || f.metrics.errors["load"] != 1 {
		t.Fatalf("errors = %v", f.metrics.errors)
	}
}

func TestUpdateInputs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.uc.LoadSeries(ctx)

	ev, err := f.uc.UpdateInputs(ctx, models.InputParameters{Length: 10, StdDevMultiplier: 1, Offset: -2, Source: models.SourceClose})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ev.ShortName != "BB(10, 1)" {
		t.Fatalf("short name = %q", ev.ShortName)
	}
	points := f.uc.Points()
	// first full window ends at 9, shifted back by 2
	if !points[7].Valid || points[6].Valid || points[18].Valid || points[19].Valid {
		t.Fatalf("unexpected validity pattern: %+v", points)
	}
	if f.uc.Inputs().Length != 10 {
		t.Fatalf("inputs not stored")
	}
}

func TestUpdateInputsRejectsAndKeepsPrevious(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.uc.LoadSeries(ctx)
	before := f.uc.Points()

	for _, p := range []models.InputParameters{
		{Length: 1, StdDevMultiplier: 2, Source: models.SourceClose},
		{Length: 0, StdDevMultiplier: 2, Source: models.SourceClose},
		{Length: 20, StdDevMultiplier: math.Inf(1), Source: models.SourceClose},
		{Length: 20, StdDevMultiplier: 2, Source: "hl2"},
	} {
		if _, err := f.uc.UpdateInputs(ctx, p); !errors.Is(err, models.ErrInvalidParameter) {
			t.Fatalf("inputs %+v: err = %v", p, err)
		}
	}
	if f.uc.Inputs() != models.DefaultInputParameters() {
		t.Fatalf("inputs changed to %+v", f.uc.Inputs())
	}
	after := f.uc.Points()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("points changed at %d", i)
		}
	}
}

func TestUpdateStylesDoesNotRecompute(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.uc.LoadSeries(ctx)

	recomputes, restyles := 0, 0
	f.uc.OnRecompute(func(RecomputeEvent) { recomputes++ })
	f.uc.OnRestyle(func(models.StyleParameters) { restyles++ })
	computationsBefore := f.metrics.computations

	s := models.DefaultStyleParameters()
	s.Basis.Visible = false
	s.Background.Opacity = 0.5
	if err := f.uc.UpdateStyles(s); err != nil {
		t.Fatalf("update styles: %v", err)
	}
	if recomputes != 0 || restyles != 1 || f.metrics.computations != computationsBefore {
		t.Fatalf("recomputes=%d restyles=%d computations=%d->%d",
			recomputes, restyles, computationsBefore, f.metrics.computations)
	}
	if got := f.uc.Indicator(); len(got.Figures) != 2 || got.Styles.Areas[0].Opacity != 0.5 {
		t.Fatalf("indicator = %+v", got)
	}
}

func TestUpdateStylesValidates(t *testing.T) {
	f := newFixture(t, nil)
	tests := []func(s *models.StyleParameters){
		func(s *models.StyleParameters) { s.Background.Opacity = 1.5 },
		func(s *models.StyleParameters) { s.Upper.Color = "blue" },
		func(s *models.StyleParameters) { s.Upper.Color = "#FFF" },
		func(s *models.StyleParameters) { s.Basis.Color = "#2962FFAA" },
		func(s *models.StyleParameters) { s.Lower.LineStyle = "dotted" },
		func(s *models.StyleParameters) { s.Basis.LineWidth = 0 },
	}
	for i, mutate := range tests {
		s := models.DefaultStyleParameters()
		mutate(&s)
		if err := f.uc.UpdateStyles(s); !errors.Is(err, models.ErrInvalidParameter) {
			t.Fatalf("case %d: err = %v", i, err)
		}
	}
	if f.uc.Styles() != models.DefaultStyleParameters() {
		t.Fatalf("styles changed after rejected updates")
	}
}

func TestComputeUsesCache(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	f := newFixture(t, mc)
	ctx := context.Background()
	_ = f.uc.LoadSeries(ctx)

	p := models.InputParameters{Length: 5, StdDevMultiplier: 2, Offset: 1, Source: models.SourceClose}
	first, err := f.uc.Compute(ctx, p)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := f.uc.Compute(ctx, p)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if f.metrics.hits != 1 || f.metrics.misses != 1 {
		t.Fatalf("hits=%d misses=%d", f.metrics.hits, f.metrics.misses)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached point %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if f.uc.Inputs() != models.DefaultInputParameters() {
		t.Fatalf("stateless compute must not change inputs")
	}

	// a new series invalidates cached results
	if err := f.uc.SetSeries(ctx, ramp(10)); err != nil {
		t.Fatalf("set series: %v", err)
	}
	if got, _ := f.uc.Compute(ctx, p); len(got) != 10 {
		t.Fatalf("len = %d after new series, want 10", len(got))
	}
	if mc.Len() != 1 {
		t.Fatalf("cache entries = %d, want 1", mc.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.uc.LoadSeries(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = f.uc.UpdateInputs(ctx, models.InputParameters{Length: 2 + i, StdDevMultiplier: 2, Source: models.SourceClose})
		}(i)
		go func() {
			defer wg.Done()
			_ = f.uc.Indicator()
			_, _ = f.uc.Compute(ctx, models.DefaultInputParameters())
		}()
	}
	wg.Wait()
	if len(f.uc.Points()) != 20 {
		t.Fatalf("points len = %d", len(f.uc.Points()))
	}
}

func TestObserversSeeChangesInCommitOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if err := f.uc.LoadSeries(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int
	first := true
	f.uc.OnRecompute(func(ev RecomputeEvent) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()
		if block {
			close(entered)
			<-release
		}
		mu.Lock()
		seen = append(seen, ev.Inputs.Length)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.uc.UpdateInputs(ctx, models.InputParameters{Length: 10, StdDevMultiplier: 2, Source: models.SourceClose})
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, _ = f.uc.UpdateInputs(ctx, models.InputParameters{Length: 30, StdDevMultiplier: 2, Source: models.SourceClose})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.uc.Inputs().Length != 30 {
		if time.Now().After(deadline) {
			t.Fatalf("second update never committed")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if len(seen) != 2 || seen[0] != 10 || seen[1] != 30 {
		t.Fatalf("observer saw %v, want [10 30]", seen)
	}
	f.pub.mu.Lock()
	defer f.pub.mu.Unlock()
	last := f.pub.events[len(f.pub.events)-1]
	if last.Inputs.Length != f.uc.Inputs().Length {
		t.Fatalf("last published length = %d, state = %d", last.Inputs.Length, f.uc.Inputs().Length)
	}
}

func TestLastNotificationMatchesStateUnderContention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_ = f.uc.LoadSeries(ctx)

	var mu sync.Mutex
	var last int
	f.uc.OnRecompute(func(ev RecomputeEvent) {
		mu.Lock()
		last = ev.Inputs.Length
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.uc.UpdateInputs(ctx, models.InputParameters{Length: 2 + i, StdDevMultiplier: 2, Source: models.SourceClose})
		}(i)
	}
	wg.Wait()
	if last != f.uc.Inputs().Length {
		t.Fatalf("last notified length = %d, state = %d", last, f.uc.Inputs().Length)
	}
}
