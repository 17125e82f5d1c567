package bands

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"BollingerChart/internal/domain/models"
)

const eps = 1e-9

func closes(values ...float64) []models.Candle {
	out := make([]models.Candle, len(values))
	for i, v := range values {
		out[i] = models.Candle{Timestamp: int64(i) * 60_000, Open: v, High: v + 1, Low: v - 1, Close: v, Volume: 10}
	}
	return out
}

func ramp(start float64, n int) []models.Candle {
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = start + float64(i)
	}
	return closes(vs...)
}

func params(length int, mult float64, offset int) models.InputParameters {
	return models.InputParameters{Length: length, StdDevMultiplier: mult, Offset: offset, Source: models.SourceClose}
}

func TestComputeRampScenario(t *testing.T) {
	got, err := Compute(ramp(100, 20), params(20, 2, 0))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	for i := 0; i < 19; i++ {
		if got[i].Valid {
			t.Fatalf("point %d should be absent, got %+v", i, got[i])
		}
	}
	p := got[19]
	sd := math.Sqrt(35) // 665/19
	if !p.Valid {
		t.Fatalf("point 19 should be present")
	}
	if math.Abs(p.Basis-109.5) > eps {
		t.Errorf("basis = %v, want 109.5", p.Basis)
	}
	if math.Abs(p.Upper-(109.5+2*sd)) > eps || math.Abs(p.Upper-121.33) > 0.01 {
		t.Errorf("upper = %v, want ~121.33", p.Upper)
	}
	if math.Abs(p.Lower-(109.5-2*sd)) > eps || math.Abs(p.Lower-97.67) > 0.01 {
		t.Errorf("lower = %v, want ~97.67", p.Lower)
	}
}

func TestComputeOffsetPastTailIsAbsent(t *testing.T) {
	got, err := Compute(ramp(100, 20), params(20, 2, 5))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for i, p := range got {
		if p.Valid {
			t.Fatalf("point %d should be absent after offset 5, got %+v", i, p)
		}
	}
}

func TestComputeLengthPreservedAndWarmupAbsent(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 19, 20, 21, 64} {
		for _, length := range []int{2, 3, 20, 100} {
			got, err := Compute(ramp(1, n), params(length, 2, 0))
			if err != nil {
				t.Fatalf("n=%d length=%d: %v", n, length, err)
			}
			if len(got) != n {
				t.Fatalf("n=%d length=%d: len = %d", n, length, len(got))
			}
			for i, p := range got {
				if want := i >= length-1; p.Valid != want {
					t.Fatalf("n=%d length=%d: point %d valid=%v, want %v", n, length, i, p.Valid, want)
				}
			}
		}
	}
}

// Identical values collapse the bands onto the basis. The basis equals the
// value only to within rounding when the value has no exact binary form.
func TestComputeIdenticalValues(t *testing.T) {
	tests := []struct {
		value  float64
		length int
	}{
		{42.5, 5},
		{0.1, 3},
		{1.1, 7},
		{109.37, 20},
	}
	for _, tt := range tests {
		vs := make([]float64, tt.length)
		for i := range vs {
			vs[i] = tt.value
		}
		got, err := Compute(closes(vs...), params(tt.length, 3, 0))
		if err != nil {
			t.Fatalf("%v: compute: %v", tt.value, err)
		}
		p := got[tt.length-1]
		tol := eps * math.Max(1, math.Abs(tt.value))
		if !p.Valid || math.Abs(p.Basis-tt.value) > tol {
			t.Fatalf("%v: basis = %v", tt.value, p.Basis)
		}
		if math.Abs(p.Upper-p.Basis) > tol || math.Abs(p.Lower-p.Basis) > tol || math.IsNaN(p.Upper) || math.IsNaN(p.Lower) {
			t.Fatalf("%v: got %+v, want bands on the basis", tt.value, p)
		}
	}
	got, _ := Compute(closes(42.5, 42.5, 42.5), params(3, 2, 0))
	if p := got[2]; p.Basis != 42.5 || p.Upper != 42.5 || p.Lower != 42.5 {
		t.Fatalf("exact value should round-trip, got %+v", p)
	}
}

func TestComputeZeroIsNotAbsent(t *testing.T) {
	got, err := Compute(closes(0, 0, 0), params(2, 2, 0))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !got[1].Valid || got[1].Basis != 0 {
		t.Fatalf("point 1 = %+v, want present zero", got[1])
	}
	if got[0].Valid {
		t.Fatalf("point 0 should be absent")
	}
}

func TestComputeOffsetRoundTrip(t *testing.T) {
	series := closes(3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8)
	n := len(series)
	base, err := Compute(series, params(3, 1.5, 0))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for k := -n - 2; k <= n+2; k++ {
		got, err := Compute(series, params(3, 1.5, k))
		if err != nil {
			t.Fatalf("offset %d: %v", k, err)
		}
		if len(got) != n {
			t.Fatalf("offset %d: len = %d", k, len(got))
		}
		for i := range got {
			src := i - k
			want := models.AbsentPoint()
			if src >= 0 && src < n {
				want = base[src]
			}
			if got[i] != want {
				t.Fatalf("offset %d: point %d = %+v, want %+v", k, i, got[i], want)
			}
		}
	}
}

func TestComputeNegativeOffset(t *testing.T) {
	got, err := Compute(ramp(100, 20), params(20, 2, -19))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !got[0].Valid || math.Abs(got[0].Basis-109.5) > eps {
		t.Fatalf("point 0 = %+v, want basis 109.5", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Valid {
			t.Fatalf("point %d should be absent", i)
		}
	}
}

func TestComputeEmptySeries(t *testing.T) {
	got, err := Compute(nil, params(20, 2, 3))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v, want empty non-nil slice", got)
	}
}

func TestComputeDeterministic(t *testing.T) {
	series := closes(10, 11, 9, 12, 13, 8, 7, 15)
	p := params(4, 2, 1)
	first, err := Compute(series, p)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	var wg sync.WaitGroup
	results := make([][]models.BandPoint, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = Compute(series, p)
		}(i)
	}
	wg.Wait()
	for i, r := range results {
		if !reflect.DeepEqual(first, r) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestComputeSourceSelection(t *testing.T) {
	series := closes(10, 20, 30)
	p := params(3, 0, 0)
	p.Source = models.SourceHigh
	got, err := Compute(series, p)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got[2].Basis != 21 {
		t.Fatalf("basis over high = %v, want 21", got[2].Basis)
	}
}

func TestComputeInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		p    models.InputParameters
	}{
		{"length zero", params(0, 2, 0)},
		{"length negative", params(-3, 2, 0)},
		{"length one", params(1, 2, 0)},
		{"length one zero multiplier", params(1, 0, 0)},
		{"nan multiplier", params(20, math.NaN(), 0)},
		{"inf multiplier", params(20, math.Inf(1), 0)},
		{"negative multiplier", params(20, -1, 0)},
		{"unknown source", models.InputParameters{Length: 20, StdDevMultiplier: 2, Source: "hl2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(ramp(1, 30), tt.p)
			if !errors.Is(err, models.ErrInvalidParameter) {
				t.Fatalf("err = %v, want ErrInvalidParameter", err)
			}
			if got != nil {
				t.Fatalf("expected no output on error")
			}
		})
	}
}

func TestComputeMalformedInput(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		series := closes(1, 2, bad, 4)
		if _, err := Compute(series, params(2, 2, 0)); !errors.Is(err, models.ErrMalformedInput) {
			t.Fatalf("value %v: err = %v, want ErrMalformedInput", bad, err)
		}
	}
}

func TestShiftDoesNotAliasInput(t *testing.T) {
	in := []models.BandPoint{models.NewBandPoint(1, 2, 0)}
	out := Shift(in, 0)
	out[0].Basis = 99
	if in[0].Basis != 1 {
		t.Fatalf("Shift must return a fresh slice")
	}
}
