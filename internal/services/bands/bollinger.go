// Package bands computes Bollinger Bands over a candle series.
//
// The basis is the simple moving average of the selected source field over
// Length candles; the bands sit StdDevMultiplier sample standard deviations
// above and below it. The result is shifted by Offset positions afterwards.
package bands

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"BollingerChart/internal/domain/models"
)

// Validate checks p without touching any data.
func Validate(p models.InputParameters) error {
	if p.Length < 1 {
		return fmt.Errorf("%w: length must be >= 1, got %d", models.ErrInvalidParameter, p.Length)
	}
	// the sample standard deviation divides by length-1
	if p.Length == 1 {
		return fmt.Errorf("%w: length 1 leaves no degrees of freedom for the standard deviation", models.ErrInvalidParameter)
	}
	if math.IsNaN(p.StdDevMultiplier) || math.IsInf(p.StdDevMultiplier, 0) {
		return fmt.Errorf("%w: stdDev multiplier must be finite, got %v", models.ErrInvalidParameter, p.StdDevMultiplier)
	}
	if p.StdDevMultiplier < 0 {
		return fmt.Errorf("%w: stdDev multiplier must be >= 0, got %v", models.ErrInvalidParameter, p.StdDevMultiplier)
	}
	if !p.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", models.ErrInvalidParameter, p.Source)
	}
	return nil
}

// Compute returns one point per candle. Points before the first full window
// are absent, as are points shifted in from outside the series by the offset.
func Compute(series []models.Candle, p models.InputParameters) ([]models.BandPoint, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	values, err := Values(series, p.Source)
	if err != nil {
		return nil, err
	}

	out := make([]models.BandPoint, len(values))
	for i := p.Length - 1; i < len(values); i++ {
		basis, variance := stat.MeanVariance(values[i-p.Length+1:i+1], nil)
		// rounding can leave a flat window a hair below zero
		spread := p.StdDevMultiplier * math.Sqrt(math.Max(variance, 0))
		out[i] = models.NewBandPoint(basis, basis+spread, basis-spread)
	}
	return Shift(out, p.Offset), nil
}

// Values extracts the source field of every candle, rejecting non-finite numbers.
func Values(series []models.Candle, src models.Source) ([]float64, error) {
	values := make([]float64, len(series))
	for i, c := range series {
		v, ok := src.Value(c)
		if !ok {
			return nil, fmt.Errorf("%w: unknown source %q", models.ErrInvalidParameter, src)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: candle %d (timestamp %d) has non-finite %s %v",
				models.ErrMalformedInput, i, c.Timestamp, src, v)
		}
		values[i] = v
	}
	return values, nil
}

// Shift moves points by offset positions, padding with absent points so the
// length is unchanged. Positive offsets move values toward later indices and
// drop the tail; negative offsets drop the head.
func Shift(points []models.BandPoint, offset int) []models.BandPoint {
	n := len(points)
	out := make([]models.BandPoint, n)
	switch {
	case offset == 0:
		copy(out, points)
	case offset >= n || offset <= -n:
		// everything shifted out
	case offset > 0:
		copy(out[offset:], points[:n-offset])
	default:
		copy(out, points[-offset:])
	}
	return out
}
