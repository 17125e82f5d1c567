package models

import (
	"encoding/json"
	"fmt"
)

// InputParameters drive the Bollinger Bands computation.
type InputParameters struct {
	Length           int     `json:"length"`
	StdDevMultiplier float64 `json:"stdDev"`
	Offset           int     `json:"offset"`
	Source           Source  `json:"source"`
}

// DefaultInputParameters matches the chart's initial settings.
func DefaultInputParameters() InputParameters {
	return InputParameters{Length: 20, StdDevMultiplier: 2, Offset: 0, Source: SourceClose}
}

// BandPoint holds one index of the band series. When Valid is false the point is
// absent (warm-up or shifted out by the offset) and the numeric fields are zero.
type BandPoint struct {
	Valid bool
	Basis float64
	Upper float64
	Lower float64
}

// AbsentPoint returns a point with no values.
func AbsentPoint() BandPoint { return BandPoint{} }

// NewBandPoint returns a present point.
func NewBandPoint(basis, upper, lower float64) BandPoint {
	return BandPoint{Valid: true, Basis: basis, Upper: upper, Lower: lower}
}

type bandPointJSON struct {
	Basis *float64 `json:"basis,omitempty"`
	Upper *float64 `json:"upper,omitempty"`
	Lower *float64 `json:"lower,omitempty"`
}

// MarshalJSON encodes an absent point as {} so it stays distinguishable from zero.
func (p BandPoint) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("{}"), nil
	}
	return json.Marshal(bandPointJSON{Basis: &p.Basis, Upper: &p.Upper, Lower: &p.Lower})
}

func (p *BandPoint) UnmarshalJSON(b []byte) error {
	var raw bandPointJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.Basis == nil && raw.Upper == nil && raw.Lower == nil:
		*p = AbsentPoint()
	case raw.Basis != nil && raw.Upper != nil && raw.Lower != nil:
		*p = NewBandPoint(*raw.Basis, *raw.Upper, *raw.Lower)
	default:
		return fmt.Errorf("band point must carry all of basis, upper and lower or none: %s", b)
	}
	return nil
}

// LineStyle is the stroke style of a band line.
type LineStyle string

const (
	LineSolid  LineStyle = "solid"
	LineDashed LineStyle = "dashed"
)

// BandStyle is the presentation of one band line.
type BandStyle struct {
	Visible   bool      `json:"visible"`
	Color     string    `json:"color" validate:"required,hexcolor,len=7"`
	LineWidth int       `json:"lineWidth" validate:"gte=1,lte=10"`
	LineStyle LineStyle `json:"lineStyle" validate:"oneof=solid dashed"`
}

// Background is the fill between the upper and lower bands.
type Background struct {
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity" validate:"gte=0,lte=1"`
}

// StyleParameters only affect presentation.
type StyleParameters struct {
	Basis      BandStyle  `json:"basis"`
	Upper      BandStyle  `json:"upper"`
	Lower      BandStyle  `json:"lower"`
	Background Background `json:"background"`
}

func DefaultStyleParameters() StyleParameters {
	return StyleParameters{
		Basis:      BandStyle{Visible: true, Color: "#FFD700", LineWidth: 1, LineStyle: LineSolid},
		Upper:      BandStyle{Visible: true, Color: "#2962FF", LineWidth: 1, LineStyle: LineSolid},
		Lower:      BandStyle{Visible: true, Color: "#2962FF", LineWidth: 1, LineStyle: LineSolid},
		Background: Background{Visible: true, Opacity: 0.1},
	}
}
