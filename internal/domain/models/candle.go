package models

// Candle is one OHLCV observation. Timestamp is milliseconds since the Unix epoch.
// JSON tags match the ohlcv.json data files.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Source names the scalar field of a Candle that feeds an indicator.
type Source string

const (
	SourceOpen   Source = "open"
	SourceHigh   Source = "high"
	SourceLow    Source = "low"
	SourceClose  Source = "close"
	SourceVolume Source = "volume"
)

// Value returns the field of c selected by s. ok is false for unknown sources.
func (s Source) Value(c Candle) (v float64, ok bool) {
	switch s {
	case SourceOpen:
		return c.Open, true
	case SourceHigh:
		return c.High, true
	case SourceLow:
		return c.Low, true
	case SourceClose:
		return c.Close, true
	case SourceVolume:
		return c.Volume, true
	default:
		return 0, false
	}
}

// Valid reports whether s names a candle field.
func (s Source) Valid() bool {
	_, ok := s.Value(Candle{})
	return ok
}
