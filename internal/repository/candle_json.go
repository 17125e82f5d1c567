package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"BollingerChart/internal/domain/models"
	xhttp "BollingerChart/pkg/http"
	applogger "BollingerChart/pkg/logger"
)

// rawCandle keeps every field optional so a missing one can be told apart from zero.
type rawCandle struct {
	Timestamp *float64 `json:"timestamp"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
}

// ParseCandles decodes an ohlcv.json document: a JSON array of
// {timestamp, open, high, low, close, volume} records in time order.
func ParseCandles(data []byte) ([]models.Candle, error) {
	var raw []rawCandle
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode candles: %v", models.ErrMalformedInput, err)
	}

	out := make([]models.Candle, len(raw))
	for i, r := range raw {
		fields := []struct {
			name string
			v    *float64
		}{
			{"timestamp", r.Timestamp}, {"open", r.Open}, {"high", r.High},
			{"low", r.Low}, {"close", r.Close}, {"volume", r.Volume},
		}
		for _, f := range fields {
			if f.v == nil {
				return nil, fmt.Errorf("%w: candle %d is missing %q", models.ErrMalformedInput, i, f.name)
			}
			if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
				return nil, fmt.Errorf("%w: candle %d has non-finite %q", models.ErrMalformedInput, i, f.name)
			}
		}
		if *r.Timestamp != math.Trunc(*r.Timestamp) {
			return nil, fmt.Errorf("%w: candle %d has fractional timestamp %v", models.ErrMalformedInput, i, *r.Timestamp)
		}
		if *r.Volume < 0 {
			return nil, fmt.Errorf("%w: candle %d has negative volume %v", models.ErrMalformedInput, i, *r.Volume)
		}

		c := models.Candle{
			Timestamp: int64(*r.Timestamp),
			Open:      *r.Open,
			High:      *r.High,
			Low:       *r.Low,
			Close:     *r.Close,
			Volume:    *r.Volume,
		}
		if i > 0 && c.Timestamp <= out[i-1].Timestamp {
			return nil, fmt.Errorf("%w: candle %d timestamp %d does not follow %d",
				models.ErrMalformedInput, i, c.Timestamp, out[i-1].Timestamp)
		}
		out[i] = c
	}
	return out, nil
}

// JSONFileSource reads candles from a local ohlcv.json file.
type JSONFileSource struct {
	path string
	l    *applogger.Logger
}

func NewJSONFileSource(path string, l *applogger.Logger) *JSONFileSource {
	return &JSONFileSource{path: path, l: l}
}

func (s *JSONFileSource) Load(_ context.Context) ([]models.Candle, error) {
	start := time.Now()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	candles, err := ParseCandles(data)
	if err != nil {
		s.l.Error("candle file rejected", applogger.String("path", s.path), applogger.Error(err))
		return nil, err
	}
	s.l.Info("candles loaded",
		applogger.String("source", "file"),
		applogger.String("path", s.path),
		applogger.Int("rows", len(candles)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return candles, nil
}

// JSONURLSource fetches ohlcv.json over HTTP, e.g. from the static /data/ohlcv.json resource.
type JSONURLSource struct {
	client *xhttp.Client
	url    string
	l      *applogger.Logger
}

func NewJSONURLSource(client *xhttp.Client, url string, l *applogger.Logger) *JSONURLSource {
	return &JSONURLSource{client: client, url: url, l: l}
}

func (s *JSONURLSource) Load(ctx context.Context) ([]models.Candle, error) {
	start := time.Now()
	data, err := s.client.Fetch(ctx, &xhttp.RequestOptions{
		URL:     s.url,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	candles, err := ParseCandles(data)
	if err != nil {
		s.l.Error("candle document rejected", applogger.String("url", s.url), applogger.Error(err))
		return nil, err
	}
	s.l.Info("candles loaded",
		applogger.String("source", "url"),
		applogger.String("url", s.url),
		applogger.Int("rows", len(candles)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return candles, nil
}
