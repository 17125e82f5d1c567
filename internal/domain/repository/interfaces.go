package repository

import (
	"context"

	"BollingerChart/internal/domain/models"
)

// CandleSource loads the price series the chart is drawn from.
type CandleSource interface {
	Load(ctx context.Context) ([]models.Candle, error)
}

// BandsEvent is emitted after every successful recomputation.
type BandsEvent struct {
	Symbol     string                 `json:"symbol"`
	Inputs     models.InputParameters `json:"inputs"`
	Points     []models.BandPoint     `json:"points"`
	Timestamps []int64                `json:"timestamps"`
	ComputedAt int64                  `json:"computed_at"`
}

// BandPublisher forwards recomputed bands to downstream consumers.
type BandPublisher interface {
	Publish(ctx context.Context, e *BandsEvent) error
	Close() error
}

type Metrics interface {
	RecordComputation(source string, points int, seconds float64)
	RecordError(kind string)
	RecordSeriesSize(n int)
	RecordCacheResult(hit bool)
	RecordPublished(err error)
}
