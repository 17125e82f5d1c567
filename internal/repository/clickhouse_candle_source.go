package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"BollingerChart/internal/domain/models"
	domrepo "BollingerChart/internal/domain/repository"
	pkgch "BollingerChart/pkg/clickhouse"
	applogger "BollingerChart/pkg/logger"
)

// ClickHouseCandleSource reads the latest candles of one symbol from ClickHouse.
type ClickHouseCandleSource struct {
	db     *sql.DB
	table  string
	symbol string
	limit  int
	l      *applogger.Logger
}

func NewClickHouseCandleSource(ch *pkgch.Client, database, symbol string, tf domrepo.Timeframe, limit int, l *applogger.Logger) (*ClickHouseCandleSource, error) {
	table, err := domrepo.CandleTable(database, tf)
	if err != nil {
		return nil, err
	}
	return &ClickHouseCandleSource{db: ch.DB(), table: table, symbol: symbol, limit: limit, l: l}, nil
}

// Load returns up to limit candles in ascending time order.
func (s *ClickHouseCandleSource) Load(ctx context.Context) ([]models.Candle, error) {
	start := time.Now()
	const qtpl = `
        SELECT toUnixTimestamp64Milli(bucket), open, high, low, close, volume
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.table), s.symbol, s.limit)
	if err != nil {
		s.logErr("clickhouse latest_candles query error", err)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, s.limit)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.logErr("clickhouse latest_candles scan error", err)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		s.logErr("clickhouse latest_candles rows error", err)
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.l.Info("candles loaded",
		applogger.String("source", "clickhouse"),
		applogger.String("table", s.table),
		applogger.String("symbol", s.symbol),
		applogger.Int("limit", s.limit),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseCandleSource) logErr(msg string, err error) {
	s.l.Error(msg,
		applogger.String("table", s.table),
		applogger.String("symbol", s.symbol),
		applogger.Int("limit", s.limit),
		applogger.Error(err),
	)
}
