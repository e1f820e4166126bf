package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CandleSource returns klines for symbol starting at start, oldest first.
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]Candle, error)
}

type MarketData struct {
	source    CandleSource
	symbol    string
	timeframe string
	bar       time.Duration
	log       *zap.Logger

	mu     sync.RWMutex
	latest Candle
}

func New(source CandleSource, symbol, timeframe string, log *zap.Logger) (*MarketData, error) {
	if source == nil {
		return nil, fmt.Errorf("candle source is required")
	}
	bar, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketData{
		source:    source,
		symbol:    symbol,
		timeframe: timeframe,
		bar:       bar,
		log:       log,
	}, nil
}

func (m *MarketData) Bar() time.Duration {
	return m.bar
}

func (m *MarketData) Symbol() string {
	return m.symbol
}

// LastClosedCandle fetches the bar that closed most recently relative to now.
// A bar whose close time is after now is rejected with ErrCandleNotClosed.
func (m *MarketData) LastClosedCandle(ctx context.Context, now time.Time) (Candle, error) {
	start := LastClosedStart(now, m.bar)
	candles, err := m.source.FetchCandles(ctx, m.symbol, m.timeframe, start, 2)
	if err != nil {
		return Candle{}, fmt.Errorf("fetch candles: %w", err)
	}
	var candle Candle
	found := false
	for _, c := range candles {
		if c.Start.Equal(start) {
			candle = c
			found = true
			break
		}
	}
	if !found {
		if len(candles) == 0 {
			return Candle{}, ErrNoCandle
		}
		candle = candles[0]
	}
	if !candle.ClosedAt(now, m.bar) {
		return Candle{}, ErrCandleNotClosed
	}
	if candle.Asset == "" {
		candle.Asset = m.symbol
	}
	if candle.Interval == "" {
		candle.Interval = m.timeframe
	}
	m.mu.Lock()
	m.latest = candle
	m.mu.Unlock()
	m.log.Debug("candle refreshed",
		zap.Time("start", candle.Start),
		zap.Float64("high", candle.High),
		zap.Float64("low", candle.Low),
		zap.Float64("close", candle.Close),
	)
	return candle, nil
}

func (m *MarketData) Latest() (Candle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, !m.latest.Start.IsZero()
}
