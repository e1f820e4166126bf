package strategy

import (
	"testing"
	"time"

	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"

	"github.com/stretchr/testify/require"
)

var testLevelConfig = LevelConfig{
	OffsetPct:                    0.5,
	MaxCandlesBeforeConfirmation: 1,
	Bar:                          5 * time.Minute,
	PricePrecision:               1,
}

func longLiq(start time.Time) liquidation.Liquidation {
	return liquidation.Liquidation{
		ID:           liquidation.NewID(market.Long, start),
		Amount:       1200,
		Direction:    market.Long,
		OriginTime:   start,
		OriginCandle: market.Candle{Start: start, High: 30000, Low: 29800, Close: 29900},
	}
}

func TestIsStrongReactionStrict(t *testing.T) {
	liq := longLiq(time.Now())
	require.False(t, IsStrongReaction(liq, 30000), "price equal to high is not strong")
	require.True(t, IsStrongReaction(liq, 30000.5))
	require.False(t, IsStrongReaction(liq, 29900))

	short := liq
	short.Direction = market.Short
	require.False(t, IsStrongReaction(short, 29800), "price equal to low is not strong")
	require.True(t, IsStrongReaction(short, 29799.9))
	require.Equal(t, IsStrongReaction(short, 29799.9), IsStrongReaction(short, 29799.9))
}

func TestCandlesBeforeConfirmation(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	require.Equal(t, 1, CandlesBeforeConfirmation(start, start.Add(10*time.Minute+20*time.Second), 5*time.Minute))
	require.Equal(t, 2, CandlesBeforeConfirmation(start, start.Add(15*time.Minute), 5*time.Minute))
}

func TestComputeLevelsLongOnTime(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	lv := ComputeLevels(testLevelConfig, longLiq(start), 30000, start.Add(10*time.Minute))
	require.Equal(t, 30150.0, lv.TriggerAbove)
	require.Equal(t, 29850.0, lv.TriggerBelow)
	require.Zero(t, lv.CancelAbove)
	require.Zero(t, lv.CancelBelow)
}

func TestComputeLevelsLongLate(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	lv := ComputeLevels(testLevelConfig, longLiq(start), 30000, start.Add(15*time.Minute))
	require.Zero(t, lv.TriggerAbove)
	require.Equal(t, 30150.0, lv.CancelAbove)
	require.Equal(t, 29850.0, lv.TriggerBelow)
}

func TestComputeLevelsShortLate(t *testing.T) {
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	liq := longLiq(start)
	liq.Direction = market.Short
	lv := ComputeLevels(testLevelConfig, liq, 30000, start.Add(20*time.Minute))
	require.Equal(t, 30150.0, lv.TriggerAbove)
	require.Zero(t, lv.TriggerBelow)
	require.Equal(t, 29850.0, lv.CancelBelow)
}

func TestLevelsTriggered(t *testing.T) {
	lv := Levels{TriggerAbove: 30100, TriggerBelow: 29900}
	dir, level, ok := lv.Triggered(30150)
	require.True(t, ok)
	require.Equal(t, market.Long, dir)
	require.Equal(t, 30100.0, level)

	dir, _, ok = lv.Triggered(29899)
	require.True(t, ok)
	require.Equal(t, market.Short, dir)

	_, _, ok = lv.Triggered(30100)
	require.False(t, ok)
}

func TestStopLossTakeProfit(t *testing.T) {
	sl, tp := StopLossTakeProfit(market.Long, 30000, 1, 4, 1)
	require.Equal(t, 29700.0, sl)
	require.Equal(t, 31200.0, tp)

	sl, tp = StopLossTakeProfit(market.Short, 30000, 1, 4, 1)
	require.Equal(t, 30300.0, sl)
	require.Equal(t, 28800.0, tp)
}

func TestEntryPrice(t *testing.T) {
	require.Equal(t, 29997.0, EntryPrice(market.Long, 30000, 0.01, 1))
	require.Equal(t, 30003.0, EntryPrice(market.Short, 30000, 0.01, 1))
}
