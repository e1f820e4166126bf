package strategy

import (
	"math"
	"time"

	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"

	"github.com/shopspring/decimal"
)

// Levels holds the price thresholds of a pending entry. Zero means unset.
type Levels struct {
	TriggerAbove float64
	TriggerBelow float64
	CancelAbove  float64
	CancelBelow  float64
}

type LevelConfig struct {
	OffsetPct                    float64
	MaxCandlesBeforeConfirmation int
	Bar                          time.Duration
	PricePrecision               int32
}

// CandlesBeforeConfirmation counts the bars that passed between the origin candle and now.
func CandlesBeforeConfirmation(origin, now time.Time, bar time.Duration) int {
	if bar <= 0 {
		return 0
	}
	elapsed := now.Truncate(time.Minute).Sub(origin)
	return int(math.Round(float64(elapsed)/float64(bar))) - 1
}

// ComputeLevels places both triggers around price. A late confirmation swaps the
// liquidation-side trigger for a cancel level at the same distance.
func ComputeLevels(cfg LevelConfig, liq liquidation.Liquidation, price float64, now time.Time) Levels {
	up := RoundPrice(price*(1+cfg.OffsetPct/100), cfg.PricePrecision)
	down := RoundPrice(price*(1-cfg.OffsetPct/100), cfg.PricePrecision)
	late := CandlesBeforeConfirmation(liq.OriginCandle.Start, now, cfg.Bar) > cfg.MaxCandlesBeforeConfirmation

	var lv Levels
	switch liq.Direction {
	case market.Long:
		lv.TriggerBelow = down
		if late {
			lv.CancelAbove = up
		} else {
			lv.TriggerAbove = up
		}
	case market.Short:
		lv.TriggerAbove = up
		if late {
			lv.CancelBelow = down
		} else {
			lv.TriggerBelow = down
		}
	}
	return lv
}

func (lv Levels) CancelBreached(price float64) bool {
	return (lv.CancelAbove > 0 && price > lv.CancelAbove) || (lv.CancelBelow > 0 && price < lv.CancelBelow)
}

// Triggered returns the raw direction implied by a breached trigger.
func (lv Levels) Triggered(price float64) (market.Direction, float64, bool) {
	if lv.TriggerAbove > 0 && price > lv.TriggerAbove {
		return market.Long, lv.TriggerAbove, true
	}
	if lv.TriggerBelow > 0 && price < lv.TriggerBelow {
		return market.Short, lv.TriggerBelow, true
	}
	return "", 0, false
}

// EntryPrice shifts the ticker toward the passive side of the book.
func EntryPrice(direction market.Direction, ticker, offsetPct float64, precision int32) float64 {
	if direction == market.Long {
		return RoundPrice(ticker*(1-offsetPct/100), precision)
	}
	return RoundPrice(ticker*(1+offsetPct/100), precision)
}

func StopLossTakeProfit(direction market.Direction, price, stopLossPct, takeProfitPct float64, precision int32) (float64, float64) {
	if direction == market.Long {
		return RoundPrice(price*(1-stopLossPct/100), precision), RoundPrice(price*(1+takeProfitPct/100), precision)
	}
	return RoundPrice(price*(1+stopLossPct/100), precision), RoundPrice(price*(1-takeProfitPct/100), precision)
}

func RoundPrice(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
