package strategy

import (
	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"
)

// IsStrongReaction reports whether price has broken out of the origin candle in the
// liquidation's direction. Touching the high or low is not enough.
func IsStrongReaction(liq liquidation.Liquidation, price float64) bool {
	switch liq.Direction {
	case market.Long:
		return price > liq.OriginCandle.High
	case market.Short:
		return price < liq.OriginCandle.Low
	}
	return false
}
