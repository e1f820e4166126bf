package liquidation

import (
	"fmt"
	"time"

	"liq-reaction-bot/internal/market"
)

type Liquidation struct {
	ID                 string
	Amount             float64
	Direction          market.Direction
	OriginTime         time.Time
	ReactionCount      int
	OriginCandle       market.Candle
	OnEligibleDay      bool
	DuringEligibleHour bool
}

// NewID is stable for a direction and origin time so repeated feed polls collapse.
func NewID(direction market.Direction, origin time.Time) string {
	return fmt.Sprintf("%s-%d", direction, origin.Unix())
}

func (l Liquidation) Eligible() bool {
	return l.OnEligibleDay && l.DuringEligibleHour
}

// FeedEntry is one symbol's aggregated liquidation volume for a lookback window.
type FeedEntry struct {
	Symbol string
	Long   float64
	Short  float64
	Time   time.Time
}
