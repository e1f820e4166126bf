package strategy

import (
	"time"

	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"

	"go.uber.org/zap"
)

// Decision is one overlay firing on a confirmed reaction. Pending is nil for
// immediate entries, which trade Direction right away.
type Decision struct {
	Overlay     Overlay
	Liquidation liquidation.Liquidation
	Pending     *PendingEntry
	Direction   market.Direction
}

func (d Decision) Immediate() bool {
	return d.Pending == nil
}

type Selector struct {
	levels   LevelConfig
	overlays []Overlay
	ledger   *liquidation.Ledger
	log      *zap.Logger
}

func NewSelector(levels LevelConfig, overlays []Overlay, ledger *liquidation.Ledger, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	sorted := make([]Overlay, len(overlays))
	copy(sorted, overlays)
	SortOverlays(sorted)
	return &Selector{levels: levels, overlays: sorted, ledger: ledger, log: log}
}

func (s *Selector) Overlays() []Overlay {
	out := make([]Overlay, len(s.overlays))
	copy(out, s.overlays)
	return out
}

// Evaluate walks a snapshot of the ledger and selects overlays for every strong reaction.
func (s *Selector) Evaluate(price float64, now time.Time) []Decision {
	var decisions []Decision
	for _, liq := range s.ledger.Snapshot() {
		if !IsStrongReaction(liq, price) {
			continue
		}
		decisions = append(decisions, s.Select(liq, price, now)...)
	}
	return decisions
}

// Select fires the first matching exclusive overlay, then every matching
// non-exclusive one. Any firing consumes the liquidation.
func (s *Selector) Select(liq liquidation.Liquidation, price float64, now time.Time) []Decision {
	var fired []Overlay
	for _, o := range s.overlays {
		if o.Exclusive && o.Window.Contains(now) {
			fired = append(fired, o)
			break
		}
	}
	for _, o := range s.overlays {
		if !o.Exclusive && o.Window.Contains(now) {
			fired = append(fired, o)
		}
	}
	if len(fired) == 0 {
		s.log.Debug("no overlay matches", zap.String("liquidation_id", liq.ID), zap.Time("now", now))
		return nil
	}
	s.ledger.Remove(liq.ID)

	levels := ComputeLevels(s.levels, liq, price, now)
	decisions := make([]Decision, 0, len(fired))
	for _, o := range fired {
		d := Decision{Overlay: o, Liquidation: liq}
		if o.Immediate {
			d.Direction = o.TradeDirection(liq.Direction)
		} else {
			d.Pending = NewPendingEntry(liq, o, levels, now)
		}
		s.log.Info("overlay fired",
			zap.String("liquidation_id", liq.ID),
			zap.String("overlay", o.Name),
			zap.Bool("immediate", o.Immediate),
			zap.Float64("price", price),
		)
		decisions = append(decisions, d)
	}
	return decisions
}
