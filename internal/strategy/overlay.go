package strategy

import (
	"sort"
	"time"

	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/window"
)

// Overlay is one named parameter set applied to confirmed reactions.
type Overlay struct {
	Name           string
	Priority       int
	Exclusive      bool
	Reversed       bool
	JournalReverse bool
	JournalOnly    bool
	Immediate      bool
	TwoLeg         bool
	StopLossPct    float64
	TakeProfitPct  float64
	RiskPercent    float64
	FixedRisk      float64
	Window         window.Window
}

func OverlaysFromConfig(cfgs []config.OverlayConfig, loc *time.Location) []Overlay {
	out := make([]Overlay, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Overlay{
			Name:           c.Name,
			Priority:       c.Priority,
			Exclusive:      c.IsExclusive(),
			Reversed:       c.Reversed,
			JournalReverse: c.JournalReverse,
			JournalOnly:    c.JournalOnly,
			Immediate:      c.EntryMode == config.EntryImmediate,
			TwoLeg:         c.IsTwoLeg(),
			StopLossPct:    c.StopLossPct,
			TakeProfitPct:  c.TakeProfitPct,
			RiskPercent:    c.RiskPercent,
			FixedRisk:      c.FixedRisk,
			Window:         window.New(c.Days, c.Hours, loc),
		})
	}
	SortOverlays(out)
	return out
}

func SortOverlays(overlays []Overlay) {
	sort.SliceStable(overlays, func(i, j int) bool {
		return overlays[i].Priority < overlays[j].Priority
	})
}

// TradeDirection applies the reversed flag to a raw direction.
func (o Overlay) TradeDirection(d market.Direction) market.Direction {
	if o.Reversed {
		return d.Opposite()
	}
	return d
}

// JournalDirection is the direction written to the trade journal.
func (o Overlay) JournalDirection(d market.Direction) market.Direction {
	if o.JournalReverse {
		return d.Opposite()
	}
	return d
}
