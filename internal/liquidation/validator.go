package liquidation

import (
	"time"

	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/window"

	"go.uber.org/zap"
)

type ValidatorConfig struct {
	// CandidateAmount is the per-direction total a window needs before it is considered at all.
	CandidateAmount float64
	MinAmount       float64
	MinCount        int
	// EntryThreshold is the single-side volume one feed entry needs to count as a reaction.
	EntryThreshold float64
	// OverrideAmount lets a large total pass without MinCount. Zero disables it.
	OverrideAmount float64
	Window         window.Window
}

type Result struct {
	// Valid holds every candidate that passed size and count, eligible or not.
	Valid    []Liquidation
	Inserted []Liquidation
}

type Validator struct {
	cfg    ValidatorConfig
	ledger *Ledger
	log    *zap.Logger
}

func NewValidator(cfg ValidatorConfig, ledger *Ledger, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{cfg: cfg, ledger: ledger, log: log}
}

func (v *Validator) IsValid(amount float64, count int) bool {
	if amount < v.cfg.MinAmount {
		return false
	}
	if count >= v.cfg.MinCount {
		return true
	}
	return v.cfg.OverrideAmount > 0 && amount >= v.cfg.OverrideAmount
}

// Process turns one polling window into liquidations and inserts the eligible ones.
func (v *Validator) Process(entries []FeedEntry, candle market.Candle) Result {
	var result Result
	if len(entries) == 0 {
		return result
	}
	var totalLong, totalShort float64
	count := 0
	for _, entry := range entries {
		totalLong += entry.Long
		if entry.Long > v.cfg.EntryThreshold {
			count++
		}
		totalShort += entry.Short
		if entry.Short > v.cfg.EntryThreshold {
			count++
		}
	}
	origin := entries[0].Time
	if origin.IsZero() {
		origin = candle.Start
	}
	for _, side := range []struct {
		direction market.Direction
		total     float64
	}{
		{market.Long, totalLong},
		{market.Short, totalShort},
	} {
		if side.total <= v.cfg.CandidateAmount {
			continue
		}
		liq := v.build(side.direction, side.total, count, origin, candle)
		if !v.IsValid(liq.Amount, liq.ReactionCount) {
			v.log.Debug("liquidation below thresholds",
				zap.String("direction", string(liq.Direction)),
				zap.Float64("amount", liq.Amount),
				zap.Int("count", liq.ReactionCount),
			)
			continue
		}
		result.Valid = append(result.Valid, liq)
		if !liq.Eligible() {
			v.log.Info("liquidation outside eligible window",
				zap.String("liquidation_id", liq.ID),
				zap.Bool("eligible_day", liq.OnEligibleDay),
				zap.Bool("eligible_hour", liq.DuringEligibleHour),
			)
			continue
		}
		if v.ledger.Insert(liq) {
			result.Inserted = append(result.Inserted, liq)
			v.log.Info("liquidation inserted",
				zap.String("liquidation_id", liq.ID),
				zap.Float64("amount", liq.Amount),
				zap.Int("count", liq.ReactionCount),
			)
		}
	}
	return result
}

func (v *Validator) build(direction market.Direction, amount float64, count int, origin time.Time, candle market.Candle) Liquidation {
	// Eligibility follows the origin candle so processing delay cannot move it.
	ref := candle.Start
	if ref.IsZero() {
		ref = origin
	}
	return Liquidation{
		ID:                 NewID(direction, origin),
		Amount:             amount,
		Direction:          direction,
		OriginTime:         origin,
		ReactionCount:      count,
		OriginCandle:       candle,
		OnEligibleDay:      v.cfg.Window.DayAllowed(ref),
		DuringEligibleHour: v.cfg.Window.HourAllowed(ref),
	}
}
