package strategy

import (
	"sync"
	"time"

	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"

	"go.uber.org/zap"
)

// PendingEntry is a conditional order that has not been sent to the exchange.
type PendingEntry struct {
	ID          string
	Liquidation liquidation.Liquidation
	Overlay     Overlay
	Levels      Levels
	// Confirmed is set once the entry survived a tick without any trigger.
	Confirmed bool
	CreatedAt time.Time

	sm *StateMachine
}

func NewPendingEntry(liq liquidation.Liquidation, overlay Overlay, levels Levels, now time.Time) *PendingEntry {
	return &PendingEntry{
		ID:          liq.ID + ":" + overlay.Name,
		Liquidation: liq,
		Overlay:     overlay,
		Levels:      levels,
		CreatedAt:   now,
		sm:          NewStateMachine(),
	}
}

func (p *PendingEntry) State() State {
	if p.sm == nil {
		return StateCreated
	}
	return p.sm.Current()
}

func (p *PendingEntry) Apply(event Event) State {
	if p.sm == nil {
		p.sm = NewStateMachine()
	}
	return p.sm.Apply(event)
}

// Outcome describes a pending entry that left the tracker on this tick.
type Outcome struct {
	Entry  *PendingEntry
	State  State
	Reason string
	// Direction is the trade direction after the overlay's reversal.
	Direction    market.Direction
	TriggerPrice float64
	Price        float64
}

type Tracker struct {
	ttl time.Duration
	log *zap.Logger

	mu      sync.Mutex
	entries []*PendingEntry
	paused  bool
}

func NewTracker(ttl time.Duration, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{ttl: ttl, log: log}
}

func (t *Tracker) Add(entry *PendingEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.entries {
		if existing.ID == entry.ID {
			return false
		}
	}
	t.entries = append(t.entries, entry)
	return true
}

func (t *Tracker) SetPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

func (t *Tracker) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns copies of the tracked entries. Entries are only mutated
// under t.mu, so the copies are safe to read from other goroutines.
func (t *Tracker) Snapshot() []PendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		cp := *entry
		cp.sm = &StateMachine{State: entry.State()}
		out = append(out, cp)
	}
	return out
}

// Evaluate runs every entry once against price. Checks run in a fixed order:
// cancel level, no trigger (confirm or expire), too early, outside window, trigger.
// Finished entries leave the tracker before Evaluate returns.
func (t *Tracker) Evaluate(price float64, now time.Time) []Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	var outcomes []Outcome
	done := make(map[string]struct{})
	for _, entry := range t.entries {
		outcome, finished := t.step(entry, price, now, t.paused)
		if !finished {
			continue
		}
		done[entry.ID] = struct{}{}
		outcomes = append(outcomes, outcome)
	}
	if len(done) > 0 {
		t.remove(done)
	}
	return outcomes
}

func (t *Tracker) step(entry *PendingEntry, price float64, now time.Time, paused bool) (Outcome, bool) {
	out := Outcome{Entry: entry, Price: price}
	if entry.Levels.CancelBreached(price) {
		return t.finish(entry, out, EventCancel, ReasonCancelThreshold), true
	}
	raw, level, triggered := entry.Levels.Triggered(price)
	if !triggered {
		if t.ttl > 0 && now.Sub(entry.CreatedAt) >= t.ttl {
			return t.finish(entry, out, EventExpire, ReasonExpired), true
		}
		if !entry.Confirmed {
			entry.Confirmed = true
			entry.Apply(EventConfirm)
			t.log.Debug("pending entry confirmed", zap.String("entry_id", entry.ID))
		}
		return out, false
	}
	out.Direction = entry.Overlay.TradeDirection(raw)
	out.TriggerPrice = level
	if !entry.Confirmed {
		return t.finish(entry, out, EventCancel, ReasonTooEarly), true
	}
	if !entry.Overlay.Window.Contains(now) {
		return t.finish(entry, out, EventCancel, ReasonOutsideWindow), true
	}
	if paused {
		entry.Apply(EventTrigger)
		return t.finish(entry, out, EventCancel, ReasonPaused), true
	}
	out.State = entry.Apply(EventTrigger)
	t.log.Info("pending entry triggered",
		zap.String("entry_id", entry.ID),
		zap.String("direction", string(out.Direction)),
		zap.Float64("price", price),
		zap.Float64("trigger", level),
	)
	return out, true
}

func (t *Tracker) finish(entry *PendingEntry, out Outcome, event Event, reason string) Outcome {
	out.State = entry.Apply(event)
	out.Reason = reason
	t.log.Info("pending entry closed",
		zap.String("entry_id", entry.ID),
		zap.String("state", string(out.State)),
		zap.String("reason", reason),
		zap.Float64("price", out.Price),
	)
	return out
}

// remove expects t.mu to be held.
func (t *Tracker) remove(ids map[string]struct{}) {
	kept := t.entries[:0]
	for _, entry := range t.entries {
		if _, ok := ids[entry.ID]; ok {
			continue
		}
		kept = append(kept, entry)
	}
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = nil
	}
	t.entries = kept
}
