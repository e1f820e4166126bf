package liquidation

import (
	"sync"
	"time"

	"liq-reaction-bot/internal/market"
)

const DefaultHorizon = 10 * time.Minute

// Ledger holds live liquidations, newest first.
type Ledger struct {
	horizon time.Duration

	mu      sync.Mutex
	entries []Liquidation
}

func NewLedger(horizon time.Duration) *Ledger {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Ledger{horizon: horizon}
}

// Insert places l at the front. An id already present is left as is and false is returned.
func (l *Ledger) Insert(liq Liquidation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.entries {
		if existing.ID == liq.ID {
			return false
		}
	}
	l.entries = append([]Liquidation{liq}, l.entries...)
	return true
}

// EvictOlderThan drops entries whose origin is before now (truncated to the minute) minus the horizon.
func (l *Ledger) EvictOlderThan(now time.Time) []Liquidation {
	cutoff := now.Truncate(time.Minute).Add(-l.horizon)
	l.mu.Lock()
	defer l.mu.Unlock()
	var evicted []Liquidation
	kept := l.entries[:0]
	for _, entry := range l.entries {
		if entry.OriginTime.Before(cutoff) {
			evicted = append(evicted, entry)
			continue
		}
		kept = append(kept, entry)
	}
	l.entries = kept
	return evicted
}

func (l *Ledger) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, entry := range l.entries {
		if entry.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Ledger) Get(id string) (Liquidation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return Liquidation{}, false
}

// Snapshot returns a copy in iteration order. Callers that remove while iterating must use it.
func (l *Ledger) Snapshot() []Liquidation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Liquidation, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) TotalAmount(direction market.Direction) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, entry := range l.entries {
		if entry.Direction == direction {
			total += entry.Amount
		}
	}
	return total
}

func (l *Ledger) TotalCount(direction market.Direction) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int
	for _, entry := range l.entries {
		if entry.Direction == direction {
			total += entry.ReactionCount
		}
	}
	return total
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
