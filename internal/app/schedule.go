package app

import (
	"time"
)

// slot fires once per period at a fixed offset from the period start. Periods
// are aligned to UTC midnight, so a period that divides 24h lands on the same
// wall-clock times every day.
type slot struct {
	name   string
	every  time.Duration
	offset time.Duration
	last   time.Time
}

func newSlot(name string, every, offset time.Duration) *slot {
	return &slot{name: name, every: every, offset: offset}
}

// at returns the most recent fire time not after now.
func (s *slot) at(now time.Time) time.Time {
	t := now.Truncate(s.every).Add(s.offset)
	if t.After(now) {
		t = t.Add(-s.every)
	}
	return t
}

// due reports whether a fire time passed since the last call that returned true.
func (s *slot) due(now time.Time) (time.Time, bool) {
	t := s.at(now)
	if !t.After(s.last) {
		return t, false
	}
	s.last = t
	return t, true
}

// skip marks the current fire time as handled.
func (s *slot) skip(now time.Time) {
	s.last = s.at(now)
}

func (s *slot) next(now time.Time) time.Time {
	return s.at(now).Add(s.every)
}
