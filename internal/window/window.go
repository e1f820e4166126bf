// Package window gates actions to a set of weekdays and hours in a fixed location.
// Weekdays are numbered Monday=0 through Sunday=6.
package window

import (
	"sort"
	"time"
)

type Window struct {
	days  map[int]struct{}
	hours map[int]struct{}
	loc   *time.Location
}

// New builds a window. An empty day or hour set leaves that dimension unrestricted.
func New(days, hours []int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	return Window{days: toSet(days), hours: toSet(hours), loc: loc}
}

func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func (w Window) Location() *time.Location {
	if w.loc == nil {
		return time.UTC
	}
	return w.loc
}

func (w Window) DayAllowed(t time.Time) bool {
	if len(w.days) == 0 {
		return true
	}
	_, ok := w.days[Weekday(t.In(w.Location()))]
	return ok
}

func (w Window) HourAllowed(t time.Time) bool {
	if len(w.hours) == 0 {
		return true
	}
	_, ok := w.hours[t.In(w.Location()).Hour()]
	return ok
}

func (w Window) Contains(t time.Time) bool {
	return w.DayAllowed(t) && w.HourAllowed(t)
}

func (w Window) Days() []int {
	return fromSet(w.days)
}

func (w Window) Hours() []int {
	return fromSet(w.hours)
}

func toSet(values []int) map[int]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[int]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func fromSet(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
