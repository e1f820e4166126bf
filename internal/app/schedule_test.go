package app

import (
	"testing"
	"time"
)

func TestSlotFiresOncePerPeriod(t *testing.T) {
	s := newSlot("positions", 5*time.Minute, 3*time.Minute)
	start := time.Date(2024, 3, 4, 12, 2, 0, 0, time.UTC)

	fire, ok := s.due(start)
	if !ok || !fire.Equal(time.Date(2024, 3, 4, 11, 58, 0, 0, time.UTC)) {
		t.Fatalf("first call must fire the previous slot, got %v %v", fire, ok)
	}
	if _, ok := s.due(start.Add(30 * time.Second)); ok {
		t.Fatalf("slot fired twice")
	}
	fire, ok = s.due(time.Date(2024, 3, 4, 12, 3, 0, 0, time.UTC))
	if !ok || fire.Minute() != 3 {
		t.Fatalf("expected 12:03 slot, got %v %v", fire, ok)
	}
	if next := s.next(fire); !next.Equal(time.Date(2024, 3, 4, 12, 8, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next slot %v", next)
	}
}

func TestSlotSkipAndHeartbeatOffsets(t *testing.T) {
	s := newSlot("heartbeat", 12*time.Hour, 8*time.Hour+time.Minute)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	s.skip(now)
	if _, ok := s.due(now); ok {
		t.Fatalf("skipped slot must not fire")
	}
	fire, ok := s.due(time.Date(2024, 3, 4, 20, 1, 0, 0, time.UTC))
	if !ok || fire.Hour() != 20 || fire.Minute() != 1 {
		t.Fatalf("expected 20:01 heartbeat, got %v %v", fire, ok)
	}
}
