package strategy

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/window"

	"github.com/stretchr/testify/require"
)

func testEntry(levels Levels, overlay Overlay, now time.Time) *PendingEntry {
	liq := longLiq(now.Add(-10 * time.Minute))
	return NewPendingEntry(liq, overlay, levels, now)
}

func liveOverlay() Overlay {
	return Overlay{Name: "live", Priority: 1, Exclusive: true, TwoLeg: true, StopLossPct: 1, TakeProfitPct: 4}
}

func TestTrackerTriggersAfterConfirmation(t *testing.T) {
	tracker := NewTracker(time.Hour, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	entry := testEntry(Levels{TriggerAbove: 30100, TriggerBelow: 29850}, liveOverlay(), tick)
	require.True(t, tracker.Add(entry))
	require.Equal(t, StateCreated, entry.State())

	outcomes := tracker.Evaluate(30050, tick.Add(5*time.Minute))
	require.Empty(t, outcomes)
	require.True(t, entry.Confirmed)
	require.Equal(t, StatePending, entry.State())

	outcomes = tracker.Evaluate(30150, tick.Add(10*time.Minute))
	require.Len(t, outcomes, 1)
	require.Equal(t, StateTriggered, outcomes[0].State)
	require.Equal(t, market.Long, outcomes[0].Direction)
	require.Equal(t, 30100.0, outcomes[0].TriggerPrice)
	require.Equal(t, 0, tracker.Len())
}

func TestTrackerTooEarlyCancels(t *testing.T) {
	tracker := NewTracker(time.Hour, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	entry := testEntry(Levels{TriggerAbove: 30100, TriggerBelow: 29850}, liveOverlay(), tick)
	tracker.Add(entry)

	outcomes := tracker.Evaluate(30200, tick.Add(5*time.Minute))
	require.Len(t, outcomes, 1)
	require.Equal(t, StateCancelled, outcomes[0].State)
	require.Equal(t, ReasonTooEarly, outcomes[0].Reason)
}

func TestTrackerCancelPrecedesTrigger(t *testing.T) {
	tracker := NewTracker(time.Hour, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	// the cancel level sits below the trigger so a spike breaches both
	entry := testEntry(Levels{TriggerAbove: 30200, CancelAbove: 30100, TriggerBelow: 29850}, liveOverlay(), tick)
	tracker.Add(entry)
	tracker.Evaluate(30000, tick.Add(5*time.Minute))

	outcomes := tracker.Evaluate(30300, tick.Add(10*time.Minute))
	require.Len(t, outcomes, 1)
	require.Equal(t, StateCancelled, outcomes[0].State)
	require.Equal(t, ReasonCancelThreshold, outcomes[0].Reason)
}

func TestTrackerOutsideWindowCancels(t *testing.T) {
	tracker := NewTracker(time.Hour, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	overlay := liveOverlay()
	overlay.Window = window.New(nil, []int{10}, time.UTC)
	entry := testEntry(Levels{TriggerAbove: 30100}, overlay, tick)
	tracker.Add(entry)
	tracker.Evaluate(30000, tick.Add(5*time.Minute))

	outcomes := tracker.Evaluate(30150, time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC))
	require.Len(t, outcomes, 1)
	require.Equal(t, ReasonOutsideWindow, outcomes[0].Reason)
}

func TestTrackerPausedCancelsTrigger(t *testing.T) {
	tracker := NewTracker(time.Hour, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	entry := testEntry(Levels{TriggerAbove: 30100}, liveOverlay(), tick)
	tracker.Add(entry)
	tracker.Evaluate(30000, tick.Add(5*time.Minute))
	tracker.SetPaused(true)

	outcomes := tracker.Evaluate(30150, tick.Add(10*time.Minute))
	require.Len(t, outcomes, 1)
	require.Equal(t, StateCancelled, outcomes[0].State)
	require.Equal(t, ReasonPaused, outcomes[0].Reason)
}

func TestTrackerExpires(t *testing.T) {
	tracker := NewTracker(15*time.Minute, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	tracker.Add(testEntry(Levels{TriggerAbove: 30100}, liveOverlay(), tick))

	require.Empty(t, tracker.Evaluate(30000, tick.Add(5*time.Minute)))
	outcomes := tracker.Evaluate(30000, tick.Add(15*time.Minute))
	require.Len(t, outcomes, 1)
	require.Equal(t, StateExpired, outcomes[0].State)
	require.Equal(t, ReasonExpired, outcomes[0].Reason)
}

func TestTrackerReversedOverlay(t *testing.T) {
	tracker := NewTracker(0, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	overlay := liveOverlay()
	overlay.Reversed = true
	tracker.Add(testEntry(Levels{TriggerAbove: 30100}, overlay, tick))
	tracker.Evaluate(30000, tick.Add(5*time.Minute))

	outcomes := tracker.Evaluate(30150, tick.Add(10*time.Minute))
	require.Len(t, outcomes, 1)
	require.Equal(t, market.Short, outcomes[0].Direction)
}

func TestTrackerAddDedupes(t *testing.T) {
	tracker := NewTracker(0, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	entry := testEntry(Levels{TriggerAbove: 30100}, liveOverlay(), tick)
	require.True(t, tracker.Add(entry))
	require.False(t, tracker.Add(entry))
	require.Equal(t, 1, tracker.Len())
}

func TestTrackerSnapshotIsolatedFromEvaluate(t *testing.T) {
	tracker := NewTracker(0, nil)
	tick := time.Date(2024, 3, 4, 10, 10, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		overlay := liveOverlay()
		overlay.Name = fmt.Sprintf("live-%d", i)
		tracker.Add(testEntry(Levels{TriggerAbove: 30100, TriggerBelow: 29850}, overlay, tick))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, p := range tracker.Snapshot() {
				_ = p.Confirmed
				_ = p.State()
			}
		}
	}()
	for i := 0; i < 50; i++ {
		tracker.Evaluate(30050, tick.Add(5*time.Minute))
	}
	close(stop)
	wg.Wait()

	snap := tracker.Snapshot()
	require.Len(t, snap, 20)
	for _, p := range snap {
		require.True(t, p.Confirmed)
		require.Equal(t, StatePending, p.State())
	}

	// copies do not write back into the tracker
	snap[0].Confirmed = false
	require.True(t, tracker.Snapshot()[0].Confirmed)
}
