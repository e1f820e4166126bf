package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/market"

	"github.com/stretchr/testify/require"
)

type closedSource struct {
	orders    []exchange.Order
	err       error
	calls     int
	lastSince time.Time
	lastLimit int
}

func (c *closedSource) FetchClosedOrders(_ context.Context, since time.Time, limit int) ([]exchange.Order, error) {
	c.calls++
	c.lastSince = since
	c.lastLimit = limit
	return c.orders, c.err
}

func TestTakeProfitPlacedOnFill(t *testing.T) {
	client := &mockClient{orderID: "tp-1"}
	source := &closedSource{orders: []exchange.Order{
		{ID: "other", Status: exchange.StatusFilled},
		{ID: "entry-1", Status: exchange.StatusFilled},
	}}
	tracker := NewTakeProfitTracker(fastExecutor(client, nil), source, 24*time.Hour, 100, nil, nil)
	tracker.Record(PendingTakeProfit{OrderID: "entry-1", Direction: market.Long, Amount: 2, TakeProfitPrice: 31200})

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	results, err := tracker.Process(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, "tp-1", results[0].OrderID)
	require.Equal(t, 0, tracker.Len())
	require.Equal(t, now.Add(-24*time.Hour), source.lastSince)
	require.Equal(t, 100, source.lastLimit)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	require.Equal(t, market.Short, req.Direction)
	require.True(t, req.ReduceOnly)
	require.Equal(t, 31200.0, req.Price)
	require.Equal(t, 2.0, req.Amount)
}

func TestTakeProfitIgnoresUnfilled(t *testing.T) {
	client := &mockClient{orderID: "tp-1"}
	source := &closedSource{orders: []exchange.Order{{ID: "entry-1", Status: exchange.StatusCanceled}}}
	tracker := NewTakeProfitTracker(fastExecutor(client, nil), source, time.Hour, 100, nil, nil)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	tracker.Record(PendingTakeProfit{OrderID: "entry-1", Direction: market.Short, Amount: 1, TakeProfitPrice: 28800, CreatedAt: now.Add(-30 * time.Minute)})

	results, err := tracker.Process(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 1, tracker.Len())
	require.Equal(t, 0, client.calls)
}

func TestTakeProfitAtMostOnce(t *testing.T) {
	client := &mockClient{orderID: "tp-1", failures: 1}
	source := &closedSource{orders: []exchange.Order{{ID: "entry-1", Status: exchange.StatusFilled}}}
	tracker := NewTakeProfitTracker(fastExecutor(client, nil), source, time.Hour, 100, nil, nil)
	tracker.Record(PendingTakeProfit{OrderID: "entry-1", Direction: market.Long, Amount: 1, TakeProfitPrice: 31200})

	results, err := tracker.Process(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	require.Equal(t, 0, tracker.Len())

	results, err = tracker.Process(context.Background(), time.Now())
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 1, client.calls)
}

func TestTakeProfitFetchErrorKeepsRecords(t *testing.T) {
	source := &closedSource{err: errors.New("down")}
	tracker := NewTakeProfitTracker(fastExecutor(&mockClient{}, nil), source, time.Hour, 100, nil, nil)
	tracker.Record(PendingTakeProfit{OrderID: "entry-1", Direction: market.Long})

	_, err := tracker.Process(context.Background(), time.Now())
	require.Error(t, err)
	require.Equal(t, 1, tracker.Len())
}

func TestTakeProfitSkipsFetchWhenEmpty(t *testing.T) {
	source := &closedSource{}
	tracker := NewTakeProfitTracker(fastExecutor(&mockClient{}, nil), source, time.Hour, 100, nil, nil)

	results, err := tracker.Process(context.Background(), time.Now())
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, 0, source.calls)
}

func TestTakeProfitCancelsStaleEntry(t *testing.T) {
	client := &mockClient{orderID: "tp-1"}
	source := &closedSource{}
	tracker := NewTakeProfitTracker(fastExecutor(client, nil), source, time.Hour, 100, nil, nil)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	tracker.Record(PendingTakeProfit{OrderID: "entry-old", Direction: market.Long, Amount: 1, TakeProfitPrice: 31200, CreatedAt: now.Add(-time.Hour)})
	tracker.Record(PendingTakeProfit{OrderID: "entry-new", Direction: market.Long, Amount: 1, TakeProfitPrice: 31200, CreatedAt: now.Add(-10 * time.Minute)})

	results, err := tracker.Process(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Canceled)
	require.NoError(t, results[0].Err)
	require.Equal(t, "entry-old", results[0].Pending.OrderID)
	require.Equal(t, []string{"entry-old"}, client.canceled)
	require.Equal(t, 0, client.calls)
	require.Equal(t, 1, tracker.Len())
}

func TestTakeProfitFilledEntryIsNotCancelled(t *testing.T) {
	client := &mockClient{orderID: "tp-1"}
	source := &closedSource{orders: []exchange.Order{{ID: "entry-1", Status: exchange.StatusFilled}}}
	tracker := NewTakeProfitTracker(fastExecutor(client, nil), source, time.Hour, 100, nil, nil)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	tracker.Record(PendingTakeProfit{OrderID: "entry-1", Direction: market.Long, Amount: 1, TakeProfitPrice: 31200, CreatedAt: now.Add(-2 * time.Hour)})

	results, err := tracker.Process(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Canceled)
	require.Equal(t, "tp-1", results[0].OrderID)
	require.Empty(t, client.canceled)
}

func TestTakeProfitStaleCancelFailureReported(t *testing.T) {
	client := &mockClient{cancelErr: errors.New("unknown order")}
	source := &closedSource{}
	executor := fastExecutor(client, nil)
	executor.attempts = 1
	tracker := NewTakeProfitTracker(executor, source, time.Hour, 100, nil, nil)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	tracker.Record(PendingTakeProfit{OrderID: "entry-1", Direction: market.Short, Amount: 1, CreatedAt: now.Add(-3 * time.Hour)})

	results, err := tracker.Process(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Canceled)
	require.ErrorContains(t, results[0].Err, "unknown order")
	require.Equal(t, 0, tracker.Len())
}
