package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/metrics"

	"go.uber.org/zap"
)

var ErrNoTakeProfit = errors.New("no pending take-profit for order")

// PendingTakeProfit is the deferred second leg of an entry placed with only a stop loss.
type PendingTakeProfit struct {
	OrderID         string
	Overlay         string
	Direction       market.Direction
	Amount          float64
	TakeProfitPrice float64
	CreatedAt       time.Time
}

type ClosedOrderSource interface {
	FetchClosedOrders(ctx context.Context, since time.Time, limit int) ([]exchange.Order, error)
}

type TakeProfitResult struct {
	Pending PendingTakeProfit
	OrderID string
	// Canceled is set when the entry never filled within the lookback and was
	// cancelled instead. Err then holds the cancel failure, if any.
	Canceled bool
	Err      error
}

// TakeProfitTracker places each take-profit at most once. The record is dropped
// before submission, so a failed placement leaves the position without one.
type TakeProfitTracker struct {
	exec     *Executor
	source   ClosedOrderSource
	lookback time.Duration
	limit    int
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]PendingTakeProfit
}

func NewTakeProfitTracker(exec *Executor, source ClosedOrderSource, lookback time.Duration, limit int, m *metrics.Metrics, log *zap.Logger) *TakeProfitTracker {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TakeProfitTracker{
		exec:     exec,
		source:   source,
		lookback: lookback,
		limit:    limit,
		metrics:  m,
		log:      log,
		pending:  make(map[string]PendingTakeProfit),
	}
}

func (t *TakeProfitTracker) Record(p PendingTakeProfit) {
	t.mu.Lock()
	t.pending[p.OrderID] = p
	n := len(t.pending)
	t.mu.Unlock()
	t.metrics.PendingTakeProfits.Set(float64(n))
}

func (t *TakeProfitTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *TakeProfitTracker) Snapshot() []PendingTakeProfit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingTakeProfit, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p)
	}
	return out
}

func (t *TakeProfitTracker) take(orderID string) (PendingTakeProfit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[orderID]
	if !ok {
		return PendingTakeProfit{}, ErrNoTakeProfit
	}
	delete(t.pending, orderID)
	return p, nil
}

// Process scans recently closed orders for filled entries and submits their
// take-profits. Entries still unfilled once they are older than the lookback
// can no longer be matched, so their resting orders are cancelled.
func (t *TakeProfitTracker) Process(ctx context.Context, now time.Time) ([]TakeProfitResult, error) {
	if t.Len() == 0 {
		return nil, nil
	}
	closed, err := t.source.FetchClosedOrders(ctx, now.Add(-t.lookback), t.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch closed orders: %w", err)
	}
	var results []TakeProfitResult
	for _, order := range closed {
		if order.Status != exchange.StatusFilled {
			continue
		}
		pending, err := t.take(order.ID)
		if err != nil {
			continue
		}
		req := exchange.OrderRequest{
			Direction:  pending.Direction.Opposite(),
			Amount:     pending.Amount,
			Price:      pending.TakeProfitPrice,
			ReduceOnly: true,
		}
		oid, err := t.exec.PlaceOrderOnce(ctx, req)
		result := TakeProfitResult{Pending: pending, OrderID: oid, Err: err}
		if err != nil {
			t.metrics.TakeProfitsFailed.Inc()
			t.log.Error("take-profit placement failed",
				zap.String("entry_order_id", pending.OrderID),
				zap.Float64("price", pending.TakeProfitPrice),
				zap.Error(err),
			)
		} else {
			t.metrics.TakeProfitsPlaced.Inc()
			t.log.Info("take-profit placed",
				zap.String("entry_order_id", pending.OrderID),
				zap.String("order_id", oid),
				zap.Float64("price", pending.TakeProfitPrice),
			)
		}
		results = append(results, result)
	}
	results = append(results, t.cancelStale(ctx, now)...)
	t.metrics.PendingTakeProfits.Set(float64(t.Len()))
	return results, nil
}

func (t *TakeProfitTracker) cancelStale(ctx context.Context, now time.Time) []TakeProfitResult {
	var stale []PendingTakeProfit
	t.mu.Lock()
	for id, p := range t.pending {
		if !p.CreatedAt.IsZero() && now.Sub(p.CreatedAt) >= t.lookback {
			stale = append(stale, p)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	results := make([]TakeProfitResult, 0, len(stale))
	for _, p := range stale {
		err := t.exec.CancelOrder(ctx, p.OrderID)
		if err != nil {
			t.log.Error("stale entry cancel failed", zap.String("entry_order_id", p.OrderID), zap.Error(err))
		} else {
			t.metrics.StaleEntriesCanceled.Inc()
			t.log.Info("stale entry cancelled", zap.String("entry_order_id", p.OrderID), zap.Time("created_at", p.CreatedAt))
		}
		results = append(results, TakeProfitResult{Pending: p, Canceled: true, Err: err})
	}
	return results
}
