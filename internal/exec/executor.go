package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/metrics"
	"liq-reaction-bot/internal/state"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

type OrderClient interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type Executor struct {
	client   OrderClient
	store    state.Store
	metrics  *metrics.Metrics
	log      *zap.Logger
	attempts int
	minDelay time.Duration
	maxDelay time.Duration

	mu    sync.Mutex
	cache map[string]string
}

func New(client OrderClient, store state.Store, m *metrics.Metrics, log *zap.Logger) *Executor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		client:   client,
		store:    store,
		metrics:  m,
		log:      log,
		attempts: 3,
		minDelay: 200 * time.Millisecond,
		maxDelay: 2 * time.Second,
		cache:    make(map[string]string),
	}
}

func NewClientOrderID() string {
	return uuid.NewString()
}

// PlaceOrder retries transient failures. An exchange.ErrProtection result is
// returned with the entry id and is not retried. A client order id already seen,
// in memory or in the store, returns the recorded exchange id without a call.
func (e *Executor) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return e.place(ctx, req, e.attempts)
}

// PlaceOrderOnce makes exactly one attempt.
func (e *Executor) PlaceOrderOnce(ctx context.Context, req exchange.OrderRequest) (string, error) {
	return e.place(ctx, req, 1)
}

func (e *Executor) place(ctx context.Context, req exchange.OrderRequest, attempts int) (string, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = NewClientOrderID()
	}
	cacheKey := "cloid:" + req.ClientOrderID
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if oid, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return "", err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = oid
			e.mu.Unlock()
			return oid, nil
		}
	}
	var (
		orderID    string
		protectErr error
	)
	err := e.retry(ctx, attempts, func() error {
		var err error
		orderID, err = e.client.PlaceOrder(ctx, req)
		if err != nil && orderID != "" && errors.Is(err, exchange.ErrProtection) {
			// the entry rests; resubmitting would double it
			protectErr = err
			return nil
		}
		if err == nil && orderID == "" {
			err = exchange.ErrEmptyOrderID
		}
		return err
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return "", err
	}
	e.metrics.OrdersPlaced.Inc()
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, orderID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = orderID
	e.mu.Unlock()
	e.log.Info("order placed",
		zap.String("order_id", orderID),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("direction", string(req.Direction)),
		zap.Float64("amount", req.Amount),
		zap.Float64("price", req.Price),
		zap.Bool("reduce_only", req.ReduceOnly),
	)
	if protectErr != nil {
		e.log.Error("entry placed without full protection", zap.String("order_id", orderID), zap.Error(protectErr))
	}
	return orderID, protectErr
}

func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	return e.retry(ctx, e.attempts, func() error {
		return e.client.CancelOrder(ctx, orderID)
	})
}

func (e *Executor) retry(ctx context.Context, attempts int, fn func() error) error {
	b := &backoff.Backoff{Min: e.minDelay, Max: e.maxDelay, Factor: 2, Jitter: true}
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if int(b.Attempt())+1 >= attempts {
			return fmt.Errorf("retry failed: %w", err)
		}
		e.log.Warn("order attempt failed", zap.Float64("attempt", b.Attempt()+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
}
