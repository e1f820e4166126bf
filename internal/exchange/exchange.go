// Package exchange defines the venue-neutral trading surface used by the engine.
package exchange

import (
	"context"
	"errors"
	"time"

	"liq-reaction-bot/internal/market"
)

var ErrEmptyOrderID = errors.New("exchange returned empty order id")

// ErrProtection is returned alongside a valid entry order id when the entry
// rested but one of its stop loss or take profit legs was rejected.
var ErrProtection = errors.New("protective order failed")

type OrderKind string

const (
	KindLimit      OrderKind = "limit"
	KindStop       OrderKind = "stop"
	KindTakeProfit OrderKind = "take_profit"
	KindMarket     OrderKind = "market"
)

const (
	StatusOpen     = "open"
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusRejected = "rejected"
)

// OrderRequest is a limit entry. StopLoss and TakeProfit are optional and
// attached as reduce-only trigger orders when set.
type OrderRequest struct {
	Direction     market.Direction
	Amount        float64
	Price         float64
	StopLoss      float64
	TakeProfit    float64
	ReduceOnly    bool
	ClientOrderID string
}

type Balance struct {
	Asset     string
	Available float64
	Total     float64
}

type Position struct {
	Symbol           string
	Direction        market.Direction
	Size             float64
	EntryPrice       float64
	LiquidationPrice float64
	UnrealizedPnL    float64
	Leverage         int
}

type Order struct {
	ID           string
	Symbol       string
	Kind         OrderKind
	Direction    market.Direction
	Amount       float64
	Price        float64
	TriggerPrice float64
	ReduceOnly   bool
	Status       string
	UpdatedAt    time.Time
}

type Exchange interface {
	Name() string
	SetLeverage(ctx context.Context, leverage int) error
	FetchTicker(ctx context.Context) (float64, error)
	FetchBalance(ctx context.Context) (Balance, error)
	FetchOpenPositions(ctx context.Context) ([]Position, error)
	FetchOpenOrders(ctx context.Context) ([]Order, error)
	FetchClosedOrders(ctx context.Context, since time.Time, limit int) ([]Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Side maps an order direction to its book side. A reduce-only order closing a
// long position carries Direction short.
func Side(direction market.Direction) string {
	if direction == market.Long {
		return "BUY"
	}
	return "SELL"
}
