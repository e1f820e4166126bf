// Package account tracks open positions and orders and reports when they change.
package account

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"liq-reaction-bot/internal/alerts"
	"liq-reaction-bot/internal/exchange"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const emptyReport = "No open positions / orders."

type Source interface {
	FetchOpenPositions(ctx context.Context) ([]exchange.Position, error)
	FetchOpenOrders(ctx context.Context) ([]exchange.Order, error)
}

type PositionRow struct {
	Amount           string `yaml:"amount"`
	Direction        string `yaml:"direction"`
	Price            string `yaml:"price"`
	LiquidationPrice string `yaml:"liquidation_price"`
}

type OrderRow struct {
	Amount    string `yaml:"amount"`
	Direction string `yaml:"direction"`
	Price     string `yaml:"price"`
}

// Snapshot splits open orders into protective triggers and resting limits.
type Snapshot struct {
	Positions   []PositionRow
	Protective  []OrderRow
	LimitOrders []OrderRow
}

func (s Snapshot) Empty() bool {
	return len(s.Positions) == 0 && len(s.Protective) == 0 && len(s.LimitOrders) == 0
}

func (s Snapshot) Equal(o Snapshot) bool {
	return slices.Equal(s.Positions, o.Positions) &&
		slices.Equal(s.Protective, o.Protective) &&
		slices.Equal(s.LimitOrders, o.LimitOrders)
}

type Account struct {
	source Source
	log    *zap.Logger

	mu   sync.Mutex
	last Snapshot
	seen bool
}

func New(source Source, log *zap.Logger) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{source: source, log: log}
}

// Refresh fetches positions and orders in parallel. The first failed read
// cancels the other and is returned; the previous snapshot is kept so a
// transient failure never counts as a change.
// changed reports whether the snapshot differs from the previous refresh.
func (a *Account) Refresh(ctx context.Context) (Snapshot, bool, error) {
	var (
		positions []exchange.Position
		orders    []exchange.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		positions, err = a.source.FetchOpenPositions(gctx)
		return wrap("positions", err)
	})
	g.Go(func() error {
		var err error
		orders, err = a.source.FetchOpenOrders(gctx)
		return wrap("open orders", err)
	})
	if err := g.Wait(); err != nil {
		return a.Last(), false, err
	}

	var snap Snapshot
	for _, p := range positions {
		snap.Positions = append(snap.Positions, PositionRow{
			Amount:           contracts(p.Size),
			Direction:        string(p.Direction),
			Price:            alerts.USD(p.EntryPrice),
			LiquidationPrice: alerts.USD(p.LiquidationPrice),
		})
	}
	for _, o := range orders {
		switch o.Kind {
		case exchange.KindStop, exchange.KindTakeProfit:
			price := "-"
			if o.TriggerPrice > 0 {
				price = alerts.USD(o.TriggerPrice)
			}
			snap.Protective = append(snap.Protective, OrderRow{Amount: contracts(o.Amount), Direction: string(o.Direction), Price: price})
		default:
			snap.LimitOrders = append(snap.LimitOrders, OrderRow{Amount: contracts(o.Amount), Direction: string(o.Direction), Price: alerts.USD(o.Price)})
		}
	}

	a.mu.Lock()
	changed := !a.seen || !snap.Equal(a.last)
	a.last = snap
	a.seen = true
	a.mu.Unlock()
	if changed {
		a.log.Info("account snapshot changed",
			zap.Int("positions", len(snap.Positions)),
			zap.Int("protective_orders", len(snap.Protective)),
			zap.Int("limit_orders", len(snap.LimitOrders)),
		)
	}
	return snap, changed, nil
}

func (a *Account) Last() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Report renders a snapshot for the positions channel.
func Report(s Snapshot) []string {
	if s.Empty() {
		return []string{emptyReport}
	}
	stripes := strings.Repeat("-", 40)
	lines := []string{stripes, "Position(s):"}
	lines = append(lines, tables(s.Positions)...)
	lines = append(lines, "Protective order(s):")
	lines = append(lines, tables(s.Protective)...)
	lines = append(lines, "Limit order(s):")
	lines = append(lines, tables(s.LimitOrders)...)
	return append(lines, stripes)
}

func tables[T any](rows []T) []string {
	if len(rows) == 0 {
		return []string{"-"}
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, alerts.Table(r))
	}
	return out
}

func contracts(v float64) string {
	return fmt.Sprintf("%g contract(s)", v)
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
