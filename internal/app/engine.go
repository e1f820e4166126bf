package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"liq-reaction-bot/internal/account"
	"liq-reaction-bot/internal/alerts"
	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/exec"
	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/state"
	"liq-reaction-bot/internal/strategy"
	"liq-reaction-bot/internal/timescale"

	"go.uber.org/zap"
)

type liquidationRow struct {
	Direction string `yaml:"direction"`
	Amount    string `yaml:"amount"`
	Count     int    `yaml:"nr_of_liquidations"`
	Time      string `yaml:"time"`
	Eligible  bool   `yaml:"eligible"`
}

type pendingRow struct {
	Overlay      string `yaml:"strategy"`
	Liquidation  string `yaml:"liquidation"`
	TriggerAbove string `yaml:"long_above,omitempty"`
	TriggerBelow string `yaml:"short_below,omitempty"`
	CancelAbove  string `yaml:"cancel_above,omitempty"`
	CancelBelow  string `yaml:"cancel_below,omitempty"`
}

type tradeRow struct {
	Overlay    string `yaml:"strategy"`
	Direction  string `yaml:"direction"`
	Amount     string `yaml:"amount"`
	Price      string `yaml:"price"`
	StopLoss   string `yaml:"stop_loss"`
	TakeProfit string `yaml:"take_profit"`
	OrderID    string `yaml:"order_id,omitempty"`
}

// tick runs one evaluation against the bar that closed most recently.
// Triggered entries are resolved before new ones are created, so an entry
// never fires on the tick that produced it.
func (a *App) tick(ctx context.Context, now time.Time) {
	candle, err := a.market.LastClosedCandle(ctx, now)
	if err != nil {
		a.recordTick(now, market.Candle{}, err)
		a.fail("candle refresh", err)
		a.processTakeProfits(ctx, now)
		return
	}
	a.timescale.EnqueueCandle(timescale.Candle{
		Asset:    candle.Asset,
		Interval: candle.Interval,
		Start:    candle.Start,
		Open:     candle.Open,
		High:     candle.High,
		Low:      candle.Low,
		Close:    candle.Close,
		Volume:   candle.Volume,
	})
	price := candle.Close

	for _, out := range a.tracker.Evaluate(price, now) {
		a.resolvePending(ctx, out, now)
	}
	a.processTakeProfits(ctx, now)

	if evicted := a.ledger.EvictOlderThan(now); len(evicted) > 0 {
		for _, liq := range evicted {
			a.metrics.LiquidationsEvicted.Inc()
			a.log.Info("liquidation evicted", zap.String("liquidation_id", liq.ID), zap.Time("origin", liq.OriginTime))
		}
	}

	for _, d := range a.selector.Evaluate(price, now) {
		if d.Immediate() {
			a.submitEntry(ctx, d.Overlay, d.Liquidation, d.Direction, now)
			continue
		}
		if !a.tracker.Add(d.Pending) {
			continue
		}
		a.metrics.PendingCreated.Inc()
		a.outbox.Append(alerts.ChannelWaiting, a.cfg.Telegram.UrgentTrades,
			"Waiting for entry:", alerts.Table(newPendingRow(d.Pending)))
	}

	a.processFeed(ctx, candle, now)

	a.metrics.LedgerSize.Set(float64(a.ledger.Len()))
	a.metrics.PendingEntries.Set(float64(a.tracker.Len()))
	a.recordTick(now, candle, nil)
}

func (a *App) processFeed(ctx context.Context, candle market.Candle, now time.Time) {
	entries, err := a.feed.FetchLiquidations(ctx, now)
	if err != nil {
		a.fail("liquidation refresh", err)
		return
	}
	result := a.validator.Process(entries, candle)
	for _, liq := range result.Valid {
		a.timescale.EnqueueLiquidation(timescale.Liquidation{
			ID:        liq.ID,
			Time:      liq.OriginTime,
			Direction: string(liq.Direction),
			Amount:    liq.Amount,
			Eligible:  liq.Eligible(),
		})
		header := "Liquidation detected:"
		if !liq.Eligible() {
			header = "Liquidation outside entry window:"
		}
		a.outbox.Append(alerts.ChannelLiquidations, false, header, alerts.Table(newLiquidationRow(liq, a.loc)))
	}
	for range result.Inserted {
		a.metrics.LiquidationsDetected.Inc()
	}
}

func (a *App) resolvePending(ctx context.Context, out strategy.Outcome, now time.Time) {
	entry := out.Entry
	if out.State != strategy.StateTriggered {
		a.metrics.PendingCancelled.Inc()
		a.outbox.Append(alerts.ChannelWaiting, false,
			fmt.Sprintf("Entry %s: %s", strings.ToLower(string(out.State)), out.Reason),
			alerts.Table(newPendingRow(entry)))
		return
	}
	a.metrics.EntriesTriggered.Inc()
	if a.submitEntry(ctx, entry.Overlay, entry.Liquidation, out.Direction, now) {
		entry.Apply(strategy.EventSubmit)
		return
	}
	entry.Apply(strategy.EventCancel)
	a.metrics.PendingCancelled.Inc()
	a.log.Info("pending entry closed",
		zap.String("entry_id", entry.ID),
		zap.String("state", string(entry.State())),
		zap.String("reason", strategy.ReasonOrderFailed),
	)
}

// submitEntry places a limit entry for overlay in direction and journals it.
// Journal-only overlays record the trade without an order. It reports
// whether the entry was recorded.
func (a *App) submitEntry(ctx context.Context, overlay strategy.Overlay, liq liquidation.Liquidation, direction market.Direction, now time.Time) bool {
	if a.tracker.Paused() {
		a.outbox.Append(alerts.ChannelTrades, false, fmt.Sprintf("Skipped %s entry for %s: %s", direction, overlay.Name, strategy.ReasonPaused))
		return false
	}
	ticker, err := a.venue.FetchTicker(ctx)
	if err != nil {
		a.metrics.OrdersFailed.Inc()
		a.fail("ticker for "+overlay.Name+" entry", err)
		return false
	}
	precision := a.cfg.Exchange.PricePrecision
	price := strategy.EntryPrice(direction, ticker, a.cfg.Strategy.LimitOffsetPct, precision)
	stopLoss, takeProfit := strategy.StopLossTakeProfit(direction, price, overlay.StopLossPct, overlay.TakeProfitPct, precision)
	size := a.sizer.Size(overlay.Name)

	rec := state.TradeRecord{
		ID:            exec.NewClientOrderID(),
		Overlay:       overlay.Name,
		LiquidationID: liq.ID,
		Direction:     string(overlay.JournalDirection(direction)),
		Traded:        string(direction),
		Amount:        size,
		Price:         price,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		JournalOnly:   overlay.JournalOnly,
		CreatedAt:     now,
	}
	row := tradeRow{
		Overlay:    overlay.Name,
		Direction:  string(direction),
		Amount:     fmt.Sprintf("%g contract(s)", size),
		Price:      alerts.USD(price),
		StopLoss:   alerts.USD(stopLoss),
		TakeProfit: alerts.USD(takeProfit),
	}
	if overlay.JournalOnly {
		a.journal(ctx, rec)
		a.outbox.Append(alerts.ChannelTrades, false, "Journal entry:", alerts.Table(row))
		return true
	}

	req := exchange.OrderRequest{
		Direction:     direction,
		Amount:        size,
		Price:         price,
		StopLoss:      stopLoss,
		ClientOrderID: rec.ID,
	}
	if !overlay.TwoLeg {
		req.TakeProfit = takeProfit
	}
	orderID, err := a.executor.PlaceOrder(ctx, req)
	if err != nil && !errors.Is(err, exchange.ErrProtection) {
		rec.Error = err.Error()
		a.journal(ctx, rec)
		a.log.Error("entry placement failed", zap.String("overlay", overlay.Name), zap.Error(err))
		a.outbox.Append(alerts.ChannelTrades, a.cfg.Telegram.UrgentTrades,
			fmt.Sprintf("Opening %s position failed: %v", direction, err), alerts.Table(row))
		return false
	}
	rec.OrderID = orderID
	row.OrderID = orderID
	lines := []string{fmt.Sprintf("Opened %s position:", direction), alerts.Table(row)}
	if err != nil {
		rec.Error = err.Error()
		lines = append(lines, fmt.Sprintf("Protective orders incomplete: %v", err))
	}
	if overlay.TwoLeg {
		a.takeProfits.Record(exec.PendingTakeProfit{
			OrderID:         orderID,
			Overlay:         overlay.Name,
			Direction:       direction,
			Amount:          size,
			TakeProfitPrice: takeProfit,
			CreatedAt:       now,
		})
	}
	a.journal(ctx, rec)
	a.outbox.Append(alerts.ChannelTrades, a.cfg.Telegram.UrgentTrades, lines...)
	return true
}

func (a *App) processTakeProfits(ctx context.Context, now time.Time) {
	results, err := a.takeProfits.Process(ctx, now)
	if err != nil {
		a.fail("take-profit scan", err)
		return
	}
	for _, r := range results {
		row := tradeRow{
			Overlay:    r.Pending.Overlay,
			Direction:  string(r.Pending.Direction.Opposite()),
			Amount:     fmt.Sprintf("%g contract(s)", r.Pending.Amount),
			Price:      alerts.USD(r.Pending.TakeProfitPrice),
			TakeProfit: alerts.USD(r.Pending.TakeProfitPrice),
			OrderID:    r.OrderID,
		}
		if r.Canceled {
			a.reportStaleEntry(r)
			continue
		}
		if r.Err != nil {
			a.outbox.Append(alerts.ChannelTrades, true,
				fmt.Sprintf("Take-profit for order %s failed, position has no take-profit: %v", r.Pending.OrderID, r.Err),
				alerts.Table(row))
			continue
		}
		a.outbox.Append(alerts.ChannelTrades, a.cfg.Telegram.UrgentTrades,
			fmt.Sprintf("Entry %s filled, take-profit placed:", r.Pending.OrderID), alerts.Table(row))
	}
}

func (a *App) reportStaleEntry(r exec.TakeProfitResult) {
	row := tradeRow{
		Overlay:    r.Pending.Overlay,
		Direction:  string(r.Pending.Direction),
		Amount:     fmt.Sprintf("%g contract(s)", r.Pending.Amount),
		TakeProfit: alerts.USD(r.Pending.TakeProfitPrice),
		OrderID:    r.Pending.OrderID,
	}
	if r.Err != nil {
		a.outbox.Append(alerts.ChannelTrades, true,
			fmt.Sprintf("Cancelling unfilled entry %s failed, check the order manually: %v", r.Pending.OrderID, r.Err),
			alerts.Table(row))
		return
	}
	a.outbox.Append(alerts.ChannelTrades, false,
		fmt.Sprintf("Entry %s not filled within %s, cancelled:", r.Pending.OrderID, a.cfg.Orders.ClosedLookback),
		alerts.Table(row))
}

func (a *App) refreshSizing(ctx context.Context) {
	balance, balErr := a.venue.FetchBalance(ctx)
	price, priceErr := a.venue.FetchTicker(ctx)
	fetchErr := errors.Join(balErr, priceErr)
	overlays := a.selector.Overlays()
	changes := a.sizer.Update(overlays, balance.Available, price, fetchErr)
	if fetchErr != nil {
		a.fail("position size inputs", fetchErr)
	}
	if len(overlays) > 0 {
		a.metrics.PositionSize.Set(a.sizer.Size(overlays[0].Name))
	}
	if len(changes) == 0 {
		return
	}
	lines := []string{"Position size:"}
	for _, c := range changes {
		lines = append(lines, fmt.Sprintf("%s: %g contract(s)", c.Overlay, c.Size))
	}
	a.outbox.Append(alerts.ChannelHeartbeat, false, lines...)
}

func (a *App) reportPositions(ctx context.Context) {
	snap, changed, err := a.account.Refresh(ctx)
	if err != nil {
		a.fail("positions refresh", err)
		return
	}
	if changed {
		a.outbox.Append(alerts.ChannelPositions, false, account.Report(snap)...)
	}
}

func (a *App) heartbeat(ctx context.Context) {
	a.outbox.Append(alerts.ChannelHeartbeat, false, ".")
	if _, err := a.feed.RefreshSymbols(ctx); err != nil {
		a.fail("symbol discovery", err)
	}
}

func (a *App) journal(ctx context.Context, rec state.TradeRecord) {
	if err := state.SaveTrade(ctx, a.store, rec); err != nil {
		a.log.Warn("journal write failed", zap.String("trade_id", rec.ID), zap.Error(err))
	}
	a.timescale.EnqueueTrade(timescale.Trade{
		ID:            rec.ID,
		Time:          rec.CreatedAt,
		Overlay:       rec.Overlay,
		LiquidationID: rec.LiquidationID,
		Direction:     rec.Direction,
		Traded:        rec.Traded,
		Amount:        rec.Amount,
		Price:         rec.Price,
		StopLoss:      rec.StopLoss,
		TakeProfit:    rec.TakeProfit,
		OrderID:       rec.OrderID,
		JournalOnly:   rec.JournalOnly,
		Error:         rec.Error,
	})
}

func (a *App) recordTick(now time.Time, candle market.Candle, err error) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.lastTick = now
	if err != nil {
		a.lastTickErr = err.Error()
		return
	}
	a.lastTickErr = ""
	a.lastCandle = candle
}

func (a *App) startupLines() []string {
	settings := struct {
		Exchange   string   `yaml:"exchange"`
		Symbol     string   `yaml:"symbol"`
		Timeframe  string   `yaml:"timeframe"`
		Leverage   int      `yaml:"leverage"`
		Sizing     string   `yaml:"sizing"`
		MinAmount  string   `yaml:"minimal_liquidation"`
		MinCount   int      `yaml:"minimal_nr_of_liquidations"`
		Strategies []string `yaml:"strategies"`
	}{
		Exchange:  a.venue.Name(),
		Symbol:    a.market.Symbol(),
		Timeframe: a.cfg.Market.Timeframe,
		Leverage:  a.cfg.Exchange.Leverage,
		Sizing:    a.cfg.Sizing.Mode,
		MinAmount: alerts.USD(a.cfg.Liquidation.MinAmount),
		MinCount:  a.cfg.Liquidation.MinCount,
	}
	for _, o := range a.selector.Overlays() {
		settings.Strategies = append(settings.Strategies, fmt.Sprintf("%s (sl %g%%, tp %g%%, size %g)", o.Name, o.StopLossPct, o.TakeProfitPct, a.sizer.Size(o.Name)))
	}
	return []string{"Liquidation reaction bot started:", alerts.Table(settings)}
}

func newLiquidationRow(liq liquidation.Liquidation, loc *time.Location) liquidationRow {
	return liquidationRow{
		Direction: string(liq.Direction),
		Amount:    alerts.USD(liq.Amount),
		Count:     liq.ReactionCount,
		Time:      liq.OriginTime.In(loc).Format("2006-01-02 15:04"),
		Eligible:  liq.Eligible(),
	}
}

func newPendingRow(p *strategy.PendingEntry) pendingRow {
	row := pendingRow{Overlay: p.Overlay.Name, Liquidation: p.Liquidation.ID}
	lv := p.Levels
	if lv.TriggerAbove > 0 {
		row.TriggerAbove = alerts.USD(lv.TriggerAbove)
	}
	if lv.TriggerBelow > 0 {
		row.TriggerBelow = alerts.USD(lv.TriggerBelow)
	}
	if lv.CancelAbove > 0 {
		row.CancelAbove = alerts.USD(lv.CancelAbove)
	}
	if lv.CancelBelow > 0 {
		row.CancelBelow = alerts.USD(lv.CancelBelow)
	}
	return row
}
