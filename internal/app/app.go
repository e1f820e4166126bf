package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liq-reaction-bot/internal/account"
	"liq-reaction-bot/internal/alerts"
	"liq-reaction-bot/internal/coinalyze"
	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/exchange/binance"
	"liq-reaction-bot/internal/exchange/hyperliquid"
	"liq-reaction-bot/internal/exec"
	"liq-reaction-bot/internal/liquidation"
	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/metrics"
	"liq-reaction-bot/internal/state"
	"liq-reaction-bot/internal/state/sqlite"
	"liq-reaction-bot/internal/strategy"
	"liq-reaction-bot/internal/timescale"
	"liq-reaction-bot/internal/window"

	"go.uber.org/zap"
)

// LiquidationFeed supplies aggregated liquidation volumes per symbol.
type LiquidationFeed interface {
	FetchLiquidations(ctx context.Context, now time.Time) ([]liquidation.FeedEntry, error)
	RefreshSymbols(ctx context.Context) ([]string, error)
}

type App struct {
	cfg   *config.Config
	log   *zap.Logger
	store state.Store
	venue exchange.Exchange
	feed  LiquidationFeed

	market      *market.MarketData
	ledger      *liquidation.Ledger
	validator   *liquidation.Validator
	selector    *strategy.Selector
	tracker     *strategy.Tracker
	sizer       *strategy.Sizer
	executor    *exec.Executor
	takeProfits *exec.TakeProfitTracker
	account     *account.Account

	outbox     *alerts.Outbox
	dispatcher *alerts.Dispatcher
	telegram   *alerts.Telegram
	timescale  *timescale.Writer
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	background []func(context.Context) error
	loc        *time.Location

	tickSlot      *slot
	positionsSlot *slot
	sizingSlot    *slot
	heartbeatSlot *slot

	opsMu          sync.RWMutex
	startedAt      time.Time
	lastTick       time.Time
	lastCandle     market.Candle
	lastTickErr    string
	operatorWarned bool
}

func New(cfg *config.Config, secrets config.Secrets, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, store: store}

	venue, source, err := NewVenue(cfg, secrets, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.venue = venue
	if hl, ok := venue.(*hyperliquid.Client); ok && hl.Mids() != nil {
		a.background = append(a.background, hl.Mids().Run)
	}
	a.market, err = market.New(source, cfg.Market.Symbol, cfg.Market.Timeframe, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.feed = coinalyze.New(cfg.Feed, secrets.CoinalyzeAPIKey, log)

	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}
	a.telegram = alerts.NewTelegram(cfg.Telegram, log)
	a.dispatcher = alerts.NewDispatcher(a.telegram, 64, log)
	a.timescale, err = timescale.New(cfg.Timescale, log)
	if err != nil {
		log.Warn("timescale disabled", zap.Error(err))
		a.timescale = nil
	}
	if err := a.initEngine(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewVenue builds the trading venue named in cfg and the candle source the
// engine reads bars from.
func NewVenue(cfg *config.Config, secrets config.Secrets, log *zap.Logger) (exchange.Exchange, market.CandleSource, error) {
	var (
		venue  exchange.Exchange
		source market.CandleSource
	)
	switch cfg.Exchange.Name {
	case config.ExchangeHyperliquid:
		client, err := hyperliquid.New(cfg.Exchange, secrets, log)
		if err != nil {
			return nil, nil, err
		}
		venue, source = client, client
	default:
		client := binance.New(cfg.Exchange, cfg.Sizing.QuoteAsset, secrets.ExchangeAPIKey, secrets.ExchangeSecretKey, log)
		venue, source = client, client
	}
	if cfg.Market.Source == config.ExchangeBinance && cfg.Exchange.Name != config.ExchangeBinance {
		source = binance.New(config.ExchangeConfig{Symbol: cfg.Market.Symbol, Timeout: cfg.Exchange.Timeout}, "", "", "", log)
	}
	return venue, source, nil
}

// initEngine builds the strategy core from cfg around the venue, market and
// store already set on a.
func (a *App) initEngine() error {
	cfg := a.cfg
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNoop()
	}
	if a.venue == nil || a.market == nil || a.feed == nil {
		return errors.New("venue, market data and feed are required")
	}
	loc, err := time.LoadLocation(cfg.Strategy.Timezone)
	if err != nil {
		return fmt.Errorf("strategy.timezone: %w", err)
	}
	a.loc = loc
	a.ledger = liquidation.NewLedger(liquidation.DefaultHorizon)
	a.validator = liquidation.NewValidator(liquidation.ValidatorConfig{
		CandidateAmount: cfg.Liquidation.CandidateAmount,
		MinAmount:       cfg.Liquidation.MinAmount,
		MinCount:        cfg.Liquidation.MinCount,
		EntryThreshold:  cfg.Liquidation.EntryThreshold,
		OverrideAmount:  cfg.Liquidation.OverrideAmount,
		Window:          window.New(cfg.Liquidation.Days, cfg.Liquidation.Hours, loc),
	}, a.ledger, a.log)
	a.selector = strategy.NewSelector(strategy.LevelConfig{
		OffsetPct:                    cfg.Strategy.EntryOffsetPct,
		MaxCandlesBeforeConfirmation: cfg.Strategy.MaxCandlesBeforeConfirmation,
		Bar:                          a.market.Bar(),
		PricePrecision:               cfg.Exchange.PricePrecision,
	}, strategy.OverlaysFromConfig(cfg.Strategy.Overlays, loc), a.ledger, a.log)
	var ttl time.Duration
	if cfg.Strategy.PendingTTL != nil {
		ttl = *cfg.Strategy.PendingTTL
	}
	a.tracker = strategy.NewTracker(ttl, a.log)
	a.sizer = strategy.NewSizer(strategy.SizingParams{
		Mode:               cfg.Sizing.Mode,
		FixedRisk:          cfg.Sizing.FixedRisk,
		RiskPercent:        cfg.Sizing.RiskPercent,
		Leverage:           cfg.Exchange.Leverage,
		ContractMultiplier: cfg.Sizing.ContractMultiplier,
		FallbackSize:       cfg.Sizing.FallbackSize,
		SizeDecimals:       cfg.Exchange.SizeDecimals,
	}, a.log)
	a.executor = exec.New(a.venue, a.store, a.metrics, a.log)
	a.takeProfits = exec.NewTakeProfitTracker(a.executor, a.venue, cfg.Orders.ClosedLookback, cfg.Orders.ClosedLimit, a.metrics, a.log)
	a.account = account.New(a.venue, a.log)
	a.outbox = alerts.NewOutbox()

	sch := cfg.Schedule
	a.tickSlot = newSlot("tick", sch.Cycle, sch.TickDelay)
	a.positionsSlot = newSlot("positions", sch.Cycle, sch.PositionsOffset)
	a.sizingSlot = newSlot("sizing", sch.Cycle, sch.SizingOffset)
	a.heartbeatSlot = newSlot("heartbeat", sch.HeartbeatEvery, sch.HeartbeatOffset)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if hl, ok := a.venue.(*hyperliquid.Client); ok && a.store != nil {
		if err := hl.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		}
	}
	for _, run := range a.background {
		go func(run func(context.Context) error) {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("background task stopped", zap.Error(err))
			}
		}(run)
	}
	if a.dispatcher != nil {
		go a.dispatcher.Run(ctx)
	}
	a.timescale.Start(ctx)
	a.startServer(ctx)
	a.startOperator(ctx)

	a.startup(ctx, time.Now().UTC())
	a.flush()

	ticker := time.NewTicker(a.cfg.Schedule.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.step(ctx, time.Now().UTC())
		}
	}
}

// startup configures leverage, discovers feed symbols, computes sizes and
// announces the effective settings.
func (a *App) startup(ctx context.Context, now time.Time) {
	a.opsMu.Lock()
	a.startedAt = now
	a.opsMu.Unlock()
	if err := a.venue.SetLeverage(ctx, a.cfg.Exchange.Leverage); err != nil {
		a.log.Warn("set leverage failed", zap.Int("leverage", a.cfg.Exchange.Leverage), zap.Error(err))
		a.outbox.Append(alerts.ChannelHeartbeat, false, fmt.Sprintf("Setting leverage failed: %v", err))
	}
	if symbols, err := a.feed.RefreshSymbols(ctx); err != nil {
		a.fail("symbol discovery", err)
	} else {
		a.log.Info("feed symbols", zap.Strings("symbols", symbols))
	}
	// ticks and reports wait for their next boundary
	a.tickSlot.skip(now)
	a.positionsSlot.skip(now)
	a.sizingSlot.skip(now)
	a.refreshSizing(ctx)
	a.heartbeatSlot.skip(now)
	a.outbox.Append(alerts.ChannelHeartbeat, false, a.startupLines()...)
	a.log.Info("engine started",
		zap.String("exchange", a.venue.Name()),
		zap.String("symbol", a.market.Symbol()),
		zap.Time("next_tick", a.tickSlot.next(now)),
	)
}

func (a *App) step(ctx context.Context, now time.Time) {
	if _, ok := a.tickSlot.due(now); ok {
		a.tick(ctx, now)
	}
	if _, ok := a.sizingSlot.due(now); ok {
		a.refreshSizing(ctx)
	}
	if _, ok := a.positionsSlot.due(now); ok {
		a.reportPositions(ctx)
	}
	if _, ok := a.heartbeatSlot.due(now); ok {
		a.heartbeat(ctx)
	}
	a.flush()
}

// flush hands everything queued this step to the dispatcher.
func (a *App) flush() {
	batch := a.outbox.Drain()
	if len(batch) == 0 || a.dispatcher == nil {
		return
	}
	a.dispatcher.Enqueue(batch)
}

func (a *App) fail(action string, err error) {
	a.metrics.TickFailures.Inc()
	a.log.Warn(action+" failed", zap.Error(err))
	a.outbox.Append(alerts.ChannelHeartbeat, false, fmt.Sprintf("%s failed: %v", action, err))
}

func (a *App) close() {
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", zap.Error(err))
		}
	}
}
