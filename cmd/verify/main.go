package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"liq-reaction-bot/internal/app"
	"liq-reaction-bot/internal/coinalyze"
	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/exchange/hyperliquid"
	"liq-reaction-bot/internal/exec"
	"liq-reaction-bot/internal/logging"
	"liq-reaction-bot/internal/market"
	"liq-reaction-bot/internal/state/sqlite"
	"liq-reaction-bot/internal/strategy"

	"go.uber.org/zap"
)

const verifyTimeout = 30 * time.Second

type overlayPreview struct {
	Overlay    string  `json:"overlay"`
	Direction  string  `json:"direction"`
	Size       float64 `json:"size"`
	SizeError  string  `json:"size_error,omitempty"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	TwoLeg     bool    `json:"two_leg"`
}

type report struct {
	Exchange     string           `json:"exchange"`
	Symbol       string           `json:"symbol"`
	Candle       *market.Candle   `json:"candle,omitempty"`
	Ticker       float64          `json:"ticker"`
	Balance      exchange.Balance `json:"balance"`
	FeedSymbols  []string         `json:"feed_symbols"`
	LongVolume   float64          `json:"long_volume"`
	ShortVolume  float64          `json:"short_volume"`
	Overlays     []overlayPreview `json:"overlays"`
	PlacedID     string           `json:"placed_order_id,omitempty"`
	PlacedError  string           `json:"placed_error,omitempty"`
	Errors       []string         `json:"errors,omitempty"`
	CheckedAtUTC time.Time        `json:"checked_at"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional .env file with credentials")
	direction := flag.String("direction", "long", "direction of the previewed entry: long or short")
	place := flag.Bool("place", false, "place the first overlay's previewed entry")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	dir := market.Direction(strings.ToLower(*direction))
	if dir != market.Long && dir != market.Short {
		fatal(fmt.Errorf("direction must be long or short, got %q", *direction))
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	secrets := config.SecretsFromEnv()
	venue, source, err := app.NewVenue(cfg, secrets, log)
	if err != nil {
		fatal(err)
	}
	md, err := market.New(source, cfg.Market.Symbol, cfg.Market.Timeframe, log)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()
	now := time.Now().UTC()
	out := report{Exchange: venue.Name(), Symbol: cfg.Exchange.Symbol, CheckedAtUTC: now}
	collect := func(what string, err error) {
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", what, err))
		}
	}

	candle, err := md.LastClosedCandle(ctx, now)
	collect("candle", err)
	if err == nil {
		out.Candle = &candle
	}
	out.Ticker, err = venue.FetchTicker(ctx)
	collect("ticker", err)
	out.Balance, err = venue.FetchBalance(ctx)
	collect("balance", err)

	feed := coinalyze.New(cfg.Feed, secrets.CoinalyzeAPIKey, log)
	out.FeedSymbols, err = feed.RefreshSymbols(ctx)
	collect("feed symbols", err)
	if err == nil {
		entries, err := feed.FetchLiquidations(ctx, now)
		collect("liquidations", err)
		for _, e := range entries {
			out.LongVolume += e.Long
			out.ShortVolume += e.Short
		}
	}

	loc, _ := time.LoadLocation(cfg.Strategy.Timezone)
	params := strategy.SizingParams{
		Mode:               cfg.Sizing.Mode,
		FixedRisk:          cfg.Sizing.FixedRisk,
		RiskPercent:        cfg.Sizing.RiskPercent,
		Leverage:           cfg.Exchange.Leverage,
		ContractMultiplier: cfg.Sizing.ContractMultiplier,
		FallbackSize:       cfg.Sizing.FallbackSize,
		SizeDecimals:       cfg.Exchange.SizeDecimals,
	}
	var first *exchange.OrderRequest
	for _, o := range strategy.OverlaysFromConfig(cfg.Strategy.Overlays, loc) {
		preview := overlayPreview{Overlay: o.Name, Direction: string(o.TradeDirection(dir)), TwoLeg: o.TwoLeg}
		size, err := strategy.ComputeSize(params, o, out.Balance.Available, out.Ticker)
		if err != nil {
			preview.SizeError = err.Error()
			size = params.FallbackSize
		}
		preview.Size = size
		d := o.TradeDirection(dir)
		preview.Price = strategy.EntryPrice(d, out.Ticker, cfg.Strategy.LimitOffsetPct, cfg.Exchange.PricePrecision)
		preview.StopLoss, preview.TakeProfit = strategy.StopLossTakeProfit(d, preview.Price, o.StopLossPct, o.TakeProfitPct, cfg.Exchange.PricePrecision)
		out.Overlays = append(out.Overlays, preview)
		if first == nil && !o.JournalOnly {
			req := exchange.OrderRequest{Direction: d, Amount: size, Price: preview.Price, StopLoss: preview.StopLoss}
			if !o.TwoLeg {
				req.TakeProfit = preview.TakeProfit
			}
			first = &req
		}
	}

	if *place {
		if first == nil || out.Ticker <= 0 {
			fatal(errors.New("nothing to place: no tradable overlay or ticker unavailable"))
		}
		out.PlacedID, err = placeOnce(ctx, cfg, venue, *first, log)
		if err != nil {
			out.PlacedError = err.Error()
		}
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func placeOnce(ctx context.Context, cfg *config.Config, venue exchange.Exchange, req exchange.OrderRequest, log *zap.Logger) (string, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return "", err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return "", err
	}
	defer store.Close()
	if hl, ok := venue.(*hyperliquid.Client); ok {
		if err := hl.InitNonceStore(ctx, store); err != nil {
			log.Warn("nonce store init failed", zap.Error(err))
		}
	}
	if err := venue.SetLeverage(ctx, cfg.Exchange.Leverage); err != nil {
		log.Warn("set leverage failed", zap.Error(err))
	}
	return exec.New(venue, store, nil, log).PlaceOrderOnce(ctx, req)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
