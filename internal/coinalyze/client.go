// Package coinalyze reads aggregated liquidation history from the Coinalyze API.
package coinalyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/liquidation"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

var ErrNoSymbols = errors.New("no future markets match the symbol prefix")

type Client struct {
	baseURL      string
	apiKey       string
	prefix       string
	lookback     time.Duration
	interval     string
	convertToUSD bool
	http         *http.Client
	log          *zap.Logger

	mu      sync.RWMutex
	symbols []string
}

func New(cfg config.FeedConfig, apiKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       apiKey,
		prefix:       strings.ToUpper(cfg.SymbolPrefix),
		lookback:     cfg.Lookback,
		interval:     cfg.Interval,
		convertToUSD: cfg.ConvertToUSD,
		http:         &http.Client{Timeout: timeout},
		log:          log,
	}
}

func (c *Client) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.symbols...)
}

// RefreshSymbols lists future markets and keeps those starting with the
// configured prefix.
func (c *Client) RefreshSymbols(ctx context.Context) ([]string, error) {
	res, err := c.get(ctx, "/future-markets", nil)
	if err != nil {
		return nil, fmt.Errorf("future markets: %w", err)
	}
	var symbols []string
	for _, m := range res.Array() {
		sym := strings.ToUpper(m.Get("symbol").String())
		if sym != "" && strings.HasPrefix(sym, c.prefix) {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	c.mu.Lock()
	c.symbols = symbols
	c.mu.Unlock()
	c.log.Info("feed symbols refreshed", zap.Int("count", len(symbols)), zap.String("prefix", c.prefix))
	return symbols, nil
}

// FetchLiquidations returns the latest bucket per symbol over the lookback
// window ending at now. Symbols are discovered on first use.
func (c *Client) FetchLiquidations(ctx context.Context, now time.Time) ([]liquidation.FeedEntry, error) {
	symbols := c.Symbols()
	if len(symbols) == 0 {
		var err error
		if symbols, err = c.RefreshSymbols(ctx); err != nil {
			return nil, err
		}
	}
	return c.FetchLiquidationHistory(ctx, symbols, now.Add(-c.lookback), now)
}

// FetchLiquidationHistory keeps the first history bucket of every symbol.
// Symbols without history, or buckets missing either side, are skipped.
func (c *Client) FetchLiquidationHistory(ctx context.Context, symbols []string, from, to time.Time) ([]liquidation.FeedEntry, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))
	params.Set("interval", c.interval)
	if c.convertToUSD {
		params.Set("convert_to_usd", "true")
	}
	res, err := c.get(ctx, "/liquidation-history", params)
	if err != nil {
		return nil, fmt.Errorf("liquidation history: %w", err)
	}
	var entries []liquidation.FeedEntry
	for _, item := range res.Array() {
		bucket := item.Get("history.0")
		if !bucket.Exists() {
			continue
		}
		long, short, ts := bucket.Get("l"), bucket.Get("s"), bucket.Get("t")
		if !long.Exists() || !short.Exists() {
			c.log.Debug("skipping incomplete liquidation bucket", zap.String("symbol", item.Get("symbol").String()))
			continue
		}
		entries = append(entries, liquidation.FeedEntry{
			Symbol: item.Get("symbol").String(),
			Long:   long.Float(),
			Short:  short.Float(),
			Time:   time.Unix(ts.Int(), 0).UTC(),
		})
	}
	if len(entries) > 0 {
		c.log.Info("liquidations fetched", zap.Int("symbols", len(entries)))
	}
	return entries, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("api_key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 2048 {
			body = body[:2048]
		}
		return gjson.Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("invalid json payload")
	}
	return gjson.ParseBytes(body), nil
}
