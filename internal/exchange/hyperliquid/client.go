// Package hyperliquid implements the exchange surface on Hyperliquid perps.
package hyperliquid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/market"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	MainnetURL = "https://api.hyperliquid.xyz"
	TestnetURL = "https://api.hyperliquid-testnet.xyz"

	quoteAsset = "USDC"
	midMaxAge  = 10 * time.Second
)

var ErrReadOnly = errors.New("hyperliquid client has no signing key")

// NonceStore persists the last used action nonce so restarts never reuse one.
type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type Client struct {
	rest       *poster
	baseURL    string
	coin       string
	marginMode string
	signer     *Signer
	vault      *common.Address
	user       string
	mids       *MidStream
	log        *zap.Logger

	metaMu sync.Mutex
	asset  *assetInfo

	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	persistMu     sync.Mutex
	nonceStore    NonceStore
	nonceKey      string
}

// New builds a client. Without a private key only market data calls work.
func New(cfg config.ExchangeConfig, secrets config.Secrets, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = MainnetURL
		if cfg.Testnet {
			baseURL = TestnetURL
		}
	}
	c := &Client{
		rest:       newPoster(baseURL, cfg.Timeout),
		baseURL:    baseURL,
		coin:       cfg.Symbol,
		marginMode: cfg.MarginMode,
		log:        log,
	}
	if strings.TrimSpace(secrets.HLPrivateKey) != "" {
		signer, err := NewSigner(secrets.HLPrivateKey, !cfg.Testnet)
		if err != nil {
			return nil, err
		}
		c.signer = signer
		c.user = signer.Address().Hex()
	}
	if addr := strings.TrimSpace(secrets.HLWalletAddress); addr != "" {
		c.user = addr
	}
	if addr := strings.TrimSpace(secrets.HLVaultAddress); addr != "" {
		vault := common.HexToAddress(addr)
		c.vault = &vault
		c.user = vault.Hex()
	}
	if cfg.WSURL != "" {
		c.mids = NewMidStream(cfg.WSURL, cfg.Symbol, cfg.ReconnectDelay, cfg.PingInterval, log)
	}
	return c, nil
}

func (c *Client) Name() string {
	return config.ExchangeHyperliquid
}

// Mids exposes the websocket price cache so the caller can run it.
func (c *Client) Mids() *MidStream {
	return c.mids
}

func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]market.Candle, error) {
	if symbol == "" {
		symbol = c.coin
	}
	bar, err := market.ParseTimeframe(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 2
	}
	res, err := c.rest.info(ctx, candleRequest{
		Type: "candleSnapshot",
		Req: candleRequestReq{
			Coin:      symbol,
			Interval:  interval,
			StartTime: start.UnixMilli(),
			EndTime:   start.Add(bar * time.Duration(limit)).UnixMilli(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("candle snapshot: %w", err)
	}
	var out []market.Candle
	for _, entry := range res.Array() {
		openMs := entry.Get("t").Int()
		if openMs == 0 {
			continue
		}
		out = append(out, market.Candle{
			Asset:    symbol,
			Interval: interval,
			Start:    time.UnixMilli(openMs).UTC(),
			Open:     entry.Get("o").Float(),
			High:     entry.Get("h").Float(),
			Low:      entry.Get("l").Float(),
			Close:    entry.Get("c").Float(),
			Volume:   entry.Get("v").Float(),
		})
	}
	return out, nil
}

func (c *Client) FetchTicker(ctx context.Context) (float64, error) {
	if c.mids != nil {
		if px, ok := c.mids.Mid(time.Now(), midMaxAge); ok {
			return px, nil
		}
	}
	res, err := c.rest.info(ctx, map[string]string{"type": "allMids"})
	if err != nil {
		return 0, fmt.Errorf("all mids: %w", err)
	}
	px, ok := midFor(res, c.coin)
	if !ok {
		return 0, fmt.Errorf("no mid for %s", c.coin)
	}
	return px, nil
}

func (c *Client) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	res, err := c.userInfo(ctx, "clearinghouseState")
	if err != nil {
		return exchange.Balance{}, err
	}
	summary := res.Get("marginSummary")
	if !summary.Exists() {
		return exchange.Balance{}, errors.New("clearinghouse state missing margin summary")
	}
	return exchange.Balance{
		Asset:     quoteAsset,
		Total:     summary.Get("accountValue").Float(),
		Available: res.Get("withdrawable").Float(),
	}, nil
}

func (c *Client) FetchOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	res, err := c.userInfo(ctx, "clearinghouseState")
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	for _, ap := range res.Get("assetPositions").Array() {
		p := ap.Get("position")
		if p.Get("coin").String() != c.coin {
			continue
		}
		szi := p.Get("szi").Float()
		if szi == 0 {
			continue
		}
		pos := exchange.Position{
			Symbol:           c.coin,
			Direction:        market.Long,
			Size:             szi,
			EntryPrice:       p.Get("entryPx").Float(),
			LiquidationPrice: p.Get("liquidationPx").Float(),
			UnrealizedPnL:    p.Get("unrealizedPnl").Float(),
			Leverage:         int(p.Get("leverage.value").Int()),
		}
		if szi < 0 {
			pos.Direction = market.Short
			pos.Size = -szi
		}
		out = append(out, pos)
	}
	return out, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context) ([]exchange.Order, error) {
	res, err := c.userInfo(ctx, "frontendOpenOrders")
	if err != nil {
		return nil, err
	}
	var out []exchange.Order
	for _, entry := range res.Array() {
		if entry.Get("coin").String() != c.coin {
			continue
		}
		o := convertOrder(entry)
		o.Status = exchange.StatusOpen
		out = append(out, o)
	}
	return out, nil
}

// FetchClosedOrders returns terminal orders updated since the given time,
// newest first.
func (c *Client) FetchClosedOrders(ctx context.Context, since time.Time, limit int) ([]exchange.Order, error) {
	res, err := c.userInfo(ctx, "historicalOrders")
	if err != nil {
		return nil, err
	}
	var out []exchange.Order
	for _, entry := range res.Array() {
		order := entry.Get("order")
		if order.Get("coin").String() != c.coin {
			continue
		}
		status := orderStatus(entry.Get("status").String())
		if status == exchange.StatusOpen {
			continue
		}
		o := convertOrder(order)
		o.Status = status
		if ts := entry.Get("statusTimestamp").Int(); ts > 0 {
			o.UpdatedAt = time.UnixMilli(ts).UTC()
		}
		if o.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) SetLeverage(ctx context.Context, leverage int) error {
	if c.signer == nil {
		return ErrReadOnly
	}
	asset, err := c.assetInfo(ctx)
	if err != nil {
		return err
	}
	action := leverageAction{
		Type:     "updateLeverage",
		Asset:    asset.Index,
		IsCross:  strings.EqualFold(c.marginMode, "cross"),
		Leverage: leverage,
	}
	packed, err := encodeLeverageAction(action)
	if err != nil {
		return err
	}
	res, err := c.submit(ctx, action, packed)
	if err != nil {
		return fmt.Errorf("update leverage: %w", err)
	}
	c.log.Info("leverage set", zap.String("coin", c.coin), zap.Int("leverage", leverage), zap.String("status", res.Get("status").String()))
	return nil
}

// PlaceOrder sends a GTC limit entry. Stop loss and take profit ride along in
// the same action as reduce-only market triggers grouped with the entry.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if c.signer == nil {
		return "", ErrReadOnly
	}
	asset, err := c.assetInfo(ctx)
	if err != nil {
		return "", err
	}
	size, err := sizeToWire(req.Amount, asset.SzDecimals)
	if err != nil {
		return "", err
	}
	price, err := priceToWire(req.Price, asset.SzDecimals)
	if err != nil {
		return "", err
	}
	isBuy := req.Direction == market.Long
	orders := []orderWire{{
		Asset:      asset.Index,
		IsBuy:      isBuy,
		Price:      price,
		Size:       size,
		ReduceOnly: req.ReduceOnly,
		OrderType:  orderType{Limit: &limitType{Tif: TifGtc}},
		Cloid:      cloidFromClientID(req.ClientOrderID),
	}}
	for _, leg := range []struct {
		px   float64
		tpsl string
	}{{req.StopLoss, tpslStopLoss}, {req.TakeProfit, tpslTakeProfit}} {
		if leg.px <= 0 {
			continue
		}
		trigger, err := priceToWire(leg.px, asset.SzDecimals)
		if err != nil {
			return "", fmt.Errorf("%s price: %w", leg.tpsl, err)
		}
		orders = append(orders, orderWire{
			Asset:      asset.Index,
			IsBuy:      !isBuy,
			Price:      trigger,
			Size:       size,
			ReduceOnly: true,
			OrderType:  orderType{Trigger: &triggerType{IsMarket: true, TriggerPx: trigger, Tpsl: leg.tpsl}},
		})
	}
	action := orderAction{Type: "order", Orders: orders, Grouping: groupingNone}
	if len(orders) > 1 {
		action.Grouping = groupingNormalTpsl
	}
	packed, err := encodeOrderAction(action)
	if err != nil {
		return "", err
	}
	res, err := c.submit(ctx, action, packed)
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	return entryResult(res.Get("response.data.statuses").Array())
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.signer == nil {
		return ErrReadOnly
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	asset, err := c.assetInfo(ctx)
	if err != nil {
		return err
	}
	action := cancelAction{Type: "cancel", Cancels: []cancelWire{{Asset: asset.Index, OrderID: oid}}}
	packed, err := encodeCancelAction(action)
	if err != nil {
		return err
	}
	res, err := c.submit(ctx, action, packed)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	statuses := res.Get("response.data.statuses").Array()
	if len(statuses) > 0 {
		if msg := statuses[0].Get("error").String(); msg != "" {
			return fmt.Errorf("cancel order: %s", msg)
		}
	}
	return nil
}

// InitNonceStore seeds the nonce counter from the store and persists every
// nonce handed out afterwards.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil || c.signer == nil {
		return nil
	}
	key := c.nonceStoreKey()
	seed := uint64(time.Now().UnixMilli())
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		stored, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("stored nonce %q: %w", raw, err)
		}
		if stored > seed {
			seed = stored
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) nonceStoreKey() string {
	vault := "none"
	if c.vault != nil {
		vault = strings.ToLower(c.vault.Hex())
	}
	return fmt.Sprintf("exchange:nonce:%s:%s:%s", strings.ToLower(c.baseURL), strings.ToLower(c.signer.Address().Hex()), vault)
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
		return
	}
	c.lastPersisted.Store(nonce)
}

func (c *Client) submit(ctx context.Context, action any, packed []byte) (gjson.Result, error) {
	nonce := c.nextNonce()
	sig, err := c.signer.Sign(packed, nonce, c.vault)
	if err != nil {
		return gjson.Result{}, err
	}
	body := signedAction{Action: action, Nonce: nonce, Signature: sig}
	if c.vault != nil {
		addr := c.vault.Hex()
		body.VaultAddress = &addr
	}
	res, err := c.rest.post(ctx, "/exchange", body)
	if err != nil {
		return gjson.Result{}, err
	}
	if status := res.Get("status").String(); status != "ok" {
		return gjson.Result{}, fmt.Errorf("exchange status %q: %s", status, res.Get("response").String())
	}
	return res, nil
}

func (c *Client) userInfo(ctx context.Context, kind string) (gjson.Result, error) {
	if c.user == "" {
		return gjson.Result{}, fmt.Errorf("%s: no account address configured", kind)
	}
	res, err := c.rest.info(ctx, userRequest{Type: kind, User: c.user})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", kind, err)
	}
	return res, nil
}

func (c *Client) assetInfo(ctx context.Context) (assetInfo, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	if c.asset != nil {
		return *c.asset, nil
	}
	res, err := c.rest.info(ctx, map[string]string{"type": "meta"})
	if err != nil {
		return assetInfo{}, fmt.Errorf("meta: %w", err)
	}
	info, ok := parseMeta(res)[c.coin]
	if !ok {
		return assetInfo{}, fmt.Errorf("coin %s not listed", c.coin)
	}
	c.asset = &info
	return info, nil
}

// entryResult reads the per-order statuses of an order action. The first
// status belongs to the entry; later ones to its protective legs.
func entryResult(statuses []gjson.Result) (string, error) {
	if len(statuses) == 0 {
		return "", exchange.ErrEmptyOrderID
	}
	if msg := statuses[0].Get("error").String(); msg != "" {
		return "", fmt.Errorf("entry rejected: %s", msg)
	}
	var oid string
	for _, path := range []string{"resting.oid", "filled.oid"} {
		if v := statuses[0].Get(path); v.Exists() {
			oid = v.String()
			break
		}
	}
	if oid == "" {
		return "", exchange.ErrEmptyOrderID
	}
	var legErrs []error
	for _, s := range statuses[1:] {
		if msg := s.Get("error").String(); msg != "" {
			legErrs = append(legErrs, errors.New(msg))
		}
	}
	if len(legErrs) > 0 {
		return oid, fmt.Errorf("%w: %w", exchange.ErrProtection, errors.Join(legErrs...))
	}
	return oid, nil
}

func convertOrder(entry gjson.Result) exchange.Order {
	o := exchange.Order{
		ID:           entry.Get("oid").String(),
		Symbol:       entry.Get("coin").String(),
		Kind:         exchange.KindLimit,
		Direction:    market.Long,
		Amount:       entry.Get("origSz").Float(),
		Price:        entry.Get("limitPx").Float(),
		TriggerPrice: entry.Get("triggerPx").Float(),
		ReduceOnly:   entry.Get("reduceOnly").Bool(),
		UpdatedAt:    time.UnixMilli(entry.Get("timestamp").Int()).UTC(),
	}
	if o.Amount == 0 {
		o.Amount = entry.Get("sz").Float()
	}
	if entry.Get("side").String() == "A" {
		o.Direction = market.Short
	}
	kind := strings.ToLower(entry.Get("orderType").String())
	switch {
	case strings.Contains(kind, "take profit"):
		o.Kind = exchange.KindTakeProfit
	case strings.Contains(kind, "stop"):
		o.Kind = exchange.KindStop
	case kind == "market":
		o.Kind = exchange.KindMarket
	}
	return o
}

func orderStatus(raw string) string {
	switch {
	case raw == "filled":
		return exchange.StatusFilled
	case raw == "open" || raw == "triggered":
		return exchange.StatusOpen
	case strings.HasSuffix(strings.ToLower(raw), "rejected"):
		return exchange.StatusRejected
	default:
		return exchange.StatusCanceled
	}
}
