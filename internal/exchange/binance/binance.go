// Package binance implements the exchange surface on Binance USD-M futures.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/market"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Binance answers -4046 when the requested margin type is already active.
const codeNoMarginChange = -4046

type Client struct {
	futures        *futures.Client
	symbol         string
	marginMode     string
	quoteAsset     string
	pricePrecision int32
	sizeDecimals   int32
	log            *zap.Logger
}

func New(cfg config.ExchangeConfig, quoteAsset, apiKey, secretKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	fc := futures.NewClient(apiKey, secretKey)
	if cfg.BaseURL != "" {
		fc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		fc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Client{
		futures:        fc,
		symbol:         cfg.Symbol,
		marginMode:     cfg.MarginMode,
		quoteAsset:     quoteAsset,
		pricePrecision: cfg.PricePrecision,
		sizeDecimals:   cfg.SizeDecimals,
		log:            log,
	}
}

func (c *Client) Name() string {
	return config.ExchangeBinance
}

// FetchCandles reads klines. The public endpoint needs no credentials, so a
// client built with empty keys doubles as a plain candle source.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]market.Candle, error) {
	if symbol == "" {
		symbol = c.symbol
	}
	svc := c.futures.NewKlinesService().Symbol(symbol).Interval(interval)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines: %w", err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		candle := market.Candle{
			Asset:    symbol,
			Interval: interval,
			Start:    time.UnixMilli(k.OpenTime).UTC(),
		}
		var perr error
		if candle.Open, perr = parseFloat(k.Open); perr != nil {
			return nil, fmt.Errorf("kline open: %w", perr)
		}
		if candle.High, perr = parseFloat(k.High); perr != nil {
			return nil, fmt.Errorf("kline high: %w", perr)
		}
		if candle.Low, perr = parseFloat(k.Low); perr != nil {
			return nil, fmt.Errorf("kline low: %w", perr)
		}
		if candle.Close, perr = parseFloat(k.Close); perr != nil {
			return nil, fmt.Errorf("kline close: %w", perr)
		}
		candle.Volume, _ = parseFloat(k.Volume)
		out = append(out, candle)
	}
	return out, nil
}

// SetLeverage switches the symbol to the configured margin mode and applies
// the leverage. One-way mode shares the leverage between both directions.
func (c *Client) SetLeverage(ctx context.Context, leverage int) error {
	if strings.EqualFold(c.marginMode, "isolated") || strings.EqualFold(c.marginMode, "cross") {
		marginType := futures.MarginTypeIsolated
		if strings.EqualFold(c.marginMode, "cross") {
			marginType = futures.MarginTypeCrossed
		}
		err := c.futures.NewChangeMarginTypeService().Symbol(c.symbol).MarginType(marginType).Do(ctx)
		if err != nil && !isAPIError(err, codeNoMarginChange) {
			return fmt.Errorf("margin type: %w", err)
		}
	}
	res, err := c.futures.NewChangeLeverageService().Symbol(c.symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("leverage: %w", err)
	}
	c.log.Info("leverage set", zap.String("symbol", res.Symbol), zap.Int("leverage", res.Leverage))
	return nil
}

func (c *Client) FetchTicker(ctx context.Context) (float64, error) {
	prices, err := c.futures.NewListPricesService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker: %w", err)
	}
	for _, p := range prices {
		if p.Symbol == c.symbol {
			return parseFloat(p.Price)
		}
	}
	return 0, fmt.Errorf("ticker: no price for %s", c.symbol)
}

func (c *Client) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	balances, err := c.futures.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset != c.quoteAsset {
			continue
		}
		total, err := parseFloat(b.Balance)
		if err != nil {
			return exchange.Balance{}, fmt.Errorf("balance total: %w", err)
		}
		available, err := parseFloat(b.AvailableBalance)
		if err != nil {
			return exchange.Balance{}, fmt.Errorf("balance available: %w", err)
		}
		return exchange.Balance{Asset: b.Asset, Available: available, Total: total}, nil
	}
	return exchange.Balance{}, fmt.Errorf("balance: asset %s not found", c.quoteAsset)
}

func (c *Client) FetchOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := c.futures.NewGetPositionRiskService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		amt, err := parseFloat(r.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("position amount: %w", err)
		}
		if amt == 0 {
			continue
		}
		pos := exchange.Position{Symbol: r.Symbol, Direction: market.Long, Size: amt}
		if amt < 0 {
			pos.Direction = market.Short
			pos.Size = -amt
		}
		pos.EntryPrice, _ = parseFloat(r.EntryPrice)
		pos.LiquidationPrice, _ = parseFloat(r.LiquidationPrice)
		pos.UnrealizedPnL, _ = parseFloat(r.UnRealizedProfit)
		out = append(out, pos)
	}
	return out, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context) ([]exchange.Order, error) {
	orders, err := c.futures.NewListOpenOrdersService().Symbol(c.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	return convertOrders(orders), nil
}

func (c *Client) FetchClosedOrders(ctx context.Context, since time.Time, limit int) ([]exchange.Order, error) {
	svc := c.futures.NewListOrdersService().Symbol(c.symbol)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("closed orders: %w", err)
	}
	all := convertOrders(orders)
	out := all[:0]
	for _, o := range all {
		if o.Status != exchange.StatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

// PlaceOrder rests a GTC limit entry and attaches the optional stop loss and
// take profit as reduce-only mark-price trigger orders on the opposite side.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if req.Amount <= 0 {
		return "", errors.New("order amount must be positive")
	}
	if req.Price <= 0 {
		return "", errors.New("order price must be positive")
	}
	qty := decimal.NewFromFloat(req.Amount).StringFixed(c.sizeDecimals)
	svc := c.futures.NewCreateOrderService().
		Symbol(c.symbol).
		Side(futures.SideType(exchange.Side(req.Direction))).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(qty).
		Price(c.price(req.Price))
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	entryID := strconv.FormatInt(res.OrderID, 10)

	closeSide := futures.SideType(exchange.Side(req.Direction.Opposite()))
	var protectErrs []error
	if req.StopLoss > 0 {
		if err := c.trigger(ctx, closeSide, futures.OrderTypeStopMarket, qty, req.StopLoss); err != nil {
			protectErrs = append(protectErrs, fmt.Errorf("stop loss: %w", err))
		}
	}
	if req.TakeProfit > 0 {
		if err := c.trigger(ctx, closeSide, futures.OrderTypeTakeProfitMarket, qty, req.TakeProfit); err != nil {
			protectErrs = append(protectErrs, fmt.Errorf("take profit: %w", err))
		}
	}
	if len(protectErrs) > 0 {
		return entryID, fmt.Errorf("%w: %w", exchange.ErrProtection, errors.Join(protectErrs...))
	}
	return entryID, nil
}

func (c *Client) trigger(ctx context.Context, side futures.SideType, kind futures.OrderType, qty string, price float64) error {
	_, err := c.futures.NewCreateOrderService().
		Symbol(c.symbol).
		Side(side).
		Type(kind).
		Quantity(qty).
		StopPrice(c.price(price)).
		ReduceOnly(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	return err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q: %w", orderID, err)
	}
	if _, err := c.futures.NewCancelOrderService().Symbol(c.symbol).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (c *Client) price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(c.pricePrecision)
}

func convertOrders(orders []*futures.Order) []exchange.Order {
	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		order := exchange.Order{
			ID:         strconv.FormatInt(o.OrderID, 10),
			Symbol:     o.Symbol,
			Kind:       orderKind(o.Type),
			Direction:  market.Long,
			ReduceOnly: o.ReduceOnly,
			Status:     orderStatus(o.Status),
			UpdatedAt:  time.UnixMilli(o.UpdateTime).UTC(),
		}
		if o.Side == futures.SideTypeSell {
			order.Direction = market.Short
		}
		order.Amount, _ = parseFloat(o.OrigQuantity)
		order.Price, _ = parseFloat(o.Price)
		order.TriggerPrice, _ = parseFloat(o.StopPrice)
		out = append(out, order)
	}
	return out
}

func orderKind(t futures.OrderType) exchange.OrderKind {
	switch t {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return exchange.KindStop
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		return exchange.KindTakeProfit
	case futures.OrderTypeMarket:
		return exchange.KindMarket
	default:
		return exchange.KindLimit
	}
}

func orderStatus(s futures.OrderStatusType) string {
	switch s {
	case futures.OrderStatusTypeFilled:
		return exchange.StatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return exchange.StatusCanceled
	case futures.OrderStatusTypeRejected:
		return exchange.StatusRejected
	default:
		return exchange.StatusOpen
	}
}

func isAPIError(err error, code int64) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func parseFloat(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}
