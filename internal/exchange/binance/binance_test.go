package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"liq-reaction-bot/internal/config"
	"liq-reaction-bot/internal/exchange"
	"liq-reaction-bot/internal/market"

	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	orders []map[string]string
}

func (r *recorder) add(req *http.Request) {
	_ = req.ParseForm()
	fields := make(map[string]string)
	for k, v := range req.Form {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	r.mu.Lock()
	r.orders = append(r.orders, fields)
	r.mu.Unlock()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.ExchangeConfig{
		Symbol:         "BTCUSDT",
		MarginMode:     "isolated",
		PricePrecision: 1,
		SizeDecimals:   3,
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
	}
	return New(cfg, "USDT", "key", "secret", zap.NewNop())
}

func TestFetchCandles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/klines") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("startTime") != "1718445000000" {
			t.Errorf("unexpected startTime %q", r.URL.Query().Get("startTime"))
		}
		_, _ = w.Write([]byte(`[[1718445000000,"66000.0","66100.5","65950.0","66050.0","12.5",1718445299999,"825000.0",100,"6.0","396000.0","0"]]`))
	})

	start := time.Date(2024, 6, 15, 9, 50, 0, 0, time.UTC)
	candles, err := client.FetchCandles(context.Background(), "BTCUSDT", "5m", start, 2)
	if err != nil {
		t.Fatalf("fetch candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if !c.Start.Equal(start) {
		t.Fatalf("unexpected start %s", c.Start)
	}
	if c.High != 66100.5 || c.Low != 65950 || c.Close != 66050 {
		t.Fatalf("unexpected candle %+v", c)
	}
	if c.Asset != "BTCUSDT" || c.Interval != "5m" {
		t.Fatalf("unexpected identity %+v", c)
	}
}

func TestFetchTicker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/ticker/price") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"66012.3","time":1718445000000}]`))
	})
	price, err := client.FetchTicker(context.Background())
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if price != 66012.3 {
		t.Fatalf("unexpected price %f", price)
	}
}

func TestFetchBalanceSelectsQuoteAsset(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/balance") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"asset":"BNB","balance":"1","availableBalance":"1"},{"asset":"USDT","balance":"1500.5","availableBalance":"1200"}]`))
	})
	bal, err := client.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Asset != "USDT" || bal.Total != 1500.5 || bal.Available != 1200 {
		t.Fatalf("unexpected balance %+v", bal)
	}
}

func TestFetchOpenPositionsSkipsFlat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/positionRisk") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.250","entryPrice":"66000","liquidationPrice":"68000","unRealizedProfit":"-12.5"},{"symbol":"BTCUSDT","positionAmt":"0","entryPrice":"0"}]`))
	})
	positions, err := client.FetchOpenPositions(context.Background())
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	p := positions[0]
	if p.Direction != market.Short || p.Size != 0.25 || p.LiquidationPrice != 68000 {
		t.Fatalf("unexpected position %+v", p)
	}
}

func TestFetchClosedOrdersFiltersOpen(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/allOrders") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","orderId":11,"status":"FILLED","type":"LIMIT","side":"BUY","price":"66000","origQty":"0.250","updateTime":1718445000000},
			{"symbol":"BTCUSDT","orderId":12,"status":"NEW","type":"STOP_MARKET","side":"SELL","stopPrice":"65000","origQty":"0.250","reduceOnly":true}
		]`))
	})
	orders, err := client.FetchClosedOrders(context.Background(), time.Now().Add(-time.Hour), 50)
	if err != nil {
		t.Fatalf("closed orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 closed order, got %d", len(orders))
	}
	o := orders[0]
	if o.ID != "11" || o.Status != exchange.StatusFilled || o.Direction != market.Long || o.Kind != exchange.KindLimit {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestPlaceOrderAttachesProtection(t *testing.T) {
	rec := &recorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/order") || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		rec.add(r)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"NEW"}`))
	})

	id, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{
		Direction:     market.Long,
		Amount:        0.25,
		Price:         66000.04,
		StopLoss:      65340,
		TakeProfit:    68640,
		ClientOrderID: "cloid-1",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if id != "42" {
		t.Fatalf("unexpected id %s", id)
	}
	if len(rec.orders) != 3 {
		t.Fatalf("expected entry plus two trigger orders, got %d", len(rec.orders))
	}
	entry := rec.orders[0]
	if entry["side"] != "BUY" || entry["type"] != "LIMIT" || entry["price"] != "66000.0" || entry["quantity"] != "0.250" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["newClientOrderId"] != "cloid-1" {
		t.Fatalf("missing client order id: %v", entry)
	}
	stop := rec.orders[1]
	if stop["side"] != "SELL" || stop["type"] != "STOP_MARKET" || stop["stopPrice"] != "65340.0" || stop["reduceOnly"] != "true" {
		t.Fatalf("unexpected stop %v", stop)
	}
	tp := rec.orders[2]
	if tp["type"] != "TAKE_PROFIT_MARKET" || tp["stopPrice"] != "68640.0" {
		t.Fatalf("unexpected take profit %v", tp)
	}
}

func TestPlaceOrderReportsProtectionFailure(t *testing.T) {
	var calls int
	var mu sync.Mutex
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":7,"status":"NEW"}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2021,"msg":"Order would immediately trigger."}`))
	})

	id, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{
		Direction: market.Short,
		Amount:    0.1,
		Price:     66000,
		StopLoss:  66660,
	})
	if !errors.Is(err, exchange.ErrProtection) {
		t.Fatalf("expected protection error, got %v", err)
	}
	if id != "7" {
		t.Fatalf("entry id must survive, got %q", id)
	}
}

func TestPlaceOrderRejectsInvalidRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	if _, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{Direction: market.Long, Price: 1}); err == nil {
		t.Fatalf("expected amount error")
	}
	if _, err := client.PlaceOrder(context.Background(), exchange.OrderRequest{Direction: market.Long, Amount: 1}); err == nil {
		t.Fatalf("expected price error")
	}
}

func TestSetLeverageIgnoresUnchangedMarginType(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch {
		case strings.HasSuffix(r.URL.Path, "/marginType"):
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-4046,"msg":"No need to change margin type."}`))
		case strings.HasSuffix(r.URL.Path, "/leverage"):
			_, _ = w.Write([]byte(`{"leverage":25,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`))
		default:
			http.NotFound(w, r)
		}
	})
	if err := client.SetLeverage(context.Background(), 25); err != nil {
		t.Fatalf("set leverage: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected margin and leverage calls, got %v", paths)
	}
}
