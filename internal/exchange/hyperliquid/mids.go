package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var (
	allMidsSubscription = map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	pingMessage         = map[string]any{"method": "ping"}
)

// MidStream keeps the latest mid price of one coin from the allMids channel.
type MidStream struct {
	url            string
	coin           string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu    sync.RWMutex
	price float64
	at    time.Time
}

func NewMidStream(url, coin string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *MidStream {
	if log == nil {
		log = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &MidStream{url: url, coin: coin, reconnectDelay: reconnectDelay, pingInterval: pingInterval, log: log}
}

// Mid returns the last price if it is younger than maxAge.
func (m *MidStream) Mid(now time.Time, maxAge time.Duration) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.price <= 0 || now.Sub(m.at) > maxAge {
		return 0, false
	}
	return m.price, true
}

// Run holds the connection open, reconnecting after failures, until ctx ends.
func (m *MidStream) Run(ctx context.Context) error {
	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logSessionEnd(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.reconnectDelay):
		}
	}
}

func (m *MidStream) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, m.url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "reset") }()
	conn.SetReadLimit(1 << 20)
	if err := writeJSON(ctx, conn, allMidsSubscription); err != nil {
		return err
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.pingLoop(sessionCtx, conn)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		m.handle(data, time.Now())
	}
}

func (m *MidStream) handle(data []byte, now time.Time) {
	if gjson.GetBytes(data, "channel").String() != "allMids" {
		return
	}
	price, ok := midFor(gjson.GetBytes(data, "data.mids"), m.coin)
	if !ok {
		return
	}
	m.mu.Lock()
	m.price = price
	m.at = now
	m.mu.Unlock()
}

// midFor reads coin from a mids object. Keys such as "@107" are not safe as
// gjson paths, so the object is walked.
func midFor(mids gjson.Result, coin string) (float64, bool) {
	var price float64
	mids.ForEach(func(k, v gjson.Result) bool {
		if k.String() == coin {
			price = v.Float()
			return false
		}
		return true
	})
	return price, price > 0
}

func (m *MidStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if m.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (m *MidStream) logSessionEnd(err error) {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			m.log.Info("mid stream closed", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	m.log.Warn("mid stream ended", zap.Error(err))
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
