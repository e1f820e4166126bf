// Package timescale mirrors candles, accepted liquidations and trades into
// Postgres/TimescaleDB. Writes are queued and never block the engine.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"liq-reaction-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Candle struct {
	Asset    string
	Interval string
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

type Liquidation struct {
	ID        string
	Time      time.Time
	Direction string
	Amount    float64
	Eligible  bool
}

type Trade struct {
	ID            string
	Time          time.Time
	Overlay       string
	LiquidationID string
	Direction     string
	Traded        string
	Amount        float64
	Price         float64
	StopLoss      float64
	TakeProfit    float64
	OrderID       string
	JournalOnly   bool
	Error         string
}

type Writer struct {
	db           *sql.DB
	log          *zap.Logger
	schema       string
	candles      chan Candle
	liquidations chan Liquidation
	trades       chan Trade
	started      atomic.Bool
	dropped      atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:           db,
		log:          log,
		schema:       schema,
		candles:      make(chan Candle, queueSize),
		liquidations: make(chan Liquidation, queueSize),
		trades:       make(chan Trade, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCandle(c Candle) {
	if w == nil {
		return
	}
	select {
	case w.candles <- c:
	default:
		w.drop("candle")
	}
}

func (w *Writer) EnqueueLiquidation(l Liquidation) {
	if w == nil {
		return
	}
	select {
	case w.liquidations <- l:
	default:
		w.drop("liquidation")
	}
}

func (w *Writer) EnqueueTrade(t Trade) {
	if w == nil {
		return
	}
	select {
	case w.trades <- t:
	default:
		w.drop("trade")
	}
}

func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

// drop warns once per power of two so a stalled database does not flood the log.
func (w *Writer) drop(kind string) {
	n := w.dropped.Add(1)
	if n&(n-1) == 0 {
		w.log.Warn("timescale queue full", zap.String("kind", kind), zap.Uint64("dropped", n))
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-w.candles:
			w.writeCandle(ctx, c)
		case l := <-w.liquidations:
			w.writeLiquidation(ctx, l)
		case t := <-w.trades:
			w.writeTrade(ctx, t)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	tables := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		interval TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, asset, interval)
	)`, w.table("market_ohlc")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		id TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		eligible BOOLEAN NOT NULL,
		PRIMARY KEY (ts, id)
	)`, w.table("liquidations")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		id TEXT NOT NULL,
		overlay TEXT NOT NULL,
		liquidation_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		traded_direction TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL,
		take_profit DOUBLE PRECISION NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		journal_only BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("trades")),
	}
	for _, ddl := range tables {
		if err := w.exec(ctx, ddl); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"market_ohlc", "liquidations", "trades"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeCandle(ctx context.Context, c Candle) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, interval, open, high, low, close, volume
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, asset, interval) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`, w.table("market_ohlc"))
	if _, err := w.db.ExecContext(ctx, query,
		c.Start, c.Asset, c.Interval, c.Open, c.High, c.Low, c.Close, c.Volume,
	); err != nil {
		w.log.Warn("timescale candle upsert failed", zap.Error(err))
	}
}

func (w *Writer) writeLiquidation(ctx context.Context, l Liquidation) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, id, direction, amount, eligible)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (ts, id) DO NOTHING`, w.table("liquidations"))
	if _, err := w.db.ExecContext(ctx, query, l.Time, l.ID, l.Direction, l.Amount, l.Eligible); err != nil {
		w.log.Warn("timescale liquidation insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, t Trade) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, id, overlay, liquidation_id, direction, traded_direction, amount, price,
		stop_loss, take_profit, order_id, journal_only, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)`, w.table("trades"))
	if _, err := w.db.ExecContext(ctx, query,
		t.Time, t.ID, t.Overlay, t.LiquidationID, t.Direction, t.Traded, t.Amount, t.Price,
		t.StopLoss, t.TakeProfit, t.OrderID, t.JournalOnly, t.Error,
	); err != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
