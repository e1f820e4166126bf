package timescale

import (
	"context"
	"errors"
	"testing"
	"time"

	"liq-reaction-bot/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
	// nil writer is safe to use
	w.EnqueueCandle(Candle{})
	w.EnqueueTrade(Trade{})
	if err := w.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestEnsureSchemaCreatesTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS bot`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bot\.market_ohlc`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bot\.liquidations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bot\.trades`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS timescaledb`).WillReturnError(errors.New("permission denied"))

	w := newWriter(db, "bot", 4, nil)
	if err := w.ensureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriterPersistsQueuedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO public\.trades`).
		WithArgs(ts, "t1", "main", "long-1", "long", "long", 0.25, 66000.0, 65340.0, 67320.0, "oid-1", false, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := newWriter(db, "", 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.EnqueueTrade(Trade{
		ID: "t1", Time: ts, Overlay: "main", LiquidationID: "long-1", Direction: "long", Traded: "long",
		Amount: 0.25, Price: 66000, StopLoss: 65340, TakeProfit: 67320, OrderID: "oid-1",
	})

	deadline := time.Now().Add(time.Second)
	for {
		if err := mock.ExpectationsWereMet(); err == nil {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("unmet expectations: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "", 1, nil)
	w.EnqueueLiquidation(Liquidation{ID: "a"})
	w.EnqueueLiquidation(Liquidation{ID: "b"})
	w.EnqueueLiquidation(Liquidation{ID: "c"})
	if got := w.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped rows, got %d", got)
	}
}
