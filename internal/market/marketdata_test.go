package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	candles   []Candle
	err       error
	lastStart time.Time
	lastLimit int
}

func (f *fakeSource) FetchCandles(_ context.Context, _ string, _ string, start time.Time, limit int) ([]Candle, error) {
	f.lastStart = start
	f.lastLimit = limit
	return f.candles, f.err
}

func TestParseTimeframe(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"5m":  5 * time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"15m": 15 * time.Minute,
	}
	for tf, want := range cases {
		got, err := ParseTimeframe(tf)
		if err != nil {
			t.Fatalf("parse %s: %v", tf, err)
		}
		if got != want {
			t.Fatalf("parse %s: expected %v, got %v", tf, want, got)
		}
	}
	for _, tf := range []string{"", "m", "0m", "5x", "-1h"} {
		if _, err := ParseTimeframe(tf); err == nil {
			t.Fatalf("expected error for %q", tf)
		}
	}
}

func TestLastClosedStart(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 7, 12, 0, time.UTC)
	got := LastClosedStart(now, 5*time.Minute)
	want := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLastClosedCandlePicksAlignedBar(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC)
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{candles: []Candle{
		{Start: start, High: 101, Low: 99, Close: 100},
		{Start: start.Add(5 * time.Minute), High: 102, Low: 100, Close: 101},
	}}
	md, err := New(src, "BTCUSDT", "5m", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	candle, err := md.LastClosedCandle(context.Background(), now)
	if err != nil {
		t.Fatalf("last closed: %v", err)
	}
	if !candle.Start.Equal(start) || candle.High != 101 {
		t.Fatalf("unexpected candle %+v", candle)
	}
	if candle.Asset != "BTCUSDT" || candle.Interval != "5m" {
		t.Fatalf("expected asset/interval defaults, got %+v", candle)
	}
	if !src.lastStart.Equal(start) || src.lastLimit != 2 {
		t.Fatalf("unexpected request start=%v limit=%d", src.lastStart, src.lastLimit)
	}
	latest, ok := md.Latest()
	if !ok || !latest.Start.Equal(start) {
		t.Fatalf("expected cached latest candle")
	}
}

func TestLastClosedCandleRejectsFormingBar(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 5, 0, 0, time.UTC)
	src := &fakeSource{candles: []Candle{{Start: now, High: 1, Low: 1}}}
	md, err := New(src, "BTCUSDT", "5m", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := md.LastClosedCandle(context.Background(), now); !errors.Is(err, ErrCandleNotClosed) {
		t.Fatalf("expected ErrCandleNotClosed, got %v", err)
	}
}

func TestLastClosedCandleEmpty(t *testing.T) {
	md, err := New(&fakeSource{}, "BTCUSDT", "5m", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := md.LastClosedCandle(context.Background(), time.Now()); !errors.Is(err, ErrNoCandle) {
		t.Fatalf("expected ErrNoCandle, got %v", err)
	}
	if _, ok := md.Latest(); ok {
		t.Fatalf("expected no cached candle")
	}
}

func TestLastClosedCandleSourceError(t *testing.T) {
	boom := errors.New("boom")
	md, err := New(&fakeSource{err: boom}, "BTCUSDT", "5m", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := md.LastClosedCandle(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
