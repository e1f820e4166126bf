package market

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoCandle        = errors.New("no candle returned")
	ErrCandleNotClosed = errors.New("candle is still forming")
)

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

func (c Candle) End(bar time.Duration) time.Time {
	return c.Start.Add(bar)
}

func (c Candle) ClosedAt(now time.Time, bar time.Duration) bool {
	return !now.Before(c.End(bar))
}

// ParseTimeframe accepts exchange style intervals such as 1m, 5m, 1h, 1d.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", tf)
}

// LastClosedStart returns the open time of the most recent bar that has fully closed at now.
func LastClosedStart(now time.Time, bar time.Duration) time.Time {
	return now.UTC().Truncate(bar).Add(-bar)
}

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

func (d Direction) Valid() bool {
	return d == Long || d == Short
}
