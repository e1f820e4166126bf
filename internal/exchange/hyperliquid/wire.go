package hyperliquid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxPerpDecimals = 6
	maxSigFigs      = 5
)

// floatToWire renders x with at most eight decimals and no trailing zeros,
// refusing values that would lose precision.
func floatToWire(x float64) (string, error) {
	rounded := strconv.FormatFloat(x, 'f', 8, 64)
	parsed, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("%v has more than 8 decimals", x)
	}
	out := strings.TrimRight(strings.TrimRight(rounded, "0"), ".")
	if out == "" || out == "-0" {
		out = "0"
	}
	return out, nil
}

// priceToWire applies the perp tick rules: integers pass through, anything
// else keeps five significant figures and at most 6-szDecimals decimals.
func priceToWire(px float64, szDecimals int32) (string, error) {
	if px <= 0 {
		return "", fmt.Errorf("price must be positive, got %v", px)
	}
	d := decimal.NewFromFloat(px)
	if !d.Equal(d.Truncate(0)) {
		digits := int32(math.Floor(math.Log10(px))) + 1
		d = d.Round(maxSigFigs - digits)
		maxDecimals := maxPerpDecimals - szDecimals
		if maxDecimals < 0 {
			maxDecimals = 0
		}
		d = d.Round(maxDecimals)
	}
	f, _ := d.Float64()
	return floatToWire(f)
}

func sizeToWire(sz float64, szDecimals int32) (string, error) {
	if sz <= 0 {
		return "", fmt.Errorf("size must be positive, got %v", sz)
	}
	f, _ := decimal.NewFromFloat(sz).Round(szDecimals).Float64()
	if f <= 0 {
		return "", fmt.Errorf("size %v rounds to zero at %d decimals", sz, szDecimals)
	}
	return floatToWire(f)
}

// cloidFromClientID maps a uuid client id onto the 16-byte hex cloid the
// exchange accepts. Other ids are not representable and yield "".
func cloidFromClientID(id string) string {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ""
	}
	return "0x" + strings.ReplaceAll(parsed.String(), "-", "")
}
