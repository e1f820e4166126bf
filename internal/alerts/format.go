package alerts

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table renders v as an indented YAML block. Struct field order is kept.
func Table(v any) string {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%+v", v)
	}
	_ = enc.Close()
	return strings.TrimRight(buf.String(), "\n")
}

// USD formats an amount as "$ 12,345.67".
func USD(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	raw := fmt.Sprintf("%.2f", amount)
	whole, frac := raw[:len(raw)-3], raw[len(raw)-3:]
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$ " + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
