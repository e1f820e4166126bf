package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const JournalPrefix = "journal:"

// TradeRecord is one journal line. Direction is the journal direction, which
// may differ from the traded direction when the overlay reverses it.
type TradeRecord struct {
	ID            string    `json:"id"`
	Overlay       string    `json:"overlay"`
	LiquidationID string    `json:"liquidation_id"`
	Direction     string    `json:"direction"`
	Traded        string    `json:"traded_direction"`
	Amount        float64   `json:"amount"`
	Price         float64   `json:"price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	OrderID       string    `json:"order_id,omitempty"`
	JournalOnly   bool      `json:"journal_only"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func journalKey(rec TradeRecord) string {
	return fmt.Sprintf("%s%020d:%s", JournalPrefix, rec.CreatedAt.UnixNano(), rec.ID)
}

func SaveTrade(ctx context.Context, store Store, rec TradeRecord) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return store.Set(ctx, journalKey(rec), string(payload))
}

// RecentTrades returns up to limit records, newest first.
func RecentTrades(ctx context.Context, store Store, limit int) ([]TradeRecord, error) {
	if store == nil {
		return nil, nil
	}
	rows, err := store.List(ctx, JournalPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	var out []TradeRecord
	for _, k := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		raw := strings.TrimSpace(rows[k])
		if raw == "" {
			continue
		}
		var rec TradeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
