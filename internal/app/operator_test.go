package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"liq-reaction-bot/internal/state"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/Journal@liq_bot 3")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "journal" {
		t.Fatalf("expected journal, got %s", cmd)
	}
	if len(args) != 1 || args[0] != "3" {
		t.Fatalf("unexpected args: %v", args)
	}
	if _, _, ok := parseOperatorCommand("status"); ok {
		t.Fatalf("text without slash is not a command")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	app := newTestApp(t, &fakeVenue{}, &fakeFeed{})
	ctx := context.Background()
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := app.handleOperatorCommand(ctx, "pause", nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if resp != "trading paused" || !app.isPaused() {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if resp, _ = app.handleOperatorCommand(ctx, "pause", nil, meta); resp != "trading already paused" {
		t.Fatalf("unexpected second pause response: %s", resp)
	}

	meta.Raw = "/resume"
	resp, err = app.handleOperatorCommand(ctx, "resume", nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if resp != "trading resumed" || app.isPaused() {
		t.Fatalf("unexpected resume response: %s", resp)
	}

	events, _ := app.store.List(ctx, operatorAuditKey)
	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
	found := false
	for _, raw := range events {
		if strings.Contains(raw, `"action":"resume"`) && strings.Contains(raw, `"paused_before":true`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("resume audit event missing: %v", events)
	}
}

func TestOperatorJournal(t *testing.T) {
	app := newTestApp(t, &fakeVenue{}, &fakeFeed{})
	ctx := context.Background()

	if resp, _ := app.handleOperatorCommand(ctx, "journal", nil, operatorMeta{}); resp != "journal is empty" {
		t.Fatalf("unexpected empty journal response %q", resp)
	}
	base := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	for i, overlay := range []string{"live", "journaling", "live"} {
		rec := state.TradeRecord{
			ID:          overlay + string(rune('a'+i)),
			Overlay:     overlay,
			Direction:   "long",
			Amount:      0.1,
			Price:       30000,
			JournalOnly: overlay == "journaling",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := state.SaveTrade(ctx, app.store, rec); err != nil {
			t.Fatalf("save trade: %v", err)
		}
	}
	resp, err := app.handleOperatorCommand(ctx, "journal", []string{"2"}, operatorMeta{})
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	lines := strings.Split(resp, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", resp)
	}
	if !strings.HasPrefix(lines[0], "03-04 12:02 live long") || !strings.HasSuffix(lines[1], "(journal)") {
		t.Fatalf("unexpected journal lines %q", lines)
	}
	if _, err := app.handleOperatorCommand(ctx, "journal", []string{"x"}, operatorMeta{}); err == nil {
		t.Fatalf("expected usage error")
	}
}

func TestOperatorUnknownCommandShowsHelp(t *testing.T) {
	app := newTestApp(t, &fakeVenue{}, &fakeFeed{})
	resp, err := app.handleOperatorCommand(context.Background(), "risk", nil, operatorMeta{})
	if err != nil || !strings.Contains(resp, "/journal [n]") {
		t.Fatalf("expected help text, got %q %v", resp, err)
	}
	if resp, _ := app.handleOperatorCommand(context.Background(), "ledger", nil, operatorMeta{}); resp != "ledger is empty" {
		t.Fatalf("unexpected ledger response %q", resp)
	}
	if resp, _ := app.handleOperatorCommand(context.Background(), "pending", nil, operatorMeta{}); resp != "no pending entries" {
		t.Fatalf("unexpected pending response %q", resp)
	}
}
