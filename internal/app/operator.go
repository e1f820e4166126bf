package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"liq-reaction-bot/internal/alerts"
	"liq-reaction-bot/internal/state"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey  = "telegram:operator:last_update_id"
	operatorAuditKey   = "ops:audit:"
	defaultJournalRows = 5
	maxJournalRows     = 50
)

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.telegram == nil || !a.telegram.Enabled() {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := alerts.ParseChatID(a.cfg.Telegram.ChatID)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.telegram.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.telegram.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// group chats address commands as /status@botname
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "pause", "resume":
		before := a.isPaused()
		after := a.setPaused(cmd == "pause")
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       cmd,
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		switch {
		case cmd == "pause" && !before:
			return "trading paused", nil
		case cmd == "pause":
			return "trading already paused", nil
		case before:
			return "trading resumed", nil
		default:
			return "trading already active", nil
		}
	case "ledger":
		return a.operatorLedger(), nil
	case "pending":
		return a.operatorPending(), nil
	case "journal":
		return a.operatorJournal(ctx, args)
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) operatorStatus() string {
	st := a.Status()
	lastTick := "n/a"
	if !st.LastTick.IsZero() {
		lastTick = st.LastTick.Format(time.RFC3339)
	}
	lines := []string{
		fmt.Sprintf("exchange: %s %s", st.Exchange, st.Symbol),
		fmt.Sprintf("paused: %t", st.Paused),
		fmt.Sprintf("last_tick: %s", lastTick),
		fmt.Sprintf("last_close: %s", alerts.USD(st.LastClose)),
		fmt.Sprintf("ledger: %d", len(st.Ledger)),
		fmt.Sprintf("pending_entries: %d", len(st.Pending)),
		fmt.Sprintf("pending_take_profits: %d", len(st.TakeProfits)),
	}
	if st.LastTickErr != "" {
		lines = append(lines, "last_error: "+st.LastTickErr)
	}
	return strings.Join(lines, "\n")
}

func (a *App) operatorLedger() string {
	rows := a.ledger.Snapshot()
	if len(rows) == 0 {
		return "ledger is empty"
	}
	lines := make([]string, 0, len(rows))
	for _, liq := range rows {
		lines = append(lines, alerts.Table(newLiquidationRow(liq, a.loc)))
	}
	return strings.Join(lines, "\n\n")
}

func (a *App) operatorPending() string {
	entries := a.tracker.Snapshot()
	if len(entries) == 0 {
		return "no pending entries"
	}
	lines := make([]string, 0, len(entries))
	for i := range entries {
		lines = append(lines, alerts.Table(newPendingRow(&entries[i])))
	}
	return strings.Join(lines, "\n\n")
}

func (a *App) operatorJournal(ctx context.Context, args []string) (string, error) {
	limit := defaultJournalRows
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "", errors.New("usage: /journal [n]")
		}
		limit = min(n, maxJournalRows)
	}
	trades, err := state.RecentTrades(ctx, a.store, limit)
	if err != nil {
		return "", err
	}
	if len(trades) == 0 {
		return "journal is empty", nil
	}
	lines := make([]string, 0, len(trades))
	for _, t := range trades {
		line := fmt.Sprintf("%s %s %s %g @ %s", t.CreatedAt.In(a.loc).Format("01-02 15:04"), t.Overlay, t.Direction, t.Amount, alerts.USD(t.Price))
		if t.JournalOnly {
			line += " (journal)"
		}
		if t.Error != "" {
			line += " error: " + t.Error
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - engine status",
		"/pause - stop opening new entries",
		"/resume - resume opening entries",
		"/ledger - live liquidations",
		"/pending - pending entries",
		"/journal [n] - last n journal records",
	}, "\n")
}

func (a *App) isPaused() bool {
	return a.tracker.Paused()
}

func (a *App) setPaused(paused bool) bool {
	a.tracker.SetPaused(paused)
	return a.tracker.Paused()
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("%s%d:%d", operatorAuditKey, time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
