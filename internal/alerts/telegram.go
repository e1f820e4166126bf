package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liq-reaction-bot/internal/config"

	"go.uber.org/zap"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	maxMessageLen   = 4096
	urgentPrefix    = "‼️"
)

type Telegram struct {
	enabled  bool
	token    string
	chatID   string
	channels map[Channel]string
	baseURL  string
	client   *http.Client
	log      *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 35 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 35 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	channels := make(map[Channel]string, len(cfg.Channels))
	for name, chat := range cfg.Channels {
		if chat = strings.TrimSpace(chat); chat != "" {
			channels[Channel(strings.ToLower(name))] = chat
		}
	}
	return &Telegram{
		enabled:  cfg.Enabled,
		token:    strings.TrimSpace(cfg.Token),
		chatID:   strings.TrimSpace(cfg.ChatID),
		channels: channels,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		log:      log,
	}
}

func (t *Telegram) Enabled() bool {
	return t.enabled
}

// Send posts to the default chat.
func (t *Telegram) Send(ctx context.Context, message string) error {
	return t.send(ctx, t.chatID, message, false)
}

// Deliver posts a queued message to the chat mapped to its channel, falling
// back to the default chat. Non-urgent messages are sent silently.
func (t *Telegram) Deliver(ctx context.Context, msg Message) error {
	chat := t.channels[msg.Channel]
	if chat == "" {
		chat = t.chatID
	}
	text := strings.Join(msg.Lines, "\n")
	if msg.Urgent {
		text = urgentPrefix + " " + text
	}
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := t.send(ctx, chat, part, !msg.Urgent); err != nil {
			return fmt.Errorf("%s: %w", msg.Channel, err)
		}
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, chatID, message string, silent bool) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("telegram message is empty")
	}
	payload := map[string]any{
		"chat_id": chatID,
		"text":    message,
	}
	if silent {
		payload["disable_notification"] = true
	}
	if err := t.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	return nil
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      *Chat  `json:"chat"`
	Text      string `json:"text"`
}

type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message"`
}

// GetUpdates long-polls for bot updates starting at offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if !t.enabled {
		return nil, errors.New("telegram disabled")
	}
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(wait.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var result struct {
		Result []Update `json:"result"`
	}
	if err := t.call(ctx, "getUpdates", payload, &result); err != nil {
		return nil, fmt.Errorf("telegram getUpdates failed: %w", err)
	}
	return result.Result, nil
}

func (t *Telegram) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > 2048 {
			data = data[:2048]
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var envelope struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	if !envelope.OK {
		desc := strings.TrimSpace(envelope.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return errors.New(desc)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// splitMessage cuts text on line boundaries into parts no longer than limit
// bytes. A single line over the limit is cut hard.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			flush()
			parts = append(parts, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line)+1 > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return parts
}

// ParseChatID is used by the operator loop, which only accepts numeric chats.
func ParseChatID(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
