package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ExchangeBinance     = "binance"
	ExchangeHyperliquid = "hyperliquid"

	SizingFixed   = "fixed"
	SizingPercent = "percent"

	EntryConditional = "conditional"
	EntryImmediate   = "immediate"
)

type Config struct {
	Log         LoggingConfig     `yaml:"log"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Market      MarketConfig      `yaml:"market"`
	Feed        FeedConfig        `yaml:"feed"`
	Liquidation LiquidationConfig `yaml:"liquidation"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Orders      OrdersConfig      `yaml:"orders"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	State       StateConfig       `yaml:"state"`
	Timescale   TimescaleConfig   `yaml:"timescale"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type ExchangeConfig struct {
	Name           string        `yaml:"name"`
	Symbol         string        `yaml:"symbol"`
	Leverage       int           `yaml:"leverage"`
	MarginMode     string        `yaml:"margin_mode"`
	PricePrecision int32         `yaml:"price_precision"`
	SizeDecimals   int32         `yaml:"size_decimals"`
	Testnet        bool          `yaml:"testnet"`
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// MarketConfig selects where closed candles come from. Source "binance" reads public
// Binance futures klines regardless of the trading venue.
type MarketConfig struct {
	Source    string `yaml:"source"`
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

type FeedConfig struct {
	BaseURL      string        `yaml:"base_url"`
	SymbolPrefix string        `yaml:"symbol_prefix"`
	Lookback     time.Duration `yaml:"lookback"`
	Interval     string        `yaml:"interval"`
	ConvertToUSD bool          `yaml:"convert_to_usd"`
	Timeout      time.Duration `yaml:"timeout"`
}

type LiquidationConfig struct {
	CandidateAmount float64 `yaml:"candidate_amount"`
	MinAmount       float64 `yaml:"min_amount"`
	MinCount        int     `yaml:"min_count"`
	EntryThreshold  float64 `yaml:"entry_threshold"`
	OverrideAmount  float64 `yaml:"override_amount"`
	Days            []int   `yaml:"days"`
	Hours           []int   `yaml:"hours"`
}

type StrategyConfig struct {
	Timezone                     string          `yaml:"timezone"`
	EntryOffsetPct               float64         `yaml:"entry_offset_pct"`
	MaxCandlesBeforeConfirmation int             `yaml:"max_candles_before_confirmation"`
	PendingTTL                   *time.Duration  `yaml:"pending_ttl"`
	LimitOffsetPct               float64         `yaml:"limit_offset_pct"`
	Overlays                     []OverlayConfig `yaml:"overlays"`
}

type OverlayConfig struct {
	Name           string  `yaml:"name"`
	Priority       int     `yaml:"priority"`
	Exclusive      *bool   `yaml:"exclusive"`
	Reversed       bool    `yaml:"reversed"`
	JournalReverse bool    `yaml:"journal_reverse"`
	JournalOnly    bool    `yaml:"journal_only"`
	EntryMode      string  `yaml:"entry_mode"`
	TwoLeg         *bool   `yaml:"two_leg"`
	StopLossPct    float64 `yaml:"stop_loss_pct"`
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	Days           []int   `yaml:"days"`
	Hours          []int   `yaml:"hours"`
	RiskPercent    float64 `yaml:"risk_percent"`
	FixedRisk      float64 `yaml:"fixed_risk"`
}

func (o OverlayConfig) IsExclusive() bool {
	return o.Exclusive == nil || *o.Exclusive
}

func (o OverlayConfig) IsTwoLeg() bool {
	return o.TwoLeg == nil || *o.TwoLeg
}

type SizingConfig struct {
	Mode               string  `yaml:"mode"`
	FixedRisk          float64 `yaml:"fixed_risk"`
	RiskPercent        float64 `yaml:"risk_percent"`
	ContractMultiplier float64 `yaml:"contract_multiplier"`
	FallbackSize       float64 `yaml:"fallback_size"`
	QuoteAsset         string  `yaml:"quote_asset"`
}

type OrdersConfig struct {
	ClosedLookback time.Duration `yaml:"closed_lookback"`
	ClosedLimit    int           `yaml:"closed_limit"`
}

type ScheduleConfig struct {
	Cycle           time.Duration `yaml:"cycle"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	TickDelay       time.Duration `yaml:"tick_delay"`
	PositionsOffset time.Duration `yaml:"positions_offset"`
	SizingOffset    time.Duration `yaml:"sizing_offset"`
	HeartbeatEvery  time.Duration `yaml:"heartbeat_every"`
	HeartbeatOffset time.Duration `yaml:"heartbeat_offset"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool              `yaml:"enabled"`
	Token                  string            `yaml:"token"`
	ChatID                 string            `yaml:"chat_id"`
	Channels               map[string]string `yaml:"channels"`
	UrgentTrades           bool              `yaml:"urgent_trades"`
	OperatorEnabled        bool              `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration     `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64           `yaml:"operator_allowed_user_ids"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyEnv(cfg *Config) {
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN"))
	}
	if cfg.Timescale.DSN == "" {
		cfg.Timescale.DSN = strings.TrimSpace(os.Getenv("TIMESCALE_DSN"))
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	applyExchangeDefaults(&cfg.Exchange)
	if cfg.Market.Source == "" {
		cfg.Market.Source = "exchange"
	}
	if cfg.Market.Symbol == "" {
		cfg.Market.Symbol = cfg.Exchange.Symbol
		if cfg.Market.Source == ExchangeBinance && cfg.Exchange.Name != ExchangeBinance {
			cfg.Market.Symbol = "BTCUSDT"
		}
	}
	if cfg.Market.Timeframe == "" {
		cfg.Market.Timeframe = "5m"
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://api.coinalyze.net/v1"
	}
	if cfg.Feed.SymbolPrefix == "" {
		cfg.Feed.SymbolPrefix = "BTCUSD"
	}
	if cfg.Feed.Lookback == 0 {
		cfg.Feed.Lookback = 5 * time.Minute
	}
	if cfg.Feed.Interval == "" {
		cfg.Feed.Interval = "5min"
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 10 * time.Second
	}
	if cfg.Liquidation.CandidateAmount == 0 {
		cfg.Liquidation.CandidateAmount = 1000
	}
	if cfg.Liquidation.MinAmount == 0 {
		cfg.Liquidation.MinAmount = 10_000
	}
	if cfg.Liquidation.MinCount == 0 {
		cfg.Liquidation.MinCount = 3
	}
	if cfg.Liquidation.EntryThreshold == 0 {
		cfg.Liquidation.EntryThreshold = 100
	}
	if len(cfg.Liquidation.Days) == 0 {
		cfg.Liquidation.Days = allDays()
	}
	if len(cfg.Liquidation.Hours) == 0 {
		cfg.Liquidation.Hours = allHours()
	}
	applyStrategyDefaults(&cfg.Strategy)
	if cfg.Sizing.Mode == "" {
		cfg.Sizing.Mode = SizingPercent
	}
	if cfg.Sizing.FixedRisk == 0 {
		cfg.Sizing.FixedRisk = 50
	}
	if cfg.Sizing.RiskPercent == 0 {
		cfg.Sizing.RiskPercent = 1
	}
	if cfg.Sizing.ContractMultiplier == 0 {
		cfg.Sizing.ContractMultiplier = 1000
	}
	if cfg.Sizing.FallbackSize == 0 {
		cfg.Sizing.FallbackSize = 0.1
	}
	if cfg.Sizing.QuoteAsset == "" {
		cfg.Sizing.QuoteAsset = "USDT"
	}
	if cfg.Orders.ClosedLookback == 0 {
		cfg.Orders.ClosedLookback = 24 * time.Hour
	}
	if cfg.Orders.ClosedLimit == 0 {
		cfg.Orders.ClosedLimit = 100
	}
	applyScheduleDefaults(&cfg.Schedule)
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/liq-reaction-bot.db"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyExchangeDefaults(ex *ExchangeConfig) {
	if ex.Name == "" {
		ex.Name = ExchangeBinance
	}
	ex.Name = strings.ToLower(strings.TrimSpace(ex.Name))
	if ex.Symbol == "" {
		if ex.Name == ExchangeHyperliquid {
			ex.Symbol = "BTC"
		} else {
			ex.Symbol = "BTCUSDT"
		}
	}
	if ex.Leverage == 0 {
		ex.Leverage = 25
	}
	if ex.MarginMode == "" {
		ex.MarginMode = "isolated"
	}
	if ex.PricePrecision == 0 {
		ex.PricePrecision = 1
	}
	if ex.SizeDecimals == 0 {
		ex.SizeDecimals = 1
	}
	if ex.BaseURL == "" && ex.Name == ExchangeHyperliquid {
		if ex.Testnet {
			ex.BaseURL = "https://api.hyperliquid-testnet.xyz"
		} else {
			ex.BaseURL = "https://api.hyperliquid.xyz"
		}
	}
	if ex.WSURL == "" && ex.Name == ExchangeHyperliquid {
		ex.WSURL = deriveWSURL(ex.BaseURL)
	}
	if ex.Timeout == 0 {
		ex.Timeout = 10 * time.Second
	}
	if ex.ReconnectDelay == 0 {
		ex.ReconnectDelay = 3 * time.Second
	}
	if ex.PingInterval == 0 {
		ex.PingInterval = 30 * time.Second
	}
}

func applyStrategyDefaults(st *StrategyConfig) {
	if st.Timezone == "" {
		st.Timezone = "UTC"
	}
	if st.EntryOffsetPct == 0 {
		st.EntryOffsetPct = 0.5
	}
	if st.MaxCandlesBeforeConfirmation == 0 {
		st.MaxCandlesBeforeConfirmation = 1
	}
	if st.PendingTTL == nil {
		ttl := time.Hour
		st.PendingTTL = &ttl
	}
	if st.LimitOffsetPct == 0 {
		st.LimitOffsetPct = 0.01
	}
	if len(st.Overlays) == 0 {
		st.Overlays = []OverlayConfig{{
			Name:          "live",
			StopLossPct:   1,
			TakeProfitPct: 4,
			Hours:         []int{0, 5, 7, 8, 9, 10, 11, 12, 13, 16, 17, 18, 19, 21, 23},
		}}
	}
	for i := range st.Overlays {
		o := &st.Overlays[i]
		if o.EntryMode == "" {
			o.EntryMode = EntryConditional
		}
		if len(o.Days) == 0 {
			o.Days = allDays()
		}
		if len(o.Hours) == 0 {
			o.Hours = allHours()
		}
		if o.Priority == 0 {
			o.Priority = i + 1
		}
	}
}

func applyScheduleDefaults(s *ScheduleConfig) {
	if s.Cycle == 0 {
		s.Cycle = 5 * time.Minute
	}
	if s.PollInterval == 0 {
		s.PollInterval = 200 * time.Millisecond
	}
	if s.TickDelay == 0 {
		s.TickDelay = 5 * time.Second
	}
	if s.PositionsOffset == 0 {
		s.PositionsOffset = 3 * time.Minute
	}
	if s.SizingOffset == 0 {
		s.SizingOffset = 4 * time.Minute
	}
	if s.HeartbeatEvery == 0 {
		s.HeartbeatEvery = 12 * time.Hour
	}
	if s.HeartbeatOffset == 0 {
		s.HeartbeatOffset = 8*time.Hour + time.Minute
	}
}

func validate(cfg *Config) error {
	switch cfg.Exchange.Name {
	case ExchangeBinance, ExchangeHyperliquid:
	default:
		return fmt.Errorf("exchange.name %q is not supported", cfg.Exchange.Name)
	}
	switch cfg.Market.Source {
	case "exchange", ExchangeBinance:
	default:
		return fmt.Errorf("market.source %q is not supported", cfg.Market.Source)
	}
	if cfg.Exchange.Leverage <= 0 {
		return errors.New("exchange.leverage must be > 0")
	}
	if _, err := time.LoadLocation(cfg.Strategy.Timezone); err != nil {
		return fmt.Errorf("strategy.timezone: %w", err)
	}
	if cfg.Strategy.EntryOffsetPct <= 0 || cfg.Strategy.EntryOffsetPct >= 100 {
		return errors.New("strategy.entry_offset_pct must be in (0, 100)")
	}
	switch cfg.Sizing.Mode {
	case SizingFixed, SizingPercent:
	default:
		return fmt.Errorf("sizing.mode %q is not supported", cfg.Sizing.Mode)
	}
	if err := validateSet("liquidation.days", cfg.Liquidation.Days, 6); err != nil {
		return err
	}
	if err := validateSet("liquidation.hours", cfg.Liquidation.Hours, 23); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(cfg.Strategy.Overlays))
	for _, o := range cfg.Strategy.Overlays {
		if strings.TrimSpace(o.Name) == "" {
			return errors.New("strategy.overlays: name is required")
		}
		if _, ok := seen[o.Name]; ok {
			return fmt.Errorf("strategy.overlays: duplicate name %q", o.Name)
		}
		seen[o.Name] = struct{}{}
		if o.StopLossPct <= 0 {
			return fmt.Errorf("overlay %s: stop_loss_pct must be > 0", o.Name)
		}
		if o.TakeProfitPct <= 0 {
			return fmt.Errorf("overlay %s: take_profit_pct must be > 0", o.Name)
		}
		switch o.EntryMode {
		case EntryConditional, EntryImmediate:
		default:
			return fmt.Errorf("overlay %s: entry_mode %q is not supported", o.Name, o.EntryMode)
		}
		if err := validateSet("overlay "+o.Name+" days", o.Days, 6); err != nil {
			return err
		}
		if err := validateSet("overlay "+o.Name+" hours", o.Hours, 23); err != nil {
			return err
		}
	}
	if cfg.Schedule.Cycle < time.Minute || (24*time.Hour)%cfg.Schedule.Cycle != 0 {
		return errors.New("schedule.cycle must divide 24h and be at least 1m")
	}
	if cfg.Schedule.TickDelay >= cfg.Schedule.Cycle || cfg.Schedule.PositionsOffset >= cfg.Schedule.Cycle || cfg.Schedule.SizingOffset >= cfg.Schedule.Cycle {
		return errors.New("schedule offsets must be shorter than schedule.cycle")
	}
	if cfg.Schedule.HeartbeatOffset >= cfg.Schedule.HeartbeatEvery {
		return errors.New("schedule.heartbeat_offset must be shorter than schedule.heartbeat_every")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && cfg.Telegram.ChatID == "" && len(cfg.Telegram.Channels) == 0 {
		return errors.New("telegram.chat_id or telegram.channels is required when telegram is enabled")
	}
	return nil
}

func validateSet(name string, values []int, max int) error {
	for _, v := range values {
		if v < 0 || v > max {
			return fmt.Errorf("%s: value %d out of range 0..%d", name, v, max)
		}
	}
	return nil
}

func deriveWSURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	}
	return ""
}

func allDays() []int {
	return []int{0, 1, 2, 3, 4, 5, 6}
}

func allHours() []int {
	hours := make([]int, 24)
	for i := range hours {
		hours[i] = i
	}
	return hours
}
