package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"gswapcopy/internal/domain"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Block explorer feed
	Feed FeedConfig `json:"feed"`

	// GalaSwap execution and read-only lookups
	GSwap GSwapConfig `json:"gswap"`

	// Copy-trading policy
	Copy CopyConfig `json:"copy"`

	// Activity queue
	Queue QueueConfig `json:"queue"`

	// Wallet ledger scoring and alerts
	Ledger LedgerConfig `json:"ledger"`

	// Trade execution
	Executor ExecutorConfig `json:"executor"`

	// Circuit breaker around external calls
	Breaker BreakerConfig `json:"breaker"`

	// Liquidity position tracking
	Positions PositionsConfig `json:"positions"`

	// Persisted state file
	State StateConfig `json:"state"`

	// Health probes
	Health HealthConfig `json:"health"`

	// Postgres trade journal - DSN is env var only
	Journal JournalConfig `json:"journal"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`

	// Target wallets
	Targets TargetsConfig `json:"targets"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// FeedConfig holds the block explorer websocket configuration.
type FeedConfig struct {
	URL                  string        `json:"url"`
	Topic                string        `json:"topic"`
	BatchSubmitOpCode    string        `json:"batch_submit_op_code"`
	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay"`
	MaxReconnectDelay    time.Duration `json:"max_reconnect_delay"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"` // Consecutive failures before giving up
	HeartbeatTimeout     time.Duration `json:"heartbeat_timeout"`      // Silence longer than this forces a reconnect
	PingInterval         time.Duration `json:"ping_interval"`
	WriteTimeout         time.Duration `json:"write_timeout"`
}

// GSwapConfig holds the DEX API configuration.
type GSwapConfig struct {
	APIURL        string        `json:"api_url"`
	APIKey        string        `json:"-"` // Excluded - env var only
	WalletAddress string        `json:"wallet_address"`
	Timeout       time.Duration `json:"timeout"`
	QuoteToken    string        `json:"quote_token"` // Token the portfolio is valued in (e.g. GUSDC)
}

// CopyConfig holds the replication policy.
type CopyConfig struct {
	Mode              domain.CopyMode `json:"mode"`
	SlippageTolerance float64         `json:"slippage_tolerance"` // 0.05 = 5%
	ExecutionDelay    time.Duration   `json:"execution_delay"`
	CooldownMinutes   int             `json:"cooldown_minutes"`
	MaxDailyTrades    int             `json:"max_daily_trades"`
	MaxDailyVolume    decimal.Decimal `json:"max_daily_volume"` // Zero = unlimited
	MaxPositionSize   float64         `json:"max_position_size"` // Fraction of portfolio (0.1 = 10%)
	AutoExecute       bool            `json:"auto_execute"`

	AllowTokens     []string                   `json:"allow_tokens"` // Empty = all tokens
	DenyTokens      []string                   `json:"deny_tokens"`
	MinTokenAmounts map[string]decimal.Decimal `json:"min_token_amounts"`

	DefaultPortfolioSize     decimal.Decimal `json:"default_portfolio_size"`
	PortfolioRefreshInterval time.Duration   `json:"portfolio_refresh_interval"`

	// Scoring
	ScoringStrategy  string  `json:"scoring_strategy"` // "rules" or "static"
	MaxRiskScore     float64 `json:"max_risk_score"`
	MinConfidence    float64 `json:"min_confidence"`
	StaticRisk       float64 `json:"static_risk"`
	StaticConfidence float64 `json:"static_confidence"`
}

// QueueConfig holds the activity queue configuration.
type QueueConfig struct {
	ProcessInterval time.Duration `json:"process_interval"`
	Capacity        int           `json:"capacity"`
	SeenCapacity    int           `json:"seen_capacity"`
	MaxAttempts     int           `json:"max_attempts"`
}

// LedgerConfig holds wallet scoring and alert thresholds.
type LedgerConfig struct {
	RefreshInterval       time.Duration   `json:"refresh_interval"`
	MinTradesForPattern   int             `json:"min_trades_for_pattern"`
	VolumeAlertThreshold  decimal.Decimal `json:"volume_alert_threshold"`
	SuccessRateAlertBelow float64         `json:"success_rate_alert_below"`
	SuccessRateMinSample  int             `json:"success_rate_min_sample"`
	InactivityAlertAfter  time.Duration   `json:"inactivity_alert_after"`
	AlertHistorySize      int             `json:"alert_history_size"`
}

// ExecutorConfig holds trade execution retry settings.
type ExecutorConfig struct {
	TickInterval   time.Duration `json:"tick_interval"`
	MaxAttempts    int           `json:"max_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	MaxRetryDelay  time.Duration `json:"max_retry_delay"`
	CallTimeout    time.Duration `json:"call_timeout"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	Window           time.Duration `json:"window"`
	Cooldown         time.Duration `json:"cooldown"`
}

// PositionsConfig holds position risk settings.
type PositionsConfig struct {
	RefreshInterval          time.Duration   `json:"refresh_interval"`
	HighRiskThreshold        float64         `json:"high_risk_threshold"`
	ImpermanentLossThreshold float64         `json:"impermanent_loss_threshold"` // Sub-score, 0-100
	DrawdownThreshold        float64         `json:"drawdown_threshold"`         // Percent, e.g. 20 = -20%
	LiquidityReference       decimal.Decimal `json:"liquidity_reference"`        // Liquidity at which risk reaches zero
	MaxDuration              time.Duration   `json:"max_duration"`               // Age at which duration risk reaches 100
	AlertHistorySize         int             `json:"alert_history_size"`
}

// StateConfig holds state file settings.
type StateConfig struct {
	FilePath     string        `json:"file_path"`
	SaveInterval time.Duration `json:"save_interval"`
	MaxTrades    int           `json:"max_trades"`
}

// HealthConfig holds health probe settings.
type HealthConfig struct {
	CheckInterval       time.Duration `json:"check_interval"`
	IngestionStaleAfter time.Duration `json:"ingestion_stale_after"`
	ErrorHistorySize    int           `json:"error_history_size"`
}

// JournalConfig holds the Postgres trade journal settings.
type JournalConfig struct {
	PostgresDSN   string        `json:"-"` // Excluded - env var only
	InsertTimeout time.Duration `json:"insert_timeout"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// TargetsConfig holds the wallet target list and where it is loaded from.
type TargetsConfig struct {
	FilePath             string                `json:"file_path"`
	ReloadInterval       time.Duration         `json:"reload_interval"`
	DefaultMaxCopyAmount decimal.Decimal       `json:"default_max_copy_amount"`
	Wallets              []domain.TargetWallet `json:"wallets"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	// Deep copy slices and maps
	if c.Copy.AllowTokens != nil {
		clone.Copy.AllowTokens = make([]string, len(c.Copy.AllowTokens))
		copy(clone.Copy.AllowTokens, c.Copy.AllowTokens)
	}
	if c.Copy.DenyTokens != nil {
		clone.Copy.DenyTokens = make([]string, len(c.Copy.DenyTokens))
		copy(clone.Copy.DenyTokens, c.Copy.DenyTokens)
	}
	if c.Copy.MinTokenAmounts != nil {
		clone.Copy.MinTokenAmounts = make(map[string]decimal.Decimal, len(c.Copy.MinTokenAmounts))
		for k, v := range c.Copy.MinTokenAmounts {
			clone.Copy.MinTokenAmounts[k] = v
		}
	}
	if c.Targets.Wallets != nil {
		clone.Targets.Wallets = make([]domain.TargetWallet, len(c.Targets.Wallets))
		copy(clone.Targets.Wallets, c.Targets.Wallets)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		Feed: FeedConfig{
			URL:                  "wss://explorer-api.galachain.com/socket",
			Topic:                "blocks",
			BatchSubmitOpCode:    "DexV3Contract:BatchSubmit",
			ReconnectBaseDelay:   1 * time.Second,
			MaxReconnectDelay:    30 * time.Second,
			MaxReconnectAttempts: 10,
			HeartbeatTimeout:     60 * time.Second,
			PingInterval:         20 * time.Second,
			WriteTimeout:         10 * time.Second,
		},
		GSwap: GSwapConfig{
			APIURL:     "https://dex-backend-prod1.defi.gala.com",
			Timeout:    15 * time.Second,
			QuoteToken: "GUSDC",
		},
		Copy: CopyConfig{
			Mode:                     domain.CopyModeProportional,
			SlippageTolerance:        0.05,
			ExecutionDelay:           2 * time.Second,
			CooldownMinutes:          5,
			MaxDailyTrades:           50,
			MaxDailyVolume:           decimal.Zero,
			MaxPositionSize:          0.10,
			AutoExecute:              false,
			DefaultPortfolioSize:     decimal.NewFromInt(1000),
			PortfolioRefreshInterval: 5 * time.Minute,
			ScoringStrategy:          "rules",
			MaxRiskScore:             70,
			MinConfidence:            40,
			StaticRisk:               30,
			StaticConfidence:         70,
		},
		Queue: QueueConfig{
			ProcessInterval: 250 * time.Millisecond,
			Capacity:        1000,
			SeenCapacity:    10000,
			MaxAttempts:     3,
		},
		Ledger: LedgerConfig{
			RefreshInterval:       1 * time.Minute,
			MinTradesForPattern:   3,
			VolumeAlertThreshold:  decimal.NewFromInt(100000),
			SuccessRateAlertBelow: 0.5,
			SuccessRateMinSample:  10,
			InactivityAlertAfter:  24 * time.Hour,
			AlertHistorySize:      200,
		},
		Executor: ExecutorConfig{
			TickInterval:   500 * time.Millisecond,
			MaxAttempts:    3,
			RetryBaseDelay: 2 * time.Second,
			MaxRetryDelay:  30 * time.Second,
			CallTimeout:    15 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           1 * time.Minute,
			Cooldown:         30 * time.Second,
		},
		Positions: PositionsConfig{
			RefreshInterval:          1 * time.Minute,
			HighRiskThreshold:        75,
			ImpermanentLossThreshold: 50,
			DrawdownThreshold:        20,
			LiquidityReference:       decimal.NewFromInt(10000),
			MaxDuration:              30 * 24 * time.Hour,
			AlertHistorySize:         200,
		},
		State: StateConfig{
			FilePath:     "copytrader_state.json",
			SaveInterval: 30 * time.Second,
			MaxTrades:    1000,
		},
		Health: HealthConfig{
			CheckInterval:       30 * time.Second,
			IngestionStaleAfter: 2 * time.Minute,
			ErrorHistorySize:    500,
		},
		Journal: JournalConfig{
			InsertTimeout: 5 * time.Second,
		},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Targets: TargetsConfig{
			FilePath:             "targets.json",
			ReloadInterval:       30 * time.Second,
			DefaultMaxCopyAmount: decimal.NewFromInt(100),
		},
	}
}

// Load loads configuration from environment variables with defaults.
// Target wallets are not read here; see LoadTargets.
func Load() *Config {
	d := Defaults()

	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Feed: FeedConfig{
			URL:                  envString("FEED_URL", d.Feed.URL),
			Topic:                envString("FEED_TOPIC", d.Feed.Topic),
			BatchSubmitOpCode:    envString("FEED_BATCH_OP_CODE", d.Feed.BatchSubmitOpCode),
			ReconnectBaseDelay:   envDuration("FEED_RECONNECT_BASE_DELAY", d.Feed.ReconnectBaseDelay),
			MaxReconnectDelay:    envDuration("FEED_MAX_RECONNECT_DELAY", d.Feed.MaxReconnectDelay),
			MaxReconnectAttempts: envInt("FEED_MAX_RECONNECT_ATTEMPTS", d.Feed.MaxReconnectAttempts),
			HeartbeatTimeout:     envDuration("FEED_HEARTBEAT_TIMEOUT", d.Feed.HeartbeatTimeout),
			PingInterval:         envDuration("FEED_PING_INTERVAL", d.Feed.PingInterval),
			WriteTimeout:         envDuration("FEED_WRITE_TIMEOUT", d.Feed.WriteTimeout),
		},

		GSwap: GSwapConfig{
			APIURL:        envString("GSWAP_API_URL", d.GSwap.APIURL),
			APIKey:        envString("GSWAP_API_KEY", ""),
			WalletAddress: envString("GSWAP_WALLET_ADDRESS", ""),
			Timeout:       envDuration("GSWAP_TIMEOUT", d.GSwap.Timeout),
			QuoteToken:    envString("GSWAP_QUOTE_TOKEN", d.GSwap.QuoteToken),
		},

		Copy: CopyConfig{
			Mode:                     domain.CopyMode(strings.ToLower(envString("COPY_MODE", string(d.Copy.Mode)))),
			SlippageTolerance:        envFloat("COPY_SLIPPAGE_TOLERANCE", d.Copy.SlippageTolerance),
			ExecutionDelay:           envDuration("COPY_EXECUTION_DELAY", d.Copy.ExecutionDelay),
			CooldownMinutes:          envInt("COPY_COOLDOWN_MINUTES", d.Copy.CooldownMinutes),
			MaxDailyTrades:           envInt("COPY_MAX_DAILY_TRADES", d.Copy.MaxDailyTrades),
			MaxDailyVolume:           envDecimal("COPY_MAX_DAILY_VOLUME", d.Copy.MaxDailyVolume),
			MaxPositionSize:          envFloat("COPY_MAX_POSITION_SIZE", d.Copy.MaxPositionSize),
			AutoExecute:              envBoolDefault("COPY_AUTO_EXECUTE", d.Copy.AutoExecute),
			AllowTokens:              envStringSlice("COPY_ALLOW_TOKENS"),
			DenyTokens:               envStringSlice("COPY_DENY_TOKENS"),
			MinTokenAmounts:          envDecimalMap("COPY_MIN_TOKEN_AMOUNTS"),
			DefaultPortfolioSize:     envDecimal("COPY_DEFAULT_PORTFOLIO_SIZE", d.Copy.DefaultPortfolioSize),
			PortfolioRefreshInterval: envDuration("COPY_PORTFOLIO_REFRESH_INTERVAL", d.Copy.PortfolioRefreshInterval),
			ScoringStrategy:          envString("COPY_SCORING_STRATEGY", d.Copy.ScoringStrategy),
			MaxRiskScore:             envFloat("COPY_MAX_RISK_SCORE", d.Copy.MaxRiskScore),
			MinConfidence:            envFloat("COPY_MIN_CONFIDENCE", d.Copy.MinConfidence),
			StaticRisk:               envFloat("COPY_STATIC_RISK", d.Copy.StaticRisk),
			StaticConfidence:         envFloat("COPY_STATIC_CONFIDENCE", d.Copy.StaticConfidence),
		},

		Queue: QueueConfig{
			ProcessInterval: envDuration("QUEUE_PROCESS_INTERVAL", d.Queue.ProcessInterval),
			Capacity:        envInt("QUEUE_CAPACITY", d.Queue.Capacity),
			SeenCapacity:    envInt("QUEUE_SEEN_CAPACITY", d.Queue.SeenCapacity),
			MaxAttempts:     envInt("QUEUE_MAX_ATTEMPTS", d.Queue.MaxAttempts),
		},

		Ledger: LedgerConfig{
			RefreshInterval:       envDuration("LEDGER_REFRESH_INTERVAL", d.Ledger.RefreshInterval),
			MinTradesForPattern:   envInt("LEDGER_MIN_TRADES_FOR_PATTERN", d.Ledger.MinTradesForPattern),
			VolumeAlertThreshold:  envDecimal("LEDGER_VOLUME_ALERT_THRESHOLD", d.Ledger.VolumeAlertThreshold),
			SuccessRateAlertBelow: envFloat("LEDGER_SUCCESS_RATE_ALERT_BELOW", d.Ledger.SuccessRateAlertBelow),
			SuccessRateMinSample:  envInt("LEDGER_SUCCESS_RATE_MIN_SAMPLE", d.Ledger.SuccessRateMinSample),
			InactivityAlertAfter:  envDuration("LEDGER_INACTIVITY_ALERT_AFTER", d.Ledger.InactivityAlertAfter),
			AlertHistorySize:      envInt("LEDGER_ALERT_HISTORY_SIZE", d.Ledger.AlertHistorySize),
		},

		Executor: ExecutorConfig{
			TickInterval:   envDuration("EXECUTOR_TICK_INTERVAL", d.Executor.TickInterval),
			MaxAttempts:    envInt("EXECUTOR_MAX_ATTEMPTS", d.Executor.MaxAttempts),
			RetryBaseDelay: envDuration("EXECUTOR_RETRY_BASE_DELAY", d.Executor.RetryBaseDelay),
			MaxRetryDelay:  envDuration("EXECUTOR_MAX_RETRY_DELAY", d.Executor.MaxRetryDelay),
			CallTimeout:    envDuration("EXECUTOR_CALL_TIMEOUT", d.Executor.CallTimeout),
		},

		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", d.Breaker.FailureThreshold),
			Window:           envDuration("BREAKER_WINDOW", d.Breaker.Window),
			Cooldown:         envDuration("BREAKER_COOLDOWN", d.Breaker.Cooldown),
		},

		Positions: PositionsConfig{
			RefreshInterval:          envDuration("POSITIONS_REFRESH_INTERVAL", d.Positions.RefreshInterval),
			HighRiskThreshold:        envFloat("POSITIONS_HIGH_RISK_THRESHOLD", d.Positions.HighRiskThreshold),
			ImpermanentLossThreshold: envFloat("POSITIONS_IL_THRESHOLD", d.Positions.ImpermanentLossThreshold),
			DrawdownThreshold:        envFloat("POSITIONS_DRAWDOWN_THRESHOLD", d.Positions.DrawdownThreshold),
			LiquidityReference:       envDecimal("POSITIONS_LIQUIDITY_REFERENCE", d.Positions.LiquidityReference),
			MaxDuration:              envDuration("POSITIONS_MAX_DURATION", d.Positions.MaxDuration),
			AlertHistorySize:         envInt("POSITIONS_ALERT_HISTORY_SIZE", d.Positions.AlertHistorySize),
		},

		State: StateConfig{
			FilePath:     envString("STATE_FILE", d.State.FilePath),
			SaveInterval: envDuration("STATE_SAVE_INTERVAL", d.State.SaveInterval),
			MaxTrades:    envInt("STATE_MAX_TRADES", d.State.MaxTrades),
		},

		Health: HealthConfig{
			CheckInterval:       envDuration("HEALTH_CHECK_INTERVAL", d.Health.CheckInterval),
			IngestionStaleAfter: envDuration("HEALTH_INGESTION_STALE_AFTER", d.Health.IngestionStaleAfter),
			ErrorHistorySize:    envInt("HEALTH_ERROR_HISTORY_SIZE", d.Health.ErrorHistorySize),
		},

		Journal: JournalConfig{
			PostgresDSN:   envString("JOURNAL_POSTGRES_DSN", ""),
			InsertTimeout: envDuration("JOURNAL_INSERT_TIMEOUT", d.Journal.InsertTimeout),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},

		Targets: TargetsConfig{
			FilePath:             envString("TARGET_WALLETS_FILE", d.Targets.FilePath),
			ReloadInterval:       envDuration("TARGET_WALLETS_RELOAD_INTERVAL", d.Targets.ReloadInterval),
			DefaultMaxCopyAmount: envDecimal("TARGET_DEFAULT_MAX_COPY_AMOUNT", d.Targets.DefaultMaxCopyAmount),
			Wallets:              walletsFromAddresses(envStringSlice("TARGET_WALLETS"), envDecimal("TARGET_DEFAULT_MAX_COPY_AMOUNT", d.Targets.DefaultMaxCopyAmount)),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// envDecimalMap parses "GALA:10,GUSDC:1.5" into a token -> amount map.
// Malformed pairs are skipped.
func envDecimalMap(key string) map[string]decimal.Decimal {
	pairs := envStringSlice(key)
	if len(pairs) == 0 {
		return nil
	}
	result := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		token, amount, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil {
			continue
		}
		result[strings.ToUpper(strings.TrimSpace(token))] = d
	}
	return result
}

func walletsFromAddresses(addresses []string, maxCopy decimal.Decimal) []domain.TargetWallet {
	if len(addresses) == 0 {
		return nil
	}
	result := make([]domain.TargetWallet, 0, len(addresses))
	for _, a := range addresses {
		result = append(result, domain.TargetWallet{
			Address:       a,
			Name:          a,
			Enabled:       true,
			MaxCopyAmount: maxCopy,
		})
	}
	return result
}
