package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all bot configuration
type Config struct {
	RPC        RPCConfig        `mapstructure:"rpc"`
	Transfer   TransferConfig   `mapstructure:"transfer"`
	TradeAPI   TradeAPIConfig   `mapstructure:"trade_api"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Session    SessionConfig    `mapstructure:"session"`
	Blockchain BlockchainConfig `mapstructure:"blockchain"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
}

type RPCConfig struct {
	PrimaryURL        string `mapstructure:"primary_url"`
	PrimaryAPIKeyEnv  string `mapstructure:"primary_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

type TransferConfig struct {
	PriorityFeeLamports     uint64 `mapstructure:"priority_fee_lamports"`
	RelayTipLamports        uint64 `mapstructure:"relay_tip_lamports"`
	ComputeUnitLimit        uint32 `mapstructure:"compute_unit_limit"`
	RetainedMinimumLamports uint64 `mapstructure:"retained_minimum_lamports"`
	PollBaseIntervalMs      int    `mapstructure:"poll_base_interval_ms"`
	PollMaxIntervalMs       int    `mapstructure:"poll_max_interval_ms"` // 0 = uncapped
	PollAttempts            int    `mapstructure:"poll_attempts"`
	MaxSubmissions          int    `mapstructure:"max_submissions"`
	Commitment              string `mapstructure:"commitment"` // "confirmed" or "finalized"
}

type TradeAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKeysEnv     string `mapstructure:"api_keys_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	SimulationMode bool   `mapstructure:"simulation_mode"`
	DefaultSlipBps int    `mapstructure:"default_slippage_bps"`
}

type TelegramConfig struct {
	BotTokenEnv string `mapstructure:"bot_token_env"`
	Debug       bool   `mapstructure:"debug"`
}

type DiscordConfig struct {
	WebhookURLEnv string `mapstructure:"webhook_url_env"`
}

type SessionConfig struct {
	IdleTTLMinutes       int `mapstructure:"idle_ttl_minutes"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

type BlockchainConfig struct {
	BlockhashRefreshMs  int `mapstructure:"blockhash_refresh_ms"`
	BlockhashTTLSeconds int `mapstructure:"blockhash_ttl_seconds"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type ServerConfig struct {
	ListenHost        string `mapstructure:"listen_host"`
	ListenPort        int    `mapstructure:"listen_port"`
	RateLimitPerMin   int    `mapstructure:"rate_limit_per_min"`
	HealthIntervalSec int    `mapstructure:"health_interval_seconds"`
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.primary_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.primary_api_key_env", "RPC_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("transfer.priority_fee_lamports", 100_000)
	v.SetDefault("transfer.relay_tip_lamports", 100_000)
	v.SetDefault("transfer.compute_unit_limit", 200_000)
	v.SetDefault("transfer.retained_minimum_lamports", 0)
	v.SetDefault("transfer.poll_base_interval_ms", 500)
	v.SetDefault("transfer.poll_max_interval_ms", 0)
	v.SetDefault("transfer.poll_attempts", 8)
	v.SetDefault("transfer.max_submissions", 100)
	v.SetDefault("transfer.commitment", "confirmed")
	v.SetDefault("trade_api.base_url", "http://localhost:3000")
	v.SetDefault("trade_api.api_keys_env", "TRADE_API_KEYS")
	v.SetDefault("trade_api.timeout_seconds", 30)
	v.SetDefault("trade_api.default_slippage_bps", 500) // 5%
	v.SetDefault("telegram.bot_token_env", "TELEGRAM_BOT_TOKEN")
	v.SetDefault("discord.webhook_url_env", "DISCORD_WEBHOOK_URL")
	v.SetDefault("session.idle_ttl_minutes", 30)
	v.SetDefault("session.sweep_interval_seconds", 60)
	v.SetDefault("blockchain.blockhash_refresh_ms", 400)
	v.SetDefault("blockchain.blockhash_ttl_seconds", 60)
	v.SetDefault("storage.sqlite_path", "./data/bot.db")
	v.SetDefault("server.listen_host", "127.0.0.1")
	v.SetDefault("server.listen_port", 8080)
	v.SetDefault("server.rate_limit_per_min", 120)
	v.SetDefault("server.health_interval_seconds", 10)
}

// NewManager creates a new config manager
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	// Watch for config changes
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

// normalize repairs values that would break the transfer loop
func (c *Config) normalize() {
	if c.Transfer.PollBaseIntervalMs <= 0 {
		c.Transfer.PollBaseIntervalMs = 500
	}
	if c.Transfer.PollAttempts <= 0 {
		c.Transfer.PollAttempts = 8
	}
	if c.Transfer.MaxSubmissions <= 0 {
		c.Transfer.MaxSubmissions = 100
	}
	if c.Transfer.ComputeUnitLimit == 0 {
		c.Transfer.ComputeUnitLimit = 200_000
	}
	switch c.Transfer.Commitment {
	case "confirmed", "finalized":
	default:
		c.Transfer.Commitment = "confirmed"
	}
	if c.Session.IdleTTLMinutes <= 0 {
		c.Session.IdleTTLMinutes = 30
	}
	if c.Session.SweepIntervalSeconds <= 0 {
		c.Session.SweepIntervalSeconds = 60
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/bot.db"
	}
}

// Get returns the current config (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetTransfer returns transfer config (read on every withdrawal)
func (m *Manager) GetTransfer() TransferConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Transfer
}

// SetOnChange registers a callback for config changes
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}
	cfg.normalize()

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetTelegramToken loads the bot token from environment
func (m *Manager) GetTelegramToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Telegram.BotTokenEnv)
}

// GetDiscordWebhook loads the notification webhook from environment
func (m *Manager) GetDiscordWebhook() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Discord.WebhookURLEnv)
}

// GetTradeAPIKeys returns the comma separated trade API keys from environment
func (m *Manager) GetTradeAPIKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw := os.Getenv(m.config.TradeAPI.APIKeysEnv)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetPrimaryAPIKey loads the primary RPC API key from environment
func (m *Manager) GetPrimaryAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.PrimaryAPIKeyEnv)
}

// GetPrimaryRPCURL returns the primary RPC URL with API key injected
func (m *Manager) GetPrimaryRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectKey(m.config.RPC.PrimaryURL, os.Getenv(m.config.RPC.PrimaryAPIKeyEnv))
}

// GetFallbackRPCURL returns the fallback RPC URL with API key injected
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectKey(m.config.RPC.FallbackURL, os.Getenv(m.config.RPC.FallbackAPIKeyEnv))
}

func injectKey(url, key string) string {
	if key == "" {
		return url
	}
	if strings.Contains(url, "api_key=") || strings.Contains(url, "api-key=") {
		return url
	}

	// Detect provider param style
	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}

	if strings.Contains(url, "?") {
		return url + "&" + param + "=" + key
	}
	return url + "?" + param + "=" + key
}

// GetBlockhashRefresh returns blockhash refresh interval as duration
func (m *Manager) GetBlockhashRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BlockhashRefreshMs) * time.Millisecond
}

// GetSessionTTL returns the idle eviction window for chat sessions
func (m *Manager) GetSessionTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Session.IdleTTLMinutes) * time.Minute
}

// PollBaseInterval returns the first confirmation backoff step
func (t TransferConfig) PollBaseInterval() time.Duration {
	return time.Duration(t.PollBaseIntervalMs) * time.Millisecond
}

// PollMaxInterval returns the backoff cap, zero when uncapped
func (t TransferConfig) PollMaxInterval() time.Duration {
	return time.Duration(t.PollMaxIntervalMs) * time.Millisecond
}
