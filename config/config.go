package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	EngineConfig       EngineConfig       `json:"engine"`
	OrderConfig        OrderConfig        `json:"order"`
	WorkerConfig       WorkerConfig       `json:"worker"`
	SyncConfig         SyncConfig         `json:"sync"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	MarketConfig       MarketConfig       `json:"market"`
	NotificationConfig NotificationConfig `json:"notification"`
	AIConfig           AIConfig           `json:"ai"`
	ServerConfig       ServerConfig       `json:"server"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// EngineConfig holds strategy runner configuration
type EngineConfig struct {
	TickInterval  time.Duration `json:"tick_interval"`   // Seconds between strategy ticks
	MaxRunners    int           `json:"max_runners"`     // Max concurrently running strategies
	PriceCacheTTL time.Duration `json:"price_cache_ttl"` // Shared ticker cache TTL
	KlineHistory  int           `json:"kline_history"`   // Bars fetched per full refresh
	DedupMinTTL   time.Duration `json:"dedup_min_ttl"`   // Floor for the per-candle dedup TTL
	MaxLeverage   int           `json:"max_leverage"`    // Hard leverage cap
	AutoStart     bool          `json:"auto_start"`      // Start persisted running strategies on boot
}

// OrderConfig holds live execution configuration
type OrderConfig struct {
	Mode           string        `json:"mode"`             // maker, limit, limit_first, maker_then_market, market
	MakerWait      time.Duration `json:"maker_wait"`       // Maker phase fill wait
	MakerOffsetBps float64       `json:"maker_offset_bps"` // Limit price skew in basis points
}

// WorkerConfig holds pending-order worker configuration
type WorkerConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	StaleAfter   time.Duration `json:"stale_after"` // Requeue processing rows older than this
	MaxAttempts  int           `json:"max_attempts"`
}

// SyncConfig holds position reconciliation configuration
type SyncConfig struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the shared price cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for exchange credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
	// Fallback store used when Vault is disabled
	LocalStorePath string `json:"local_store_path"`
	LocalStoreKey  string `json:"local_store_key"` // 32-byte hex key for secretbox
}

// MarketConfig holds market data source configuration
type MarketConfig struct {
	BinanceBaseURL        string `json:"binance_base_url"`
	BinanceFuturesBaseURL string `json:"binance_futures_base_url"`
	BinanceWSURL          string `json:"binance_ws_url"`
	StreamEnabled         bool   `json:"stream_enabled"` // Prime the price cache from the ticker stream
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Webhook  WebhookConfig  `json:"webhook"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// WebhookConfig holds the generic signal webhook configuration
type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// AIConfig holds defaults for the entry filter; per-strategy ai_model_config
// overrides these.
type AIConfig struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider"` // "openai", "claude", or "deepseek"
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// ServerConfig holds the ops HTTP API configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	JWTSecret       string `json:"jwt_secret"` // Empty disables auth
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Exchange API credentials are NOT read from the environment; they are
// per-user and live in the credential store.
func applyEnvOverrides(cfg *Config) {
	// Engine config
	cfg.EngineConfig.TickInterval = time.Duration(getEnvIntOrDefault("STRATEGY_TICK_INTERVAL_SEC", 10)) * time.Second
	cfg.EngineConfig.MaxRunners = getEnvIntOrDefault("STRATEGY_MAX_THREADS", 64)
	cfg.EngineConfig.PriceCacheTTL = time.Duration(getEnvIntOrDefault("PRICE_CACHE_TTL_SEC", 10)) * time.Second
	cfg.EngineConfig.KlineHistory = getEnvIntOrDefault("K_LINE_HISTORY_GET_NUMBER", 500)
	cfg.EngineConfig.DedupMinTTL = getEnvDurationOrDefault("SIGNAL_DEDUP_MIN_TTL", 120*time.Second)
	cfg.EngineConfig.MaxLeverage = getEnvIntOrDefault("STRATEGY_MAX_LEVERAGE", 125)
	cfg.EngineConfig.AutoStart = getEnvOrDefault("STRATEGY_AUTO_START", "true") == "true"

	// Order config
	cfg.OrderConfig.Mode = getEnvOrDefault("ORDER_MODE", "maker")
	cfg.OrderConfig.MakerWait = time.Duration(getEnvIntOrDefault("MAKER_WAIT_SEC", 10)) * time.Second
	cfg.OrderConfig.MakerOffsetBps = getEnvFloatOrDefault("MAKER_OFFSET_BPS", 2)

	// Worker config
	cfg.WorkerConfig.PollInterval = getEnvDurationOrDefault("PENDING_ORDER_POLL_INTERVAL", time.Second)
	cfg.WorkerConfig.BatchSize = getEnvIntOrDefault("PENDING_ORDER_BATCH_SIZE", 50)
	cfg.WorkerConfig.StaleAfter = time.Duration(getEnvIntOrDefault("PENDING_ORDER_STALE_SEC", 90)) * time.Second
	cfg.WorkerConfig.MaxAttempts = getEnvIntOrDefault("PENDING_ORDER_MAX_ATTEMPTS", 10)

	// Sync config
	cfg.SyncConfig.Enabled = getEnvOrDefault("POSITION_SYNC_ENABLED", "true") == "true"
	cfg.SyncConfig.Interval = time.Duration(getEnvIntOrDefault("POSITION_SYNC_INTERVAL_SEC", 10)) * time.Second

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", "postgres")
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", "quantdinger")
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "trading-engine/exchange-keys")
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"
	cfg.VaultConfig.LocalStorePath = getEnvOrDefault("CREDENTIALS_LOCAL_STORE", "credentials.enc")
	cfg.VaultConfig.LocalStoreKey = getEnvOrDefault("CREDENTIALS_LOCAL_KEY", cfg.VaultConfig.LocalStoreKey)

	// Market config
	cfg.MarketConfig.BinanceBaseURL = getEnvOrDefault("BINANCE_BASE_URL", "https://api.binance.com")
	cfg.MarketConfig.BinanceFuturesBaseURL = getEnvOrDefault("BINANCE_FUTURES_BASE_URL", "https://fapi.binance.com")
	cfg.MarketConfig.BinanceWSURL = getEnvOrDefault("BINANCE_WS_URL", "wss://stream.binance.com:9443")
	cfg.MarketConfig.StreamEnabled = getEnvOrDefault("MARKET_STREAM_ENABLED", "false") == "true"

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "true") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)
	cfg.NotificationConfig.Webhook.Enabled = getEnvOrDefault("WEBHOOK_ENABLED", "false") == "true"
	cfg.NotificationConfig.Webhook.URL = getEnvOrDefault("WEBHOOK_URL", cfg.NotificationConfig.Webhook.URL)

	// AI config
	cfg.AIConfig.Enabled = getEnvOrDefault("AI_FILTER_ENABLED", "false") == "true"
	cfg.AIConfig.Provider = getEnvOrDefault("AI_PROVIDER", "openai")
	cfg.AIConfig.APIKey = getEnvOrDefault("AI_API_KEY", cfg.AIConfig.APIKey)
	cfg.AIConfig.Model = getEnvOrDefault("AI_MODEL", "gpt-4o-mini")
	cfg.AIConfig.BaseURL = getEnvOrDefault("AI_BASE_URL", cfg.AIConfig.BaseURL)

	// Server config
	cfg.ServerConfig.Enabled = getEnvOrDefault("WEB_ENABLED", "true") == "true"
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.JWTSecret = getEnvOrDefault("SERVER_JWT_SECRET", cfg.ServerConfig.JWTSecret)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		EngineConfig: EngineConfig{
			TickInterval:  10 * time.Second,
			MaxRunners:    64,
			PriceCacheTTL: 10 * time.Second,
			KlineHistory:  500,
			DedupMinTTL:   120 * time.Second,
			MaxLeverage:   125,
			AutoStart:     true,
		},
		OrderConfig: OrderConfig{
			Mode:           "maker",
			MakerWait:      10 * time.Second,
			MakerOffsetBps: 2,
		},
		WorkerConfig: WorkerConfig{
			PollInterval: time.Second,
			BatchSize:    50,
			StaleAfter:   90 * time.Second,
			MaxAttempts:  10,
		},
		SyncConfig: SyncConfig{
			Enabled:  true,
			Interval: 10 * time.Second,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "quantdinger",
			SSLMode:  "disable",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
