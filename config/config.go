package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	GuidedConfig    GuidedConfig    `json:"guided"`
	LLMConfig       LLMConfig       `json:"llm"`
	McpConfig       McpConfig       `json:"mcp"`
	AutopilotConfig AutopilotConfig `json:"autopilot"`
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// GuidedConfig holds the guided-trading backend connection settings
type GuidedConfig struct {
	BaseURL    string        `json:"base_url"`
	APIToken   string        `json:"api_token"`
	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retry_count"`
}

// LLMConfig holds LLM gateway configuration
type LLMConfig struct {
	Provider    string  `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TimeoutSecs int     `json:"timeout_secs"`
}

// McpConfig holds the MCP tool-bridge connection settings
type McpConfig struct {
	Enabled bool          `json:"enabled"`
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// AutopilotConfig holds the orchestration knobs loaded at startup.
// These seed autopilot.Options; the API can swap them at runtime.
type AutopilotConfig struct {
	Enabled                    bool     `json:"enabled"`
	Interval                   string   `json:"interval"`         // primary candle interval, e.g. "1m"
	ConfirmInterval            string   `json:"confirm_interval"` // confirmation candle interval
	TradingMode                string   `json:"trading_mode"`     // SCALP, SWING, POSITION
	AmountKrw                  float64  `json:"amount_krw"`
	DailyLossLimitKrw          float64  `json:"daily_loss_limit_krw"` // negative threshold
	MaxConcurrentPositions     int      `json:"max_concurrent_positions"`
	CandidateLimit             int      `json:"candidate_limit"`
	RejectCooldownMs           int64    `json:"reject_cooldown_ms"`
	PostExitCooldownMs         int64    `json:"post_exit_cooldown_ms"`
	PendingEntryTimeoutMs      int64    `json:"pending_entry_timeout_ms"`
	WorkerTickMs               int64    `json:"worker_tick_ms"`
	LlmReviewIntervalMs        int64    `json:"llm_review_interval_ms"`
	MinLlmConfidence           float64  `json:"min_llm_confidence"`
	EntryPolicy                string   `json:"entry_policy"`     // BALANCED, AGGRESSIVE, CONSERVATIVE
	EntryOrderMode             string   `json:"entry_order_mode"` // ADAPTIVE, MARKET, LIMIT
	MarketFallbackAfterCancel  bool     `json:"market_fallback_after_cancel"`
	PlaywrightEnabled          bool     `json:"playwright_enabled"`
	LlmDailySoftCap            int      `json:"llm_daily_soft_cap"`
	FocusedScalpEnabled        bool     `json:"focused_scalp_enabled"`
	FocusedScalpMarkets        []string `json:"focused_scalp_markets"`
	FocusedScalpPollIntervalMs int64    `json:"focused_scalp_poll_interval_ms"`
	FocusedWarnHoldingMs       int64    `json:"focused_warn_holding_ms"`
	FocusedMaxHoldingMs        int64    `json:"focused_max_holding_ms"`
	FocusedEntryGate           string   `json:"focused_entry_gate"`
	FineAgentEnabled           bool     `json:"fine_agent_enabled"`
	FineAgentMaxPerTick        int      `json:"fine_agent_max_per_tick"`
	FineAgentDecisionTtlMs     int64    `json:"fine_agent_decision_ttl_ms"`
	FineAgentMode              string   `json:"fine_agent_mode"` // LITE or FULL
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool   `json:"production_mode"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// DatabaseConfig holds PostgreSQL connection settings for the local
// decision history. Disabled by default; the backend decision log is
// authoritative either way.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for cooldown/budget persistence
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// VaultConfig holds HashiCorp Vault settings for secret lookup
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// Load builds the configuration in three layers: hard defaults, then the
// optional JSON file named by CONFIG_FILE, then environment variable
// overrides on top. Unset layers keep the value from the layer below.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if cfg.GuidedConfig.BaseURL == "" {
		return nil, fmt.Errorf("guided backend base URL is required (GUIDED_BASE_URL)")
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		GuidedConfig: GuidedConfig{
			Timeout:    15 * time.Second,
			RetryCount: 2,
		},
		LLMConfig: LLMConfig{
			Provider:    "claude",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   1024,
			Temperature: 0.3,
			TimeoutSecs: 30,
		},
		McpConfig: McpConfig{
			BaseURL: "http://localhost:8931",
			Timeout: 30 * time.Second,
		},
		AutopilotConfig: AutopilotConfig{
			Interval:                   "1m",
			ConfirmInterval:            "10m",
			TradingMode:                "SCALP",
			AmountKrw:                  10000,
			DailyLossLimitKrw:          -100000,
			MaxConcurrentPositions:     3,
			CandidateLimit:             8,
			RejectCooldownMs:           120000,
			PostExitCooldownMs:         180000,
			PendingEntryTimeoutMs:      90000,
			WorkerTickMs:               5000,
			LlmReviewIntervalMs:        30000,
			MinLlmConfidence:           60,
			EntryPolicy:                "BALANCED",
			EntryOrderMode:             "ADAPTIVE",
			MarketFallbackAfterCancel:  true,
			LlmDailySoftCap:            300,
			FocusedScalpPollIntervalMs: 3000,
			FocusedWarnHoldingMs:       420000,
			FocusedMaxHoldingMs:        900000,
			FocusedEntryGate:           "FAST_ONLY",
			FineAgentMaxPerTick:        2,
			FineAgentDecisionTtlMs:     60000,
			FineAgentMode:              "LITE",
		},
		ServerConfig: ServerConfig{
			Port:            8087,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "autopilot",
			Name:    "upbit_autopilot",
			SSLMode: "disable",
		},
		RedisConfig: RedisConfig{
			Address: "localhost:6379",
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "upbit-autopilot/api-keys",
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	// Guided backend
	cfg.GuidedConfig.BaseURL = getEnvOrDefault("GUIDED_BASE_URL", cfg.GuidedConfig.BaseURL)
	cfg.GuidedConfig.APIToken = getEnvOrDefault("GUIDED_API_TOKEN", cfg.GuidedConfig.APIToken)
	cfg.GuidedConfig.Timeout = getEnvDurationOrDefault("GUIDED_TIMEOUT", cfg.GuidedConfig.Timeout)
	cfg.GuidedConfig.RetryCount = getEnvIntOrDefault("GUIDED_RETRY_COUNT", cfg.GuidedConfig.RetryCount)

	// LLM gateway
	cfg.LLMConfig.Provider = getEnvOrDefault("LLM_PROVIDER", cfg.LLMConfig.Provider)
	cfg.LLMConfig.APIKey = getEnvOrDefault("LLM_API_KEY", cfg.LLMConfig.APIKey)
	cfg.LLMConfig.Model = getEnvOrDefault("LLM_MODEL", cfg.LLMConfig.Model)
	cfg.LLMConfig.MaxTokens = getEnvIntOrDefault("LLM_MAX_TOKENS", cfg.LLMConfig.MaxTokens)
	cfg.LLMConfig.Temperature = getEnvFloatOrDefault("LLM_TEMPERATURE", cfg.LLMConfig.Temperature)
	cfg.LLMConfig.TimeoutSecs = getEnvIntOrDefault("LLM_TIMEOUT_SECS", cfg.LLMConfig.TimeoutSecs)

	// MCP bridge
	cfg.McpConfig.Enabled = getEnvBoolOrDefault("MCP_ENABLED", cfg.McpConfig.Enabled)
	cfg.McpConfig.BaseURL = getEnvOrDefault("MCP_BASE_URL", cfg.McpConfig.BaseURL)
	cfg.McpConfig.Timeout = getEnvDurationOrDefault("MCP_TIMEOUT", cfg.McpConfig.Timeout)

	// Autopilot
	ap := &cfg.AutopilotConfig
	ap.Enabled = getEnvBoolOrDefault("AUTOPILOT_ENABLED", ap.Enabled)
	ap.Interval = getEnvOrDefault("AUTOPILOT_INTERVAL", ap.Interval)
	ap.ConfirmInterval = getEnvOrDefault("AUTOPILOT_CONFIRM_INTERVAL", ap.ConfirmInterval)
	ap.TradingMode = getEnvOrDefault("AUTOPILOT_TRADING_MODE", ap.TradingMode)
	ap.AmountKrw = getEnvFloatOrDefault("AUTOPILOT_AMOUNT_KRW", ap.AmountKrw)
	ap.DailyLossLimitKrw = getEnvFloatOrDefault("AUTOPILOT_DAILY_LOSS_LIMIT_KRW", ap.DailyLossLimitKrw)
	ap.MaxConcurrentPositions = getEnvIntOrDefault("AUTOPILOT_MAX_CONCURRENT_POSITIONS", ap.MaxConcurrentPositions)
	ap.CandidateLimit = getEnvIntOrDefault("AUTOPILOT_CANDIDATE_LIMIT", ap.CandidateLimit)
	ap.RejectCooldownMs = getEnvInt64OrDefault("AUTOPILOT_REJECT_COOLDOWN_MS", ap.RejectCooldownMs)
	ap.PostExitCooldownMs = getEnvInt64OrDefault("AUTOPILOT_POST_EXIT_COOLDOWN_MS", ap.PostExitCooldownMs)
	ap.PendingEntryTimeoutMs = getEnvInt64OrDefault("AUTOPILOT_PENDING_ENTRY_TIMEOUT_MS", ap.PendingEntryTimeoutMs)
	ap.WorkerTickMs = getEnvInt64OrDefault("AUTOPILOT_WORKER_TICK_MS", ap.WorkerTickMs)
	ap.LlmReviewIntervalMs = getEnvInt64OrDefault("AUTOPILOT_LLM_REVIEW_INTERVAL_MS", ap.LlmReviewIntervalMs)
	ap.MinLlmConfidence = getEnvFloatOrDefault("AUTOPILOT_MIN_LLM_CONFIDENCE", ap.MinLlmConfidence)
	ap.EntryPolicy = getEnvOrDefault("AUTOPILOT_ENTRY_POLICY", ap.EntryPolicy)
	ap.EntryOrderMode = getEnvOrDefault("AUTOPILOT_ENTRY_ORDER_MODE", ap.EntryOrderMode)
	ap.MarketFallbackAfterCancel = getEnvBoolOrDefault("AUTOPILOT_MARKET_FALLBACK_AFTER_CANCEL", ap.MarketFallbackAfterCancel)
	ap.PlaywrightEnabled = getEnvBoolOrDefault("AUTOPILOT_PLAYWRIGHT_ENABLED", ap.PlaywrightEnabled)
	ap.LlmDailySoftCap = getEnvIntOrDefault("AUTOPILOT_LLM_DAILY_SOFT_CAP", ap.LlmDailySoftCap)
	ap.FocusedScalpEnabled = getEnvBoolOrDefault("AUTOPILOT_FOCUSED_SCALP_ENABLED", ap.FocusedScalpEnabled)
	ap.FocusedScalpMarkets = getEnvListOrDefault("AUTOPILOT_FOCUSED_SCALP_MARKETS", ap.FocusedScalpMarkets)
	ap.FocusedScalpPollIntervalMs = getEnvInt64OrDefault("AUTOPILOT_FOCUSED_SCALP_POLL_INTERVAL_MS", ap.FocusedScalpPollIntervalMs)
	ap.FocusedWarnHoldingMs = getEnvInt64OrDefault("AUTOPILOT_FOCUSED_WARN_HOLDING_MS", ap.FocusedWarnHoldingMs)
	ap.FocusedMaxHoldingMs = getEnvInt64OrDefault("AUTOPILOT_FOCUSED_MAX_HOLDING_MS", ap.FocusedMaxHoldingMs)
	ap.FocusedEntryGate = getEnvOrDefault("AUTOPILOT_FOCUSED_ENTRY_GATE", ap.FocusedEntryGate)
	ap.FineAgentEnabled = getEnvBoolOrDefault("AUTOPILOT_FINE_AGENT_ENABLED", ap.FineAgentEnabled)
	ap.FineAgentMaxPerTick = getEnvIntOrDefault("AUTOPILOT_FINE_AGENT_MAX_PER_TICK", ap.FineAgentMaxPerTick)
	ap.FineAgentDecisionTtlMs = getEnvInt64OrDefault("AUTOPILOT_FINE_AGENT_DECISION_TTL_MS", ap.FineAgentDecisionTtlMs)
	ap.FineAgentMode = getEnvOrDefault("AUTOPILOT_FINE_AGENT_MODE", ap.FineAgentMode)

	// Server
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("WEB_PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.ServerConfig.ShutdownTimeout)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DATABASE_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSL_MODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

// overlayFromFile unmarshals the JSON file over cfg; only fields present
// in the file are touched.
func overlayFromFile(cfg *Config, filename string) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
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

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func getEnvListOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
