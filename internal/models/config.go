package models

// Config holds the application configuration
type Config struct {
	VK          VKConfig          `json:"vk" yaml:"vk"`
	Telegram    TelegramConfig    `json:"telegram" yaml:"telegram"`
	Database    DatabaseConfig    `json:"database" yaml:"database"`
	CursorStore CursorStoreConfig `json:"cursor_store" yaml:"cursor_store"`
	Scheduler   SchedulerConfig   `json:"scheduler" yaml:"scheduler"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Retry       RetryConfig       `json:"retry" yaml:"retry"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
}

// VKConfig holds VK API related configurations
type VKConfig struct {
	APIBaseURL     string `json:"api_base_url" yaml:"api_base_url"`
	APIVersion     string `json:"api_version" yaml:"api_version"`
	HTTPTimeoutSec int    `json:"http_timeout_sec" yaml:"http_timeout_sec"`
}

// TelegramConfig holds Telegram Bot API related configurations
type TelegramConfig struct {
	APIBaseURL     string `json:"api_base_url" yaml:"api_base_url"`
	BotToken       string `json:"bot_token" yaml:"bot_token"`
	AdminChatID    int64  `json:"admin_chat_id" yaml:"admin_chat_id"`
	HTTPTimeoutSec int    `json:"http_timeout_sec" yaml:"http_timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// CursorStoreConfig selects where long-poll cursors are kept
type CursorStoreConfig struct {
	Backend  string `json:"backend" yaml:"backend"` // "sqlite" or "redis"
	RedisURL string `json:"redis_url" yaml:"redis_url"`
}

// SchedulerConfig controls the per-account polling cadence
type SchedulerConfig struct {
	IntervalSec         int `json:"interval_sec" yaml:"interval_sec"`
	LongPollWaitSec     int `json:"long_poll_wait_sec" yaml:"long_poll_wait_sec"`
	LongPollGraceSec    int `json:"long_poll_grace_sec" yaml:"long_poll_grace_sec"`
	CursorMaxAgeMinutes int `json:"cursor_max_age_minutes" yaml:"cursor_max_age_minutes"`
	MaxExceptionCount   int `json:"max_exception_count" yaml:"max_exception_count"`
}

// CacheConfig bounds the loader caches
type CacheConfig struct {
	MaxEntries int `json:"max_entries" yaml:"max_entries"`
	TTLSec     int `json:"ttl_sec" yaml:"ttl_sec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts" yaml:"maxAttempts"`
}

// ServerConfig holds the admin HTTP server settings
type ServerConfig struct {
	Port       int    `json:"port" yaml:"port"`
	AdminToken string `json:"admin_token" yaml:"admin_token"`
	// TrustProxy makes request logging use X-Forwarded-For / X-Real-IP
	TrustProxy bool   `json:"trust_proxy" yaml:"trust_proxy"`
}

// TracingConfig mirrors tracing.TracingConfig for file based configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
