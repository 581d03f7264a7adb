package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"forwardbot/internal/constants"
	"forwardbot/internal/models"
	"forwardbot/internal/security"
	"forwardbot/internal/validation"

	"gopkg.in/yaml.v3"
)

var (
	ErrMissingBotToken   = models.ConfigError{Message: "missing Telegram bot token"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingRedisURL   = models.ConfigError{Message: "redis cursor store requires redis_url"}
	ErrUnknownCursorKind = models.ConfigError{Message: "unknown cursor store backend"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(file, &config)
	default:
		err = json.Unmarshal(file, &config)
	}
	if err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Telegram.BotToken == "" {
		return ErrMissingBotToken
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	switch c.CursorStore.Backend {
	case constants.DefaultCursorStoreBackend:
	case constants.CursorStoreBackendRedis:
		if c.CursorStore.RedisURL == "" {
			return ErrMissingRedisURL
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("%s: %q", ErrUnknownCursorKind.Message, c.CursorStore.Backend)}
	}

	// VK caps the long-poll wait at 90 seconds
	if err := validation.ValidateNumericRange(c.Scheduler.LongPollWaitSec, "scheduler.long_poll_wait_sec", 1, 90); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateTimeout(c.VK.HTTPTimeoutSec, "vk.http_timeout_sec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateTimeout(c.Telegram.HTTPTimeoutSec, "telegram.http_timeout_sec"); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	return nil
}

func applyDefaults(c *models.Config) {
	if c.VK.APIBaseURL == "" {
		c.VK.APIBaseURL = constants.DefaultVKAPIBaseURL
	}
	if c.VK.APIVersion == "" {
		c.VK.APIVersion = constants.DefaultVKAPIVersion
	}
	if c.VK.HTTPTimeoutSec <= 0 {
		c.VK.HTTPTimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = constants.DefaultTelegramAPIBaseURL
	}
	if c.Telegram.HTTPTimeoutSec <= 0 {
		c.Telegram.HTTPTimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.CursorStore.Backend == "" {
		c.CursorStore.Backend = constants.DefaultCursorStoreBackend
	}

	if c.Scheduler.IntervalSec <= 0 {
		c.Scheduler.IntervalSec = constants.DefaultSchedulerIntervalSec
	}
	if c.Scheduler.LongPollWaitSec <= 0 {
		c.Scheduler.LongPollWaitSec = constants.DefaultLongPollWaitSec
	}
	if c.Scheduler.LongPollGraceSec <= 0 {
		c.Scheduler.LongPollGraceSec = constants.DefaultLongPollGraceSec
	}
	if c.Scheduler.CursorMaxAgeMinutes <= 0 {
		c.Scheduler.CursorMaxAgeMinutes = constants.DefaultCursorMaxAgeMinutes
	}
	if c.Scheduler.MaxExceptionCount <= 0 {
		c.Scheduler.MaxExceptionCount = constants.DefaultMaxExceptionCount
	}

	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = constants.DefaultCacheMaxEntries
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = constants.DefaultCacheTTLSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "forwardbot"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: Bot tokens should be set via environment variables
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if raw := os.Getenv("FORWARDBOT_ADMIN_CHAT_ID"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			c.Telegram.AdminChatID = id
		} else {
			fmt.Fprintf(os.Stderr, "WARNING: ignoring invalid FORWARDBOT_ADMIN_CHAT_ID %q\n", raw)
		}
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		c.CursorStore.RedisURL = url
	}
	if url := os.Getenv("VK_API_URL"); url != "" {
		c.VK.APIBaseURL = url
	}
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("FORWARDBOT_ENV") == "production"

	if isProduction {
		if c.Server.AdminToken == "" {
			return models.ConfigError{Message: "server.admin_token is required in production"}
		}
		if len(c.Server.AdminToken) < 32 {
			return models.ConfigError{Message: "server.admin_token must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Server.AdminToken == "" {
		fmt.Fprintf(os.Stderr, "WARNING: admin API token not set. The admin API is unauthenticated.\n")
	}

	if c.Telegram.AdminChatID == 0 {
		fmt.Fprintf(os.Stderr, "WARNING: no admin chat configured. Operator alerts go to the websocket stream only.\n")
	}

	return nil
}
