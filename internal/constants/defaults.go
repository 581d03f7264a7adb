package constants

// Default polling configuration values
const (
	DefaultSchedulerIntervalSec   = 20
	DefaultLongPollWaitSec        = 25
	DefaultLongPollGraceSec       = 10
	DefaultCursorMaxAgeMinutes    = 58
	DefaultMaxExceptionCount      = 5
	DefaultLongPollMode           = 2
	DefaultLongPollVersion        = 3
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultServerPort             = 8082
	DefaultCursorStoreBackend     = "sqlite"
	CursorStoreBackendRedis       = "redis"
	DefaultVKAPIBaseURL           = "https://api.vk.com/method"
	DefaultVKAPIVersion           = "5.131"
	DefaultTelegramAPIBaseURL     = "https://api.telegram.org"
	DefaultCacheMaxEntries        = 10000
	DefaultCacheTTLSec            = 12000
	DefaultTelegramMediaGroupSize = 10
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec         = 30
	DefaultDatabaseRetryAttempts  = 3
	DefaultGracefulShutdownSec    = 30
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultCircuitBreakerFailures = 5
	DefaultCircuitBreakerResetSec = 30
)

// Privacy settings
const (
	DefaultTokenVisibleChars = 4
	DefaultIDVisibleChars    = 3
)

// Encryption settings
const (
	EncryptionSalt = "forwardbot-token-salt-v1"
)
