package config

import (
	"time"

	"github.com/joho/godotenv"

	pkgconfig "tastygate/pkg/config"
)

// Config holds the core runtime configuration for a service instance.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "tastygate"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // service HTTP port

	DatabaseURL string // optional; empty means in-memory credential store
	RedisAddr   string // optional; empty disables the credential hot cache
	RedisDB     int
	RedisPass   string
	NATSURL     string // optional; empty disables lifecycle events
	AWSRegion   string // for the Secrets Manager seed, when enabled

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	RedisCredTTL time.Duration // TTL for the Redis credential hot cache

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Upstream (Tastytrade) settings.
	Sandbox         bool          // use the cert (sandbox) environment
	UpstreamTimeout time.Duration // per-call HTTP timeout

	// Shared token bucket for all upstream calls. The ceiling is enforced
	// upstream per calling identity, so this is process-wide, not per-tenant.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Session refresh scheduling.
	RefreshInterval time.Duration // scheduler tick
	RefreshBuffer   time.Duration // refresh sessions expiring within tick+buffer

	ContextCacheTTL  time.Duration // TTL for (tenant, account) context entries
	CacheCleanupFreq time.Duration // sweep interval for expired context entries

	// Admin surface. Empty token leaves the admin endpoints open (dev only).
	AdminToken string

	// Bootstrap seeds.
	DefaultTenantKey      string // tenant key for the implicit single-tenant seed
	DefaultClientSecret   string
	DefaultRefreshToken   string
	DefaultAccountID      string
	BulkCredentialsJSON   string // map of tenant_key -> {client_secret, refresh_token}
	SeedFromAWS           bool   // discover tenants under {env}/{tenant}/tastytrade
	OutboundSubjectPrefix string // NATS subject prefix for lifecycle events
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "tastygate"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),
		Port:        pkgconfig.GetEnvInt("PORT", 9040),

		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),
		RedisAddr:   pkgconfig.GetEnv("REDIS_ADDR", ""),
		RedisDB:     pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass:   pkgconfig.GetEnv("REDIS_PASS", ""),
		NATSURL:     pkgconfig.GetEnv("NATS_URL", ""),
		AWSRegion:   pkgconfig.GetEnv("AWS_REGION", "us-east-2"),

		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		RedisCredTTL: pkgconfig.GetEnvDuration("REDIS_CRED_TTL", 10*time.Minute),

		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		Sandbox:         pkgconfig.GetEnvBool("TASTYTRADE_SANDBOX", false) || pkgconfig.GetEnvBool("TASTYTRADE_PAPER_MODE", false),
		UpstreamTimeout: pkgconfig.GetEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),

		RateLimitPerSecond: pkgconfig.GetEnvFloat("RATE_LIMIT_PER_SECOND", 2),
		RateLimitBurst:     pkgconfig.GetEnvInt("RATE_LIMIT_BURST", 2),

		RefreshInterval: pkgconfig.GetEnvDuration("REFRESH_INTERVAL", 5*time.Minute),
		RefreshBuffer:   pkgconfig.GetEnvDuration("REFRESH_BUFFER", 10*time.Minute),

		ContextCacheTTL:  pkgconfig.GetEnvDuration("CONTEXT_CACHE_TTL", 30*time.Minute),
		CacheCleanupFreq: pkgconfig.GetEnvDuration("CACHE_CLEANUP_FREQ", 5*time.Minute),

		AdminToken: pkgconfig.GetEnv("ADMIN_TOKEN", ""),

		DefaultTenantKey:      pkgconfig.GetEnv("API_KEY", "default"),
		DefaultClientSecret:   pkgconfig.GetEnv("TASTYTRADE_CLIENT_SECRET", ""),
		DefaultRefreshToken:   pkgconfig.GetEnv("TASTYTRADE_REFRESH_TOKEN", ""),
		DefaultAccountID:      pkgconfig.GetEnv("TASTYTRADE_ACCOUNT_ID", ""),
		BulkCredentialsJSON:   pkgconfig.GetEnv("TASTYTRADE_CREDENTIALS_JSON", ""),
		SeedFromAWS:           pkgconfig.GetEnvBool("SEED_FROM_AWS", false),
		OutboundSubjectPrefix: pkgconfig.GetEnv("OUTBOUND_SUBJECT_PREFIX", "evt.tastygate"),
	}

	return cfg
}
