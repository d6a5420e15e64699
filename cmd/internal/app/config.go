package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisAddr enables Redis-backed rotation rate counters so all
	// instances behind a load balancer share one budget. Empty means
	// per-process in-memory counters.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SweepInterval controls the periodic expired-credential sweep.
	// Zero or negative disables it.
	SweepInterval time.Duration

	// CORS allowlist for browser clients. Empty disables CORS handling.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, BASTION_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// credential hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BASTION_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BASTION_LOG_LEVEL", "info"),
		LogFormat: EnvString("BASTION_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BASTION_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BASTION_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BASTION_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BASTION_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BASTION_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BASTION_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BASTION_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BASTION_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("BASTION_REDIS_ADDR", ""),
		RedisPassword: EnvString("BASTION_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("BASTION_REDIS_DB", 0),

		SweepInterval: EnvDuration("BASTION_SWEEP_INTERVAL", 10*time.Minute),

		CORSAllowedOrigins:   EnvStringSlice("BASTION_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("BASTION_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BASTION_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("BASTION_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("BASTION_REQUIRE_TOKEN_HMAC", false),
	}
}
