package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTATTEST_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTATTEST_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Attest ──
	setUint64(&cfg.Attest.ChainID, "PREDICTATTEST_ATTEST_CHAIN_ID")
	setFloat64(&cfg.Attest.ChangeThresholdPercent, "PREDICTATTEST_ATTEST_CHANGE_THRESHOLD_PERCENT")
	setBool(&cfg.Attest.ReattestOnAmbiguous, "PREDICTATTEST_ATTEST_REATTEST_ON_AMBIGUOUS")
	setDuration(&cfg.Attest.LockTTL, "PREDICTATTEST_ATTEST_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDICTATTEST_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTATTEST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTATTEST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTATTEST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTATTEST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTATTEST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTATTEST_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTATTEST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTATTEST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTATTEST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREDICTATTEST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTATTEST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTATTEST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTATTEST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTATTEST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTATTEST_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "PREDICTATTEST_REDIS_CACHE_TTL_MINUTES")
	setStr(&cfg.Redis.KeyPrefix, "PREDICTATTEST_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTATTEST_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTATTEST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTATTEST_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTATTEST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTATTEST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTATTEST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTATTEST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTATTEST_S3_FORCE_PATH_STYLE")

	// ── Indexer ──
	setStr(&cfg.Indexer.URL, "PREDICTATTEST_INDEXER_URL")
	setStr(&cfg.Indexer.APIKey, "PREDICTATTEST_INDEXER_API_KEY")
	setStr(&cfg.Indexer.Attester, "PREDICTATTEST_INDEXER_ATTESTER")
	setInt(&cfg.Indexer.Lookback, "PREDICTATTEST_INDEXER_LOOKBACK")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDICTATTEST_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PREDICTATTEST_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTATTEST_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PREDICTATTEST_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "PREDICTATTEST_SERVER_RATE_LIMIT_WINDOW")
	setBool(&cfg.Server.MetricsEnabled, "PREDICTATTEST_SERVER_METRICS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTATTEST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTATTEST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTATTEST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTATTEST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTATTEST_MODE")
	setStr(&cfg.LogLevel, "PREDICTATTEST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
