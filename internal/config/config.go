// Package config defines the top-level configuration for the attestation
// service and provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTATTEST_* environment variables.
type Config struct {
	Attest   AttestConfig   `toml:"attest"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AttestConfig holds attestation parameters.
type AttestConfig struct {
	ChainID                uint64   `toml:"chain_id"`
	ChangeThresholdPercent float64  `toml:"change_threshold_percent"`
	LockTTL                duration `toml:"lock_ttl"`

	// ReattestOnAmbiguous attests anyway when the previous prediction cannot
	// be decoded. When false the ambiguity is returned to the caller.
	ReattestOnAmbiguous bool `toml:"reattest_on_ambiguous"`

	Chains []ChainConfig `toml:"chains"`
}

// ChainConfig adds or overrides one attestation-contract deployment.
type ChainConfig struct {
	ChainID   uint64 `toml:"chain_id"`
	Name      string `toml:"name"`
	Contract  string `toml:"contract"`
	SchemaUID string `toml:"schema_uid"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	KeyPrefix       string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IndexerConfig holds the EAS GraphQL indexer used to recover the last
// on-chain prediction when no local record exists.
type IndexerConfig struct {
	URL      string `toml:"url"`
	APIKey   string `toml:"api_key"`
	Attester string `toml:"attester"`
	Lookback int    `toml:"lookback"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	MetricsEnabled  bool     `toml:"metrics_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Attest: AttestConfig{
			ChainID:                8453,
			ChangeThresholdPercent: 10,
			ReattestOnAmbiguous:    true,
			LockTTL:                duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "predictattest:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictattest",
			ForcePathStyle: true,
		},
		Indexer: IndexerConfig{
			Lookback: 500,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			MetricsEnabled:  true,
		},
		Notify: NotifyConfig{
			Events: []string{"attestation_built", "error"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"offline": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, offline)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Attest
	if c.Attest.ChainID == 0 {
		errs = append(errs, "attest: chain_id must be positive")
	}
	th := c.Attest.ChangeThresholdPercent
	if math.IsNaN(th) || th < 0 || th > 100 {
		errs = append(errs, fmt.Sprintf("attest: change_threshold_percent must be within [0,100], got %v", th))
	}
	if c.Attest.LockTTL.Duration <= 0 {
		errs = append(errs, "attest: lock_ttl must be > 0")
	}
	for i, ch := range c.Attest.Chains {
		if ch.ChainID == 0 {
			errs = append(errs, fmt.Sprintf("attest.chains[%d]: chain_id must be positive", i))
		}
		if !common.IsHexAddress(ch.Contract) {
			errs = append(errs, fmt.Sprintf("attest.chains[%d]: contract %q is not a hex address", i, ch.Contract))
		}
		if ch.SchemaUID != "" {
			if b, err := hexutil.Decode(ch.SchemaUID); err != nil || len(b) != common.HashLength {
				errs = append(errs, fmt.Sprintf("attest.chains[%d]: schema_uid must be 0x-prefixed 32-byte hex", i))
			}
		}
	}

	if strings.ToLower(c.Mode) == "server" {
		// Postgres
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		// Redis
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Indexer
	if c.Indexer.Attester != "" && !common.IsHexAddress(c.Indexer.Attester) {
		errs = append(errs, fmt.Sprintf("indexer: attester %q is not a hex address", c.Indexer.Attester))
	}
	if c.Indexer.URL != "" && c.Indexer.Lookback < 1 {
		errs = append(errs, "indexer: lookback must be >= 1")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
