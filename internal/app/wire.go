package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/predictattest/internal/blob/s3"
	"github.com/alanyoungcy/predictattest/internal/cache/redis"
	"github.com/alanyoungcy/predictattest/internal/config"
	"github.com/alanyoungcy/predictattest/internal/domain"
	"github.com/alanyoungcy/predictattest/internal/metrics"
	"github.com/alanyoungcy/predictattest/internal/notify"
	"github.com/alanyoungcy/predictattest/internal/platform/eas"
	"github.com/alanyoungcy/predictattest/internal/server/handler"
	"github.com/alanyoungcy/predictattest/internal/store/postgres"
)

// Operating modes.
const (
	ModeServer  = "server"
	ModeOffline = "offline"
)

// Dependencies bundles everything the modes need. Fields for backends that
// the mode or configuration leaves out are nil.
type Dependencies struct {
	// Stores
	AttestationStore domain.AttestationStore
	AuditStore       domain.AuditStore

	// Caches
	PredictionCache domain.PredictionCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// On-chain history
	Indexer *eas.Client

	// Notifications
	Notifier *notify.Notifier

	// Prometheus collectors; nil when disabled.
	Metrics *metrics.Metrics

	// Health probes keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// Wire constructs the concrete implementations for cfg.Mode and returns them
// with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}
	server := strings.ToLower(cfg.Mode) == ModeServer

	// --- PostgreSQL ---
	if server {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pg.Pool()
		deps.AttestationStore = postgres.NewAttestationStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pg.Ping
	}

	// --- Redis ---
	if server {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		ttl := time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
		deps.PredictionCache = redis.NewPredictionCache(rc, ttl)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Health["redis"] = rc.Ping
	}

	// --- S3 archive ---
	if server && cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(sc)
		deps.BlobReader = s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.AttestationStore, deps.AuditStore)
		deps.Health["s3"] = sc.Health
	}

	// --- EAS indexer ---
	if server && cfg.Indexer.URL != "" {
		deps.Indexer = eas.NewClient(cfg.Indexer.URL, cfg.Indexer.APIKey, cfg.Indexer.Lookback, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Metrics ---
	if cfg.Server.MetricsEnabled {
		deps.Metrics = metrics.NewDefault()
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", deps.AttestationStore != nil),
		slog.Bool("redis", deps.PredictionCache != nil),
		slog.Bool("s3", deps.BlobWriter != nil),
		slog.Bool("indexer", deps.Indexer != nil),
		slog.Int("notify_senders", len(senders)),
		slog.Bool("metrics", deps.Metrics != nil),
	)
	return deps, cleanup, nil
}
