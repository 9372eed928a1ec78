package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictattest/internal/attest"
	s3blob "github.com/alanyoungcy/predictattest/internal/blob/s3"
	"github.com/alanyoungcy/predictattest/internal/domain"
	"github.com/alanyoungcy/predictattest/internal/server"
	"github.com/alanyoungcy/predictattest/internal/server/handler"
	"github.com/alanyoungcy/predictattest/internal/server/ws"
	"github.com/alanyoungcy/predictattest/internal/service"
)

// ServerMode runs the HTTP API and websocket hub backed by PostgreSQL, Redis
// and the optional archive, indexer and notification backends.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	hub := ws.NewHub(deps.SignalBus, a.logger, a.hubConfig())
	svcDeps := service.Deps{
		Store: deps.AttestationStore,
		Cache: deps.PredictionCache,
		Locks: deps.LockManager,
		Blobs: deps.BlobWriter,
		Bus:   deps.SignalBus,
		Audit: deps.AuditStore,
	}
	if deps.Indexer != nil {
		svcDeps.Index = deps.Indexer
	}
	return a.serve(ctx, deps, hub, svcDeps, deps.RateLimiter)
}

// OfflineMode runs the HTTP API without any external store. Every request is
// treated as a first attestation and events go straight to websocket clients.
func (a *App) OfflineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting offline mode")

	hub := ws.NewHub(nil, a.logger, a.hubConfig())
	return a.serve(ctx, deps, hub, service.Deps{Bus: hub.LocalBus()}, nil)
}

func (a *App) serve(ctx context.Context, deps *Dependencies, hub *ws.Hub, svcDeps service.Deps, limiter domain.RateLimiter) error {
	registry, err := ChainRegistry(a.cfg)
	if err != nil {
		return err
	}
	svcDeps.Builder = attest.NewBuilder(registry)
	svcDeps.Metrics = deps.Metrics
	if deps.Notifier != nil {
		svcDeps.Notifier = deps.Notifier
	}

	var attester common.Address
	if a.cfg.Indexer.Attester != "" {
		attester = common.HexToAddress(a.cfg.Indexer.Attester)
	}
	svc := service.NewAttestationService(service.Settings{
		DefaultChainID:      a.cfg.Attest.ChainID,
		ThresholdPercent:    a.cfg.Attest.ChangeThresholdPercent,
		ReattestOnAmbiguous: a.cfg.Attest.ReattestOnAmbiguous,
		LockTTL:             a.cfg.Attest.LockTTL.Duration,
		Attester:            attester,
	}, svcDeps, a.logger)

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(a.cfg.Mode, deps.Health, a.logger),
		Chains:       handler.NewChainHandler(registry, a.cfg.Attest.ChainID),
		Codec:        handler.NewCodecHandler(),
		Attestations: handler.NewAttestationHandler(svc, a.logger),
		Metrics:      deps.Metrics,
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, deps.BlobReader, s3blob.ArchivePrefix, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, limiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	err = g.Wait()
	a.logger.Info("mode stopped", slog.String("mode", a.cfg.Mode))
	return err
}

func (a *App) hubConfig() ws.Config {
	return ws.Config{
		Mode:           a.cfg.Mode,
		DefaultChainID: a.cfg.Attest.ChainID,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}
}
