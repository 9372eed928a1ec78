// Package server exposes the attestation service over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictattest/internal/domain"
	"github.com/alanyoungcy/predictattest/internal/metrics"
	"github.com/alanyoungcy/predictattest/internal/server/handler"
	"github.com/alanyoungcy/predictattest/internal/server/middleware"
	"github.com/alanyoungcy/predictattest/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects every route except /api/health and /metrics. Empty
	// disables auth.
	APIKey string

	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers are the route handlers. Archive and Audit may be nil when their
// backing store is not configured.
type Handlers struct {
	Health       *handler.HealthHandler
	Chains       *handler.ChainHandler
	Codec        *handler.CodecHandler
	Attestations *handler.AttestationHandler
	Archive      *handler.ArchiveHandler
	Audit        *handler.AuditHandler
	// Metrics, when set, is exported on /metrics and fed by every request.
	Metrics *metrics.Metrics
}

// Server is the HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in CORS, logging, rate limit and
// auth middleware, outermost first. limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, h, hub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http")),
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/chains", h.Chains.ListChains)

	mux.HandleFunc("POST /api/codec/encode", h.Codec.Encode)
	mux.HandleFunc("POST /api/codec/decode", h.Codec.Decode)

	mux.HandleFunc("POST /api/attestations", h.Attestations.Prepare)
	mux.HandleFunc("POST /api/attestations/decide", h.Attestations.Decide)
	mux.HandleFunc("GET /api/attestations", h.Attestations.List)

	if h.Archive != nil {
		mux.HandleFunc("POST /api/archive", h.Archive.Archive)
		mux.HandleFunc("GET /api/archive", h.Archive.ListArchives)
	}
	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.List)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(out)
	if limiter != nil && cfg.RateLimit > 0 {
		out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(out)
	}
	out = middleware.Metrics(h.Metrics)(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
