// Package server exposes the exchange over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/curveswap/internal/domain"
	"github.com/alanyoungcy/curveswap/internal/metrics"
	"github.com/alanyoungcy/curveswap/internal/server/handler"
	"github.com/alanyoungcy/curveswap/internal/server/middleware"
	"github.com/alanyoungcy/curveswap/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	RequireSignatures bool
	SignatureMaxSkew  time.Duration

	RateLimit  int
	RateWindow time.Duration

	IdempotencyTTL time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Pools      *handler.PoolHandler
	Router     *handler.RouterHandler
	Governance *handler.GovernanceHandler
	Assets     *handler.AssetHandler
	Events     *handler.EventHandler
}

// Deps are the optional collaborators of the middleware chain.
type Deps struct {
	Metrics *metrics.Metrics
	Limiter domain.RateLimiter
	Hub     *ws.Hub
}

// Server is the HTTP + WebSocket API server of the exchange.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered and the
// middleware chain applied.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.NewIdempotency(cfg.IdempotencyTTL).Middleware(h)
	h = middleware.Caller(middleware.CallerConfig{
		RequireSignatures: cfg.RequireSignatures,
		MaxSkew:           cfg.SignatureMaxSkew,
	})(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	if deps.Metrics != nil {
		h = deps.Metrics.InstrumentHandler(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, h Handlers) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Pools.
	mux.HandleFunc("GET /api/pools", h.Pools.ListPools)
	mux.HandleFunc("POST /api/pools", h.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{addr}", h.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{addr}/quote", h.Pools.Quote)
	mux.HandleFunc("POST /api/pools/{addr}/spot-price", h.Pools.SetSpotPrice)
	mux.HandleFunc("POST /api/pools/{addr}/delta", h.Pools.SetDelta)
	mux.HandleFunc("POST /api/pools/{addr}/fee", h.Pools.SetFee)
	mux.HandleFunc("POST /api/pools/{addr}/asset-recipient", h.Pools.SetAssetRecipient)
	mux.HandleFunc("POST /api/pools/{addr}/owner", h.Pools.TransferOwnership)
	mux.HandleFunc("POST /api/pools/{addr}/deposit", h.Pools.Deposit)
	mux.HandleFunc("POST /api/pools/{addr}/withdraw", h.Pools.Withdraw)

	// Router.
	mux.HandleFunc("POST /api/router/buy", h.Router.Buy)
	mux.HandleFunc("POST /api/router/sell", h.Router.Sell)

	// Governance.
	mux.HandleFunc("GET /api/governance", h.Governance.GetGovernance)
	mux.HandleFunc("POST /api/governance/curves", h.Governance.SetCurve)
	mux.HandleFunc("POST /api/governance/routers", h.Governance.SetRouter)
	mux.HandleFunc("POST /api/governance/protocol-fee", h.Governance.SetProtocolFee)
	mux.HandleFunc("POST /api/governance/protocol-fee-recipient", h.Governance.SetProtocolFeeRecipient)
	mux.HandleFunc("POST /api/governance/authorize", h.Governance.Authorize)
	mux.HandleFunc("POST /api/governance/unauthorize", h.Governance.Unauthorize)
	mux.HandleFunc("POST /api/governance/override", h.Governance.SetOverride)
	mux.HandleFunc("POST /api/governance/admin", h.Governance.TransferAdmin)

	// Assets.
	mux.HandleFunc("POST /api/assets/{addr}/mint", h.Assets.Mint)
	mux.HandleFunc("POST /api/assets/{addr}/approve", h.Assets.Approve)
	mux.HandleFunc("GET /api/assets/{addr}/balance/{owner}", h.Assets.Balance)

	// Events.
	mux.HandleFunc("GET /api/events", h.Events.ListEvents)
	mux.HandleFunc("GET /api/events/stream", h.Events.Stream)
	mux.HandleFunc("GET /api/audit", h.Events.ListAudit)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
