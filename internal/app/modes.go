package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/curveswap/internal/pipeline"
	"github.com/alanyoungcy/curveswap/internal/server"
	"github.com/alanyoungcy/curveswap/internal/server/handler"
	"github.com/alanyoungcy/curveswap/internal/server/ws"
	"github.com/alanyoungcy/curveswap/internal/service"
)

// ServeMode runs the exchange behind the HTTP and WebSocket API. Committed
// events reach Redis only.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// FullMode is ServeMode plus Postgres persistence and the scheduled S3
// archive.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays,
			a.logger.With(slog.String("component", "archiver")))
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	} else {
		a.logger.InfoContext(ctx, "archive disabled")
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// startHTTPServer registers the API server, its WebSocket hub and the
// graceful shutdown on g. It does nothing when the server is disabled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	ex := deps.Exchange
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Checks),
		Pools:      handler.NewPoolHandler(ex, a.logger),
		Router:     handler.NewRouterHandler(ex, a.logger),
		Governance: handler.NewGovernanceHandler(ex, a.logger),
		Assets:     handler.NewAssetHandler(ex, a.logger),
		Events:     handler.NewEventHandler(deps.EventStore, deps.SignalBus, deps.AuditStore, service.EventStream, a.logger),
	}

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:              sc.Port,
		CORSOrigins:       sc.CORSOrigins,
		APIKey:            sc.APIKey,
		RequireSignatures: sc.RequireSignatures,
		SignatureMaxSkew:  sc.SignatureMaxSkew.Duration,
		RateLimit:         sc.RateLimit,
		RateWindow:        sc.RateWindow.Duration,
		IdempotencyTTL:    sc.IdempotencyTTL.Duration,
	}, handlers, server.Deps{
		Metrics: deps.Metrics,
		Limiter: deps.RateLimiter,
		Hub:     hub,
	}, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
