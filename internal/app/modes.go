package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optfolio/opttracker/internal/engine"
	"github.com/optfolio/opttracker/internal/server"
	"github.com/optfolio/opttracker/internal/server/handler"
	"github.com/optfolio/opttracker/internal/server/ws"
	"github.com/optfolio/opttracker/internal/service"
)

// ServerMode runs the HTTP + WebSocket API on top of the position service.
// It blocks until the context is cancelled or a component fails.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the periodic archive loop, moving closed positions
// and old audit entries to object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires S3 storage to be configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API server and the archive loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	if a.cfg.Archive.Enabled {
		if deps.Archiver == nil {
			return fmt.Errorf("app: archive loop requires S3 storage to be configured")
		}
		a.startArchiveLoop(ctx, g, deps)
	}
	return g.Wait()
}

// newPositionService builds the position service shared by all modes.
func (a *App) newPositionService(deps *Dependencies) *service.PositionService {
	eng := engine.New(a.logger)
	return service.NewPositionService(
		deps.Positions,
		deps.Operations,
		deps.Audit,
		deps.LockManager,
		deps.SignalBus,
		eng,
		deps.Notifier,
		a.cfg.Engine.LockTTL.Duration,
		a.logger,
	)
}

// startHTTPServer adds the WebSocket hub and the HTTP server goroutines to
// the given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	svc := a.newPositionService(deps)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:     handler.NewHealthHandler(a.logger),
			Positions:  handler.NewPositionHandler(svc, a.logger),
			Operations: handler.NewOperationHandler(svc, a.logger),
			Audit:      handler.NewAuditHandler(svc, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop adds a goroutine that periodically archives closed
// positions and old audit entries to blob storage. The retention window
// determines the cutoff; each pass archives everything older than it.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		a.logger.InfoContext(ctx, "archive loop started",
			slog.Duration("interval", interval),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchivePass(ctx, deps, retention)
			}
		}
	})
}

// runArchivePass executes one archival sweep. Failures are logged, not
// fatal; the next tick retries.
func (a *App) runArchivePass(ctx context.Context, deps *Dependencies, retention time.Duration) {
	cutoff := time.Now().UTC().Add(-retention)

	n, err := deps.Archiver.ArchiveClosedPositions(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive closed positions failed",
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "archived closed positions",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}

	n, err = deps.Archiver.ArchiveAuditLog(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive audit log failed",
			slog.String("error", err.Error()),
		)
	} else if n > 0 {
		a.logger.InfoContext(ctx, "archived audit entries",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
}
