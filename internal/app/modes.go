package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/allowance"
	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	s3blob "github.com/alanyoungcy/dexarb/internal/blob/s3"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/server"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

// TradeMode runs every pair monitor and submits both legs of each
// profitable opportunity.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	if deps.Signer == nil {
		return errors.New("app: trade mode needs an identity")
	}
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runEngine(ctx, deps, false)
}

// MonitorMode runs every pair monitor but only plans executions: legs are
// recorded and alerted as dry runs, nothing is submitted.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, true)
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, dryRun bool) error {
	g, ctx := errgroup.WithContext(ctx)
	pairs := a.cfg.DomainPairs()

	alerter := NewAlerter(a.cfg, deps, a.logger)
	g.Go(func() error {
		return alerter.Run(ctx)
	})

	coord := executor.New(executor.Config{
		Venues:           deps.Venues,
		Alerts:           alerter,
		Store:            deps.Executions,
		Bus:              deps.EventBus,
		Journal:          deps.Journal,
		MinReceiveFactor: a.cfg.Trade.MinReceiveFactor,
		DedupTTL:         a.cfg.Trade.DedupTTL.Duration,
		DryRun:           dryRun,
		Logger:           a.logger,
	})

	var locks domain.LockManager
	if a.cfg.Trade.UseLocks {
		locks = deps.LockManager
	}
	sup := arbitrage.NewSupervisor(arbitrage.SupervisorConfig{
		Pairs: pairs,
		NewRunner: func(pair domain.Pair) arbitrage.Runner {
			return arbitrage.NewMonitor(arbitrage.MonitorConfig{
				Pair:         pair,
				Venues:       deps.Venues,
				Executor:     coord,
				Alerts:       alerter,
				Mirror:       deps.Mirror,
				LoopInterval: a.cfg.Trade.LoopInterval.Duration,
				Cooldown:     a.cfg.Trade.Cooldown.Duration,
				SlowMaxAge:   a.cfg.Trade.SlowMaxAge.Duration,
				SlowTimeout:  a.cfg.Trade.SlowTimeout.Duration,
				Logger:       a.logger,
			})
		},
		Alerts:          alerter,
		RestartCooldown: a.cfg.Trade.RestartCooldown.Duration,
		Locks:           locks,
		LockTTL:         a.cfg.Trade.LockTTL.Duration,
		Logger:          a.logger,
	})
	g.Go(func() error {
		return sup.Run(ctx)
	})

	if a.cfg.Allowance.Enabled && !dryRun {
		keeper := allowance.New(allowance.Config{
			Owner:      deps.Signer.Principal(),
			Targets:    allowance.Targets(pairs, a.cfg.Allowance.TargetFactor),
			Ledger:     deps.Ledger,
			Alerts:     alerter,
			Audit:      deps.Audit,
			Interval:   a.cfg.Allowance.Interval.Duration,
			TopUpRatio: a.cfg.Allowance.TopUpRatio,
			Logger:     a.logger,
		})
		g.Go(func() error {
			return keeper.Run(ctx)
		})
	}

	if deps.Compactor != nil && a.cfg.S3.CompactInterval.Duration > 0 {
		g.Go(func() error {
			return a.runCompaction(ctx, deps.Compactor, a.cfg.S3.CompactInterval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, sup, pairs)
	}

	return g.Wait()
}

// runCompaction rolls the previous UTC day's journal into one archive
// object, at start and then every interval.
func (a *App) runCompaction(ctx context.Context, c *s3blob.Compactor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		day := time.Now().UTC().AddDate(0, 0, -1)
		n, err := c.Compact(ctx, day)
		switch {
		case err != nil && ctx.Err() == nil:
			a.logger.WarnContext(ctx, "journal compaction failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		case n > 0:
			a.logger.InfoContext(ctx, "journal compacted",
				slog.String("day", day.Format("2006-01-02")),
				slog.Int("records", n),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// startHTTPServer registers the read-only API and its shutdown hook on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sup *arbitrage.Supervisor, pairs []domain.Pair) {
	health := handler.NewHealthHandler(a.logger)
	if deps.Redis != nil {
		health.WithCheck("redis", deps.Redis.Ping)
	}
	if deps.Postgres != nil {
		health.WithCheck("postgres", deps.Postgres.Pool().Ping)
	}
	if deps.S3 != nil {
		health.WithCheck("s3", deps.S3.Health)
	}

	execs := handler.NewExecutionsHandler(deps.Executions, a.logger)
	if deps.Audit != nil {
		execs.WithAuditLog(deps.Audit)
	}
	if deps.Executions == nil && deps.EventBus != nil {
		execs.WithEventLog(deps.EventBus)
	}

	var hub *ws.Hub
	if deps.EventBus != nil {
		symbols := make([]string, 0, len(pairs))
		for _, p := range pairs {
			symbols = append(symbols, p.Symbol)
		}
		hub = ws.NewHub(deps.EventBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			Pairs:     symbols,
			StartedAt: time.Now().UTC(),
			ReplayAge: time.Hour,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     health,
		Pairs:      handler.NewPairsHandler(sup, a.cfg.Mode, a.logger),
		Executions: execs,
	}, hub, a.logger)

	// The status API is optional: a bind failure is reported and the
	// monitors keep running without it.
	g.Go(func() error {
		if err := srv.Start(); err != nil {
			a.logger.ErrorContext(ctx, "status server stopped",
				slog.Int("port", a.cfg.Server.Port),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
