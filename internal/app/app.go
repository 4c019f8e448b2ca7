// Package app runs the arbitrage engine: it wires venue clients and the
// optional redis, postgres and S3 backends, then supervises one monitor per
// configured pair in trade or monitor mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/dexarb/internal/config"
)

// App owns the configuration, the logger and the cleanup of whatever Wire
// opened.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	closeOnce sync.Once
}

// New creates an App from a validated configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled. Close releases what Run opened.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("dry_run", a.cfg.DryRun()),
		slog.Int("pairs", len(a.cfg.Pairs)),
	)
	for _, p := range a.cfg.DomainPairs() {
		a.logger.InfoContext(ctx, "pair configured",
			slog.String("pair", p.Symbol),
			slog.String("fast", p.Fast.ID+" ("+string(p.Fast.Kind)+")"),
			slog.String("slow", p.Slow.ID+" ("+string(p.Slow.Kind)+")"),
			slog.Float64("threshold", p.Threshold),
			slog.Float64("epsilon", p.Epsilon),
		)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if a.cfg.DryRun() {
		return a.MonitorMode(ctx, deps)
	}
	return a.TradeMode(ctx, deps)
}

// Close runs the cleanup functions in reverse order. Only the first call
// has any effect.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down engine", slog.Int("closers", len(a.closers)))
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		a.closers = nil
	})
}
