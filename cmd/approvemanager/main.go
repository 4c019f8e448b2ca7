// Command approvemanager keeps the ICRC-2 allowances every configured pair
// needs topped up. With -once it runs a single round and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/dexarb/internal/allowance"
	"github.com/alanyoungcy/dexarb/internal/app"
	"github.com/alanyoungcy/dexarb/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	once := flag.Bool("once", false, "run a single check and exit")
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintf(os.Stderr, "approvemanager: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Level())
	slog.SetDefault(logger)

	signer, err := app.LoadSigner(cfg)
	if err != nil {
		return err
	}
	if signer == nil {
		return errors.New("an identity is required to approve allowances")
	}
	_, _, ledger := app.NewVenues(cfg, signer, logger)

	factor := cfg.Allowance.TargetFactor
	keeper := allowance.New(allowance.Config{
		Owner:      signer.Principal(),
		Targets:    allowance.Targets(cfg.DomainPairs(), factor),
		Ledger:     ledger,
		Interval:   cfg.Allowance.Interval.Duration,
		TopUpRatio: cfg.Allowance.TopUpRatio,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		n, err := keeper.CheckOnce(ctx)
		logger.Info("allowance check finished", slog.Int("approvals", n))
		return err
	}
	return keeper.Run(ctx)
}
