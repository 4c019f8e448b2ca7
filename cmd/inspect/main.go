// Command inspect queries both venues of one configured pair and prints
// their states together with what the solver would do. It never trades.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alanyoungcy/dexarb/internal/app"
	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	symbol := flag.String("pair", "", "pair symbol (default: first configured pair)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall query timeout")
	flag.Parse()

	if err := run(*configPath, *symbol, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, symbol string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Pairs) == 0 {
		return errors.New("no pairs configured")
	}
	pair := cfg.Pairs[0].Domain()
	if symbol != "" {
		p, ok := cfg.Pair(symbol)
		if !ok {
			return fmt.Errorf("pair %q is not configured", symbol)
		}
		pair = p
	}

	logger := config.NewLogger(slog.LevelWarn)
	_, router, _ := app.NewVenues(cfg, nil, logger)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fast, err := router.QueryState(ctx, pair.Fast, pair)
	if err != nil {
		return fmt.Errorf("fast venue %s: %w", pair.Fast.ID, err)
	}
	slow, err := router.QueryState(ctx, pair.Slow, pair)
	if err != nil {
		return fmt.Errorf("slow venue %s: %w", pair.Slow.ID, err)
	}

	fmt.Printf("pair %s (threshold %s %s, epsilon %s)\n", pair.Symbol,
		arbitrage.Units(pair.Threshold, pair.Quote.Decimals), pair.Quote.Symbol,
		arbitrage.Units(pair.Epsilon, pair.Quote.Decimals))
	printState(pair, pair.Fast, fast)
	printState(pair, pair.Slow, slow)

	opp, err := arbitrage.Solve(&fast, &slow, pair.Threshold)
	if err != nil {
		return fmt.Errorf("solve: %w", err)
	}
	opp.Pair = pair.Symbol
	fmt.Println(arbitrage.FormatOpportunity(pair, opp))
	if opp.Profitable(pair.Epsilon) {
		fmt.Println("verdict: would execute")
	} else {
		fmt.Println("verdict: would idle")
	}
	return nil
}

func printState(pair domain.Pair, venue domain.Venue, st domain.VenueState) {
	fmt.Printf("  %-8s %-10s quote %s %s  base %s %s  fee %.4f%%  price %.8f\n",
		venue.Kind, venue.ID,
		arbitrage.Units(st.QuoteReserve, pair.Quote.Decimals), pair.Quote.Symbol,
		arbitrage.Units(st.BaseReserve, pair.Base.Decimals), pair.Base.Symbol,
		st.FeeRate*100, st.Price())
}
