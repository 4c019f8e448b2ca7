// Package allowance keeps the ICRC-2 approvals the venues pull trade funds
// through topped up.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/platform/icrc"
)

// DefaultTopUpRatio is the fraction of the target below which an approval
// is renewed.
const DefaultTopUpRatio = 0.9

// Ledger is the subset of icrc.Client the keeper needs.
type Ledger interface {
	Allowance(ctx context.Context, ledger string, owner, spender icrc.Account) (icrc.Allowance, error)
	Approve(ctx context.Context, ledger string, spender icrc.Account, amount decimal.Decimal) (decimal.Decimal, error)
}

// Target is an approval that must stay at or near Amount.
type Target struct {
	Token   domain.Token
	Spender string // venue canister
	Amount  decimal.Decimal
}

func (t Target) key() string { return t.Token.Ledger + "|" + t.Spender }

// Targets derives the approvals the pairs need: the quote token up to
// factor times the pair threshold and the base token up to the pair's base
// allowance, on both venues. When several pairs share a (token, spender)
// the largest target wins.
func Targets(pairs []domain.Pair, factor float64) []Target {
	byKey := make(map[string]Target)
	add := func(tok domain.Token, spender string, amount float64) {
		if amount <= 0 || spender == "" {
			return
		}
		t := Target{Token: tok, Spender: spender, Amount: decimal.NewFromFloat(amount).Floor()}
		if cur, ok := byKey[t.key()]; ok && cur.Amount.GreaterThanOrEqual(t.Amount) {
			return
		}
		byKey[t.key()] = t
	}
	for _, p := range pairs {
		for _, v := range []domain.Venue{p.Fast, p.Slow} {
			add(p.Quote, v.Canister, p.Threshold*factor)
			add(p.Base, v.Canister, p.BaseAllowance)
		}
	}

	out := make([]Target, 0, len(byKey))
	for _, t := range byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// Config configures a Keeper.
type Config struct {
	Owner   string
	Targets []Target
	Ledger  Ledger
	Alerts  domain.AlertSink
	// Audit is optional; every approval is recorded there.
	Audit      domain.AuditLog
	Interval   time.Duration
	TopUpRatio float64
	Logger     *slog.Logger
}

// Keeper checks every target periodically and re-approves the full target
// when the remaining allowance drops below the top-up ratio.
type Keeper struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Keeper.
func New(cfg Config) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Second
	}
	if cfg.TopUpRatio <= 0 || cfg.TopUpRatio > 1 {
		cfg.TopUpRatio = DefaultTopUpRatio
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{cfg: cfg, logger: logger.With(slog.String("component", "allowance"))}
}

// Run checks immediately and then every interval until ctx is done.
// Failed rounds are logged and retried on the next tick.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "allowance keeper started",
		slog.Int("targets", len(k.cfg.Targets)),
		slog.Duration("interval", k.cfg.Interval),
	)
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := k.CheckOnce(ctx); err != nil && ctx.Err() == nil {
			k.logger.WarnContext(ctx, "allowance check failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CheckOnce reads every target and approves those below the ratio. It
// returns how many approvals were sent; errors of individual targets are
// joined.
func (k *Keeper) CheckOnce(ctx context.Context) (int, error) {
	owner := icrc.Account{Owner: k.cfg.Owner}
	ratio := decimal.NewFromFloat(k.cfg.TopUpRatio)

	var errs []error
	topped := 0
	for _, t := range k.cfg.Targets {
		spender := icrc.Account{Owner: t.Spender}
		cur, err := k.cfg.Ledger.Allowance(ctx, t.Token.Ledger, owner, spender)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cur.Allowance.GreaterThanOrEqual(t.Amount.Mul(ratio)) {
			continue
		}

		block, err := k.cfg.Ledger.Approve(ctx, t.Token.Ledger, spender, t.Amount)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		topped++
		k.logger.InfoContext(ctx, "allowance topped up",
			slog.String("token", t.Token.Symbol),
			slog.String("spender", t.Spender),
			slog.String("previous", cur.Allowance.String()),
			slog.String("target", t.Amount.String()),
			slog.String("block", block.String()),
		)
		if k.cfg.Alerts != nil {
			k.cfg.Alerts.Alert(ctx, domain.EventAllowanceTopUp, fmt.Sprintf(
				"%s allowance for %s was %s, approved %s",
				t.Token.Symbol, t.Spender, units(cur.Allowance, t.Token.Decimals), units(t.Amount, t.Token.Decimals)))
		}
		if k.cfg.Audit != nil {
			err := k.cfg.Audit.Log(ctx, "allowance.approve", map[string]any{
				"token":    t.Token.Symbol,
				"ledger":   t.Token.Ledger,
				"spender":  t.Spender,
				"previous": cur.Allowance.String(),
				"amount":   t.Amount.String(),
				"block":    block.String(),
			})
			if err != nil {
				k.logger.WarnContext(ctx, "allowance audit failed", slog.String("error", err.Error()))
			}
		}
	}
	return topped, errors.Join(errs...)
}

func units(d decimal.Decimal, decimals int32) string {
	return d.Shift(-decimals).StringFixed(4)
}
