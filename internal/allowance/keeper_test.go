package allowance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/platform/icrc"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeLedger struct {
	mu        sync.Mutex
	allowance map[string]decimal.Decimal // ledger|spender
	failOn    string
	approved  []string
}

func (f *fakeLedger) Allowance(_ context.Context, ledger string, _, spender icrc.Account) (icrc.Allowance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ledger == f.failOn {
		return icrc.Allowance{}, errors.New("ledger unavailable")
	}
	return icrc.Allowance{Allowance: f.allowance[ledger+"|"+spender.Owner]}, nil
}

func (f *fakeLedger) Approve(_ context.Context, ledger string, spender icrc.Account, amount decimal.Decimal) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowance[ledger+"|"+spender.Owner] = amount
	f.approved = append(f.approved, ledger+"|"+spender.Owner+"|"+amount.String())
	return decimal.NewFromInt(int64(len(f.approved))), nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerts) Alert(_ context.Context, event, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func pair(symbol, baseLedger string, threshold, baseAllowance float64) domain.Pair {
	return domain.Pair{
		Symbol:        symbol,
		Base:          domain.Token{Symbol: symbol[:3], Ledger: baseLedger, Decimals: 8},
		Quote:         domain.Token{Symbol: "ICP", Ledger: "icp", Decimals: 8},
		Fast:          domain.Venue{ID: "ics-" + symbol, Canister: "pool-" + symbol},
		Slow:          domain.Venue{ID: "kong", Canister: "kong"},
		Threshold:     threshold,
		BaseAllowance: baseAllowance,
	}
}

func TestTargets(t *testing.T) {
	targets := Targets([]domain.Pair{
		pair("BOB_ICP", "bob", 300e8, 1_000e8),
		pair("CHT_ICP", "chat", 500e8, 0),
	}, 2)

	got := make(map[string]string)
	for _, tg := range targets {
		got[tg.key()] = tg.Amount.String()
	}
	// The shared kong spender keeps the larger quote target.
	assert.Equal(t, map[string]string{
		"icp|pool-BOB_ICP": "60000000000",
		"bob|pool-BOB_ICP": "100000000000",
		"icp|pool-CHT_ICP": "100000000000",
		"bob|kong":         "100000000000",
		"icp|kong":         "100000000000",
	}, got)
	assert.Len(t, targets, 5)
}

func TestCheckOnceTopsUpBelowRatio(t *testing.T) {
	ledger := &fakeLedger{allowance: map[string]decimal.Decimal{
		"icp|kong": decimal.NewFromInt(95), // above 90% of 100
		"bob|kong": decimal.NewFromInt(89), // below
		"icp|pool": decimal.NewFromInt(0),  // never approved
	}}
	alerts := &recordingAlerts{}
	k := New(Config{
		Owner: "me",
		Targets: []Target{
			{Token: domain.Token{Symbol: "ICP", Ledger: "icp"}, Spender: "kong", Amount: decimal.NewFromInt(100)},
			{Token: domain.Token{Symbol: "BOB", Ledger: "bob"}, Spender: "kong", Amount: decimal.NewFromInt(100)},
			{Token: domain.Token{Symbol: "ICP", Ledger: "icp"}, Spender: "pool", Amount: decimal.NewFromInt(100)},
		},
		Ledger: ledger,
		Alerts: alerts,
		Logger: discard,
	})

	n, err := k.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"bob|kong|100", "icp|pool|100"}, ledger.approved)
	assert.Equal(t, []string{domain.EventAllowanceTopUp, domain.EventAllowanceTopUp}, alerts.events)

	// Now everything is at target.
	n, err = k.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckOnceContinuesPastFailures(t *testing.T) {
	ledger := &fakeLedger{allowance: map[string]decimal.Decimal{}, failOn: "bob"}
	k := New(Config{
		Owner: "me",
		Targets: []Target{
			{Token: domain.Token{Ledger: "bob"}, Spender: "kong", Amount: decimal.NewFromInt(10)},
			{Token: domain.Token{Ledger: "icp"}, Spender: "kong", Amount: decimal.NewFromInt(10)},
		},
		Ledger: ledger,
		Logger: discard,
	})

	n, err := k.CheckOnce(context.Background())
	assert.ErrorContains(t, err, "ledger unavailable")
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"icp|kong|10"}, ledger.approved)
}

func TestRunStopsOnCancel(t *testing.T) {
	ledger := &fakeLedger{allowance: map[string]decimal.Decimal{}}
	k := New(Config{
		Owner:   "me",
		Targets: []Target{{Token: domain.Token{Ledger: "icp"}, Spender: "kong", Amount: decimal.NewFromInt(10)}},
		Ledger:  ledger,
		Logger:  discard,
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, k.Run(ctx))
	assert.Len(t, ledger.approved, 1)
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.entries = append(m.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func TestCheckOnceRecordsApprovals(t *testing.T) {
	ledger := &fakeLedger{allowance: map[string]decimal.Decimal{}}
	audit := &memAudit{}
	k := New(Config{
		Owner:   "me",
		Targets: []Target{{Token: domain.Token{Symbol: "ICP", Ledger: "icp"}, Spender: "kong", Amount: decimal.NewFromInt(10)}},
		Ledger:  ledger,
		Audit:   audit,
		Logger:  discard,
	})

	_, err := k.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "allowance.approve", audit.entries[0].Event)
	assert.Equal(t, "kong", audit.entries[0].Detail["spender"])
	assert.Equal(t, "10", audit.entries[0].Detail["amount"])
	assert.Equal(t, "1", audit.entries[0].Detail["block"])
}
