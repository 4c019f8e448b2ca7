package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Executor submits a profitable opportunity. The coordinator in the
// executor package is the production implementation.
type Executor interface {
	Execute(ctx context.Context, pair domain.Pair, opp domain.Opportunity) domain.ExecutionResult
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Pair     domain.Pair
	Venues   domain.VenueClient
	Executor Executor
	Alerts   domain.AlertSink
	// Mirror is optional; when set every fresh observation is copied to it.
	Mirror domain.StateMirror

	LoopInterval time.Duration
	Cooldown     time.Duration
	// SlowMaxAge bounds how long a slow-venue state may be reused. Zero
	// disables the bound.
	SlowMaxAge  time.Duration
	SlowTimeout time.Duration

	Logger *slog.Logger
}

// MonitorStatus is a point-in-time view of one monitor.
type MonitorStatus struct {
	Pair            string              `json:"pair"`
	Cycles          uint64              `json:"cycles"`
	FastFailures    uint64              `json:"fast_failures"`
	SlowFailures    uint64              `json:"slow_failures"`
	Skipped         uint64              `json:"skipped"`
	Executions      uint64              `json:"executions"`
	CycleErrors     uint64              `json:"cycle_errors"`
	LastCycleAt     time.Time           `json:"last_cycle_at"`
	FastAge         time.Duration       `json:"fast_age_ns"`
	SlowAge         time.Duration       `json:"slow_age_ns"`
	LastOpportunity *domain.Opportunity `json:"last_opportunity,omitempty"`
	Restarts        int                 `json:"restarts"`
}

// Monitor drives one pair: refresh the slow venue in the background,
// refresh the fast venue, solve, then execute or idle.
type Monitor struct {
	pair     domain.Pair
	venues   domain.VenueClient
	exec     Executor
	alerts   domain.AlertSink
	mirror   domain.StateMirror
	cache    *StateCache
	interval time.Duration
	cooldown time.Duration
	slowAge  time.Duration
	slowTTL  time.Duration
	logger   *slog.Logger

	solve func(a, b *domain.VenueState, threshold float64) (domain.Opportunity, error)

	slowBusy atomic.Bool
	slowWG   sync.WaitGroup

	cycles       atomic.Uint64
	fastFailures atomic.Uint64
	slowFailures atomic.Uint64
	skipped      atomic.Uint64
	executions   atomic.Uint64
	cycleErrors  atomic.Uint64

	mu        sync.Mutex
	lastCycle time.Time
	lastOpp   *domain.Opportunity
}

// NewMonitor creates a monitor with its own empty cache.
func NewMonitor(cfg MonitorConfig) *Monitor {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	slowTTL := cfg.SlowTimeout
	if slowTTL <= 0 {
		slowTTL = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pair:     cfg.Pair,
		venues:   cfg.Venues,
		exec:     cfg.Executor,
		alerts:   cfg.Alerts,
		mirror:   cfg.Mirror,
		cache:    NewStateCache(),
		interval: cfg.LoopInterval,
		cooldown: cooldown,
		slowAge:  cfg.SlowMaxAge,
		slowTTL:  slowTTL,
		logger: logger.With(
			slog.String("component", "pair_monitor"),
			slog.String("pair", cfg.Pair.Symbol),
		),
		solve: Solve,
	}
}

// Cache exposes the monitor's state cache.
func (m *Monitor) Cache() *StateCache { return m.cache }

// Run loops until ctx is cancelled and then returns ctx.Err(). A failed
// cycle is reported and followed by a cooldown; it does not end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "pair monitor started",
		slog.String("fast", m.pair.Fast.ID),
		slog.String("slow", m.pair.Slow.ID),
		slog.Float64("threshold", m.pair.Threshold),
	)
	defer func() {
		m.slowWG.Wait()
		m.logger.Info("pair monitor stopped")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.cycleErrors.Add(1)
			m.logger.ErrorContext(ctx, "cycle failed", slog.String("error", err.Error()))
			m.alert(ctx, domain.EventMonitorCrash,
				fmt.Sprintf("[%s] cycle failed, cooling down %s: %v", m.pair.Symbol, m.cooldown, err))
			if !sleep(ctx, m.cooldown) {
				return ctx.Err()
			}
			continue
		}
		if m.interval > 0 && !sleep(ctx, m.interval) {
			return ctx.Err()
		}
	}
}

func (m *Monitor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("cycle panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.cycle(ctx)
}

// cycle runs one pass of the state machine. Expected conditions (failed
// fetches, missing data, no profit) are handled here and return nil.
func (m *Monitor) cycle(ctx context.Context) error {
	m.cycles.Add(1)
	m.mu.Lock()
	m.lastCycle = time.Now()
	m.mu.Unlock()

	m.refreshSlow(ctx)

	fast, err := m.venues.QueryState(ctx, m.pair.Fast, m.pair)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		m.fastFailures.Add(1)
		m.logger.WarnContext(ctx, "fast refresh failed, skipping cycle",
			slog.String("venue", m.pair.Fast.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	fastState := m.store(ctx, m.pair.Fast, fast)

	// slow stays nil when the venue was never observed; Solve reports that.
	slow, err := m.cache.Fresh(m.pair.Slow.ID, m.slowAge)
	if errors.Is(err, domain.ErrStaleState) {
		m.skipped.Add(1)
		m.logger.DebugContext(ctx, "slow state stale, skipping cycle",
			slog.String("venue", m.pair.Slow.ID),
			slog.Duration("max_age", m.slowAge),
		)
		return nil
	}

	opp, err := m.solve(&fastState, slow, m.pair.Threshold)
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		m.skipped.Add(1)
		m.logger.DebugContext(ctx, "insufficient data, skipping cycle")
		return nil
	case errors.Is(err, domain.ErrNoSolution):
		m.skipped.Add(1)
		m.logger.WarnContext(ctx, "solver anomaly", slog.String("error", err.Error()))
		m.alert(ctx, domain.EventSolverAnomaly,
			fmt.Sprintf("[%s] solver rejected venue data: %v", m.pair.Symbol, err))
		return nil
	case err != nil:
		return fmt.Errorf("solve: %w", err)
	}
	opp.Pair = m.pair.Symbol

	m.mu.Lock()
	m.lastOpp = &opp
	m.mu.Unlock()

	if !opp.Profitable(m.pair.Epsilon) {
		m.logger.DebugContext(ctx, "idle",
			slog.String("direction", string(opp.Direction)),
			slog.Float64("amount", opp.Amount),
			slog.Float64("profit", opp.Profit),
		)
		return nil
	}

	m.logger.InfoContext(ctx, "opportunity found",
		slog.String("direction", string(opp.Direction)),
		slog.Float64("raw", opp.Raw),
		slog.Float64("amount", opp.Amount),
		slog.Float64("leg1_out", opp.Leg1Out),
		slog.Float64("leg2_out", opp.Leg2Out),
		slog.Float64("profit", opp.Profit),
	)
	res := m.exec.Execute(ctx, m.pair, opp)
	if res.Outcome == domain.OutcomeSkipped {
		m.logger.DebugContext(ctx, "execution skipped", slog.String("id", res.ID))
		return nil
	}
	m.executions.Add(1)
	m.logger.InfoContext(ctx, "execution finished",
		slog.String("id", res.ID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("leg1", string(res.Legs[0].Status)),
		slog.String("leg2", string(res.Legs[1].Status)),
		slog.Float64("realized_profit", res.RealizedProfit),
		slog.Bool("dry_run", res.DryRun),
	)
	event := domain.EventTradeExecuted
	if res.DryRun {
		event = domain.EventOpportunity
	}
	m.alert(ctx, event, FormatExecution(m.pair, res))
	return nil
}

// refreshSlow starts a background fetch of the slow venue unless one is
// still in flight. Its result is written to the cache and seen by the next
// cycle's solve.
func (m *Monitor) refreshSlow(ctx context.Context) {
	if !m.slowBusy.CompareAndSwap(false, true) {
		return
	}
	m.slowWG.Add(1)
	go func() {
		defer m.slowWG.Done()
		defer m.slowBusy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				m.slowFailures.Add(1)
				m.logger.Error("slow refresh panic", slog.Any("panic", r))
			}
		}()

		fetchCtx, cancel := context.WithTimeout(ctx, m.slowTTL)
		defer cancel()
		st, err := m.venues.QueryState(fetchCtx, m.pair.Slow, m.pair)
		if err != nil {
			if ctx.Err() == nil {
				m.slowFailures.Add(1)
				m.logger.Warn("slow refresh failed",
					slog.String("venue", m.pair.Slow.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		m.store(ctx, m.pair.Slow, st)
	}()
}

func (m *Monitor) store(ctx context.Context, venue domain.Venue, st domain.VenueState) domain.VenueState {
	if st.ObservedAt.IsZero() {
		st.ObservedAt = time.Now()
	}
	if venue.FeeRate > 0 {
		st.FeeRate = venue.FeeRate
	}
	st.VenueID = venue.ID
	m.cache.Update(venue.ID, st)
	if m.mirror != nil {
		if err := m.mirror.PutState(ctx, m.pair.Symbol, st); err != nil {
			m.logger.Debug("mirror state failed", slog.String("venue", venue.ID), slog.String("error", err.Error()))
		}
	}
	return st
}

func (m *Monitor) alert(ctx context.Context, event, msg string) {
	if m.alerts != nil {
		m.alerts.Alert(ctx, event, msg)
	}
}

// Status returns counters and the latest opportunity.
func (m *Monitor) Status() MonitorStatus {
	st := MonitorStatus{
		Pair:         m.pair.Symbol,
		Cycles:       m.cycles.Load(),
		FastFailures: m.fastFailures.Load(),
		SlowFailures: m.slowFailures.Load(),
		Skipped:      m.skipped.Load(),
		Executions:   m.executions.Load(),
		CycleErrors:  m.cycleErrors.Load(),
	}
	if _, age, ok := m.cache.Get(m.pair.Fast.ID); ok {
		st.FastAge = age
	}
	if _, age, ok := m.cache.Get(m.pair.Slow.ID); ok {
		st.SlowAge = age
	}
	m.mu.Lock()
	st.LastCycleAt = m.lastCycle
	if m.lastOpp != nil {
		opp := *m.lastOpp
		st.LastOpportunity = &opp
	}
	m.mu.Unlock()
	return st
}

// sleep waits for d or until ctx is done; it reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
