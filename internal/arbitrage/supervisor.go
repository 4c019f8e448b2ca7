package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Runner is a restartable pair loop. *Monitor implements it.
type Runner interface {
	Run(ctx context.Context) error
	Status() MonitorStatus
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Pairs []domain.Pair
	// NewRunner builds a fresh runner for a pair on every (re)start.
	NewRunner       func(pair domain.Pair) Runner
	Alerts          domain.AlertSink
	RestartCooldown time.Duration
	// Locks is optional. When set a pair only runs while this process
	// holds the lease "pair:<symbol>".
	Locks   domain.LockManager
	LockTTL time.Duration
	Logger  *slog.Logger
}

// Supervisor runs one runner per pair and restarts any that exits.
type Supervisor struct {
	pairs     []domain.Pair
	newRunner func(domain.Pair) Runner
	alerts    domain.AlertSink
	cooldown  time.Duration
	locks     domain.LockManager
	lockTTL   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	current  map[string]Runner
	restarts map[string]int
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	cooldown := cfg.RestartCooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		pairs:     cfg.Pairs,
		newRunner: cfg.NewRunner,
		alerts:    cfg.Alerts,
		cooldown:  cooldown,
		locks:     cfg.Locks,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "supervisor")),
		current:   make(map[string]Runner),
		restarts:  make(map[string]int),
	}
}

// Run starts every pair and blocks until ctx is cancelled and all pairs
// have stopped. It always returns nil: pair failures never escape.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "supervisor started", slog.Int("pairs", len(s.pairs)))
	var wg sync.WaitGroup
	for _, pair := range s.pairs {
		wg.Add(1)
		go func(pair domain.Pair) {
			defer wg.Done()
			s.supervise(ctx, pair)
		}(pair)
	}
	wg.Wait()
	s.logger.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) supervise(ctx context.Context, pair domain.Pair) {
	logger := s.logger.With(slog.String("pair", pair.Symbol))
	for {
		err := s.runOnce(ctx, pair)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, domain.ErrLockHeld) {
			logger.InfoContext(ctx, "pair is held by another process, waiting", slog.Duration("cooldown", s.cooldown))
		} else {
			if err == nil {
				err = errors.New("monitor exited")
			}
			s.mu.Lock()
			s.restarts[pair.Symbol]++
			n := s.restarts[pair.Symbol]
			s.mu.Unlock()
			logger.ErrorContext(ctx, "pair monitor crashed",
				slog.String("error", err.Error()),
				slog.Int("restarts", n),
				slog.Duration("cooldown", s.cooldown),
			)
			if s.alerts != nil {
				s.alerts.Alert(ctx, domain.EventMonitorCrash,
					fmt.Sprintf("[%s] monitor crashed (restart #%d in %s): %v", pair.Symbol, n, s.cooldown, err))
			}
		}

		if !sleep(ctx, s.cooldown) {
			return
		}
	}
}

// runOnce runs a fresh runner until it returns, panics or loses its lease.
func (s *Supervisor) runOnce(ctx context.Context, pair domain.Pair) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pair monitor panic",
				slog.String("pair", pair.Symbol),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if s.locks != nil {
		lease, err := s.locks.Acquire(ctx, "pair:"+pair.Symbol, s.lockTTL)
		if err != nil {
			return fmt.Errorf("acquire pair lease: %w", err)
		}
		defer lease.Release()
		go s.keepLease(runCtx, cancel, lease)
	}

	r := s.newRunner(pair)
	s.mu.Lock()
	s.current[pair.Symbol] = r
	s.mu.Unlock()

	err = r.Run(runCtx)
	if cause := context.Cause(runCtx); errors.Is(cause, domain.ErrLockLost) {
		return cause
	}
	return err
}

func (s *Supervisor) keepLease(ctx context.Context, cancel context.CancelCauseFunc, lease domain.Lease) {
	t := time.NewTicker(s.lockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				cancel(fmt.Errorf("%w: %v", domain.ErrLockLost, err))
				return
			}
		}
	}
}

// Statuses returns the status of every pair's current runner, in
// configuration order.
func (s *Supervisor) Statuses() []MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MonitorStatus, 0, len(s.pairs))
	for _, pair := range s.pairs {
		r, ok := s.current[pair.Symbol]
		if !ok {
			out = append(out, MonitorStatus{Pair: pair.Symbol, Restarts: s.restarts[pair.Symbol]})
			continue
		}
		st := r.Status()
		st.Restarts = s.restarts[pair.Symbol]
		out = append(out, st)
	}
	return out
}
