package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type alert struct {
	event   string
	message string
}

// Alerter is an asynchronous domain.AlertSink. Alert only enqueues; a
// single worker started by Run delivers through the Notifier. When the
// queue is full the alert is dropped and logged.
type Alerter struct {
	notifier *Notifier
	queue    chan alert
	timeout  time.Duration
	logger   *slog.Logger

	limiter   domain.RateLimiter
	limit     int
	window    time.Duration
	throttled map[string]bool

	dropped    atomic.Uint64
	delivered  atomic.Uint64
	suppressed atomic.Uint64
}

// NewAlerter creates an Alerter with the given queue size and per-alert
// delivery timeout.
func NewAlerter(n *Notifier, size int, timeout time.Duration, logger *slog.Logger) *Alerter {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Alerter{
		notifier: n,
		queue:    make(chan alert, size),
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "alerter")),
	}
}

// RateLimit caps delivery of the given events to limit per window, counted
// across every process sharing l. Events not listed are always delivered.
// It must be called before Run.
func (a *Alerter) RateLimit(l domain.RateLimiter, limit int, window time.Duration, events ...string) {
	a.limiter = l
	a.limit = limit
	a.window = window
	a.throttled = make(map[string]bool, len(events))
	for _, e := range events {
		a.throttled[e] = true
	}
}

// Alert enqueues a notification. It never blocks.
func (a *Alerter) Alert(ctx context.Context, event, message string) {
	a.logger.InfoContext(ctx, "alert", slog.String("event", event), slog.String("message", message))
	select {
	case a.queue <- alert{event: event, message: message}:
	default:
		a.dropped.Add(1)
		a.logger.WarnContext(ctx, "alert queue full, dropping", slog.String("event", event))
	}
}

// Run delivers queued alerts until ctx is cancelled, then flushes what is
// already queued.
func (a *Alerter) Run(ctx context.Context) error {
	// In-flight deliveries outlive ctx; each is still bounded by timeout.
	sendCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			a.flush()
			return nil
		}
		select {
		case <-ctx.Done():
		case al := <-a.queue:
			a.deliver(sendCtx, al)
		}
	}
}

// flush drains the queue under a single timeout shared by every alert.
// Whatever is still queued when it expires is counted as dropped.
func (a *Alerter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	var lost uint64
	for {
		select {
		case al := <-a.queue:
			if ctx.Err() != nil {
				lost++
				continue
			}
			a.deliver(ctx, al)
		default:
			if lost > 0 {
				a.dropped.Add(lost)
				a.logger.Warn("alert flush timed out", slog.Uint64("dropped", lost))
			}
			return
		}
	}
}

func (a *Alerter) deliver(ctx context.Context, al alert) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if !a.allow(ctx, al.event) {
		a.suppressed.Add(1)
		return
	}
	if err := a.notifier.Notify(ctx, al.event, al.message); err != nil {
		a.logger.Warn("alert delivery failed", slog.String("event", al.event), slog.String("error", err.Error()))
		return
	}
	a.delivered.Add(1)
}

// allow fails open: a limiter error never suppresses an alert.
func (a *Alerter) allow(ctx context.Context, event string) bool {
	if a.limiter == nil || !a.throttled[event] {
		return true
	}
	ok, err := a.limiter.Allow(ctx, "alert:"+event, a.limit, a.window)
	if err != nil {
		a.logger.Warn("alert rate limit check failed", slog.String("event", event), slog.String("error", err.Error()))
		return true
	}
	return ok
}

// Dropped returns how many alerts were discarded because the queue was full.
func (a *Alerter) Dropped() uint64 { return a.dropped.Load() }

// Delivered returns how many alerts reached every sender.
func (a *Alerter) Delivered() uint64 { return a.delivered.Load() }

// Suppressed returns how many alerts the rate limit held back.
func (a *Alerter) Suppressed() uint64 { return a.suppressed.Load() }

var _ domain.AlertSink = (*Alerter)(nil)
