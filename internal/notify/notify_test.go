package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
	block  chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func TestNotifierFilter(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, []string{domain.EventLegFailed, " "}, "[prod]", discard)

	require.NoError(t, n.Notify(context.Background(), domain.EventTradeExecuted, "filtered"))
	require.NoError(t, n.Notify(context.Background(), domain.EventLegFailed, "leg 2 slippage"))
	require.NoError(t, n.NotifyAll(context.Background(), domain.EventMonitorCrash, "restart"))

	assert.Equal(t, []string{"[prod] Leg failed", "[prod] Monitor crashed"}, s.titles)
	assert.Equal(t, []string{"leg 2 slippage", "restart"}, s.bodies)
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	bad := &recordingSender{err: errors.New("down")}
	good := &recordingSender{}
	n := NewNotifier([]Sender{bad, good}, nil, "", discard)

	err := n.Notify(context.Background(), "custom_event", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Equal(t, []string{"custom_event"}, good.titles)
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL, "dexarb")
	require.NoError(t, d.Send(context.Background(), "Trade executed", "profit 1.67 ICP"))
	assert.Equal(t, "dexarb", got.Username)
	assert.True(t, strings.HasPrefix(got.Content, "**Trade executed**"))
	assert.Contains(t, got.Content, "profit 1.67 ICP")

	require.NoError(t, d.Send(context.Background(), "Long", strings.Repeat("x", 5000)))
	assert.LessOrEqual(t, len(got.Content), discordMaxContent)
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTelegramSender(t *testing.T) {
	var got telegramPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Leg failed", "BOB_ICP leg 1"))
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "Leg failed\nBOB_ICP leg 1", got.Text)
}

func TestAlerterDeliversAsync(t *testing.T) {
	s := &recordingSender{}
	a := NewAlerter(NewNotifier([]Sender{s}, nil, "", discard), 8, time.Second, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	a.Alert(ctx, domain.EventTradeExecuted, "one")
	a.Alert(ctx, domain.EventLegFailed, "two")
	require.Eventually(t, func() bool { return s.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, uint64(2), a.Delivered())
}

func TestAlerterNeverBlocks(t *testing.T) {
	s := &recordingSender{block: make(chan struct{})}
	a := NewAlerter(NewNotifier([]Sender{s}, nil, "", discard), 1, time.Second, discard)

	// No worker running: the second alert overflows the queue.
	start := time.Now()
	a.Alert(context.Background(), domain.EventLegFailed, "queued")
	a.Alert(context.Background(), domain.EventLegFailed, "dropped")
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, uint64(1), a.Dropped())

	close(s.block)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Equal(t, 1, s.count())
}

type countingLimiter struct {
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func TestAlerterRateLimitsNoisyEvents(t *testing.T) {
	s := &recordingSender{}
	a := NewAlerter(NewNotifier([]Sender{s}, nil, "", discard), 16, time.Second, discard)
	lim := &countingLimiter{seen: make(map[string]int)}
	a.RateLimit(lim, 1, time.Minute, domain.EventSolverAnomaly)

	for i := 0; i < 3; i++ {
		a.Alert(context.Background(), domain.EventSolverAnomaly, "degenerate")
		a.Alert(context.Background(), domain.EventTradeExecuted, "trade")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	assert.Equal(t, 4, s.count())
	assert.Equal(t, uint64(2), a.Suppressed())
	assert.Equal(t, 3, lim.seen["alert:"+domain.EventSolverAnomaly])
	assert.Zero(t, lim.seen["alert:"+domain.EventTradeExecuted])
}

func TestAlerterRateLimitFailsOpen(t *testing.T) {
	s := &recordingSender{}
	a := NewAlerter(NewNotifier([]Sender{s}, nil, "", discard), 4, time.Second, discard)
	a.RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute, domain.EventOpportunity)

	a.Alert(context.Background(), domain.EventOpportunity, "a")
	a.Alert(context.Background(), domain.EventOpportunity, "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Equal(t, 2, s.count())
	assert.Zero(t, a.Suppressed())
}

func TestAlerterShutdownFlushIsBounded(t *testing.T) {
	// The sender never answers, so every delivery runs into its deadline.
	s := &recordingSender{block: make(chan struct{})}
	a := NewAlerter(NewNotifier([]Sender{s}, nil, "", discard), 32, 50*time.Millisecond, discard)
	for i := 0; i < 20; i++ {
		a.Alert(context.Background(), domain.EventLegFailed, "queued")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.NoError(t, a.Run(ctx))

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, s.count())
	assert.Zero(t, a.Delivered())
	assert.Equal(t, uint64(19), a.Dropped())
}
