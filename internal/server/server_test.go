package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memStore struct {
	results []domain.ExecutionResult
	profit  float64
	since   time.Time
	pair    string
	limit   int
}

func (m *memStore) Create(_ context.Context, res domain.ExecutionResult) error {
	m.results = append(m.results, res)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.ExecutionResult, error) {
	for _, r := range m.results {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.ExecutionResult{}, domain.ErrNotFound
}

func (m *memStore) ListRecent(_ context.Context, pair string, limit int) ([]domain.ExecutionResult, error) {
	m.pair, m.limit = pair, limit
	return m.results, nil
}

func (m *memStore) SumProfit(_ context.Context, since time.Time) (float64, error) {
	m.since = since
	return m.profit, nil
}

type staticStatuses []arbitrage.MonitorStatus

func (s staticStatuses) Statuses() []arbitrage.MonitorStatus { return s }

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func newTestServer(t *testing.T, cfg Config, store domain.ExecutionStore, hub *ws.Hub) *httptest.Server {
	t.Helper()
	handlers := Handlers{
		Health: handler.NewHealthHandler(discard),
		Pairs: handler.NewPairsHandler(staticStatuses{
			{Pair: "BOB_ICP", Cycles: 12},
		}, "trade", discard),
		Executions: handler.NewExecutionsHandler(store, discard),
	}
	srv := httptest.NewServer(NewServer(cfg, handlers, hub, discard).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func sampleResult() domain.ExecutionResult {
	return domain.ExecutionResult{
		ID:             "exec-1",
		Pair:           "BOB_ICP",
		Direction:      domain.DirectionAB,
		Outcome:        domain.OutcomeBothSucceeded,
		RealizedProfit: 1.5,
		Legs: [2]domain.LegResult{
			{Index: 1, VenueID: "kong", Status: domain.LegSucceeded, AmountIn: 10, AmountOut: 2},
			{Index: 2, VenueID: "icpswap", Status: domain.LegSucceeded, AmountIn: 2, AmountOut: 11.5},
		},
	}
}

func getJSON(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestExecutionsEndpoints(t *testing.T) {
	store := &memStore{results: []domain.ExecutionResult{sampleResult()}, profit: 42}
	srv := newTestServer(t, Config{}, store, nil)

	var list struct {
		Executions []map[string]any `json:"executions"`
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/executions?pair=BOB_ICP&limit=5", nil)
	require.Equal(t, http.StatusOK, getJSON(t, req, &list))
	require.Len(t, list.Executions, 1)
	assert.Equal(t, "exec-1", list.Executions[0]["id"])
	assert.Equal(t, "BOB_ICP", store.pair)
	assert.Equal(t, 5, store.limit)

	var one map[string]any
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, getJSON(t, req, &one))
	assert.Equal(t, "both_succeeded", one["outcome"])
	assert.Len(t, one["legs"], 2)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, getJSON(t, req, nil))

	var profit struct {
		Profit float64 `json:"profit"`
	}
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/profit?since=2024-01-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, getJSON(t, req, &profit))
	assert.Equal(t, 42.0, profit.Profit)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), store.since.UTC())

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/profit?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, req, nil))
}

func TestExecutionsWithoutStore(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)
	for _, path := range []string{"/api/executions", "/api/profit", "/api/audit"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusNotImplemented, getJSON(t, req, nil), path)
	}
}

func TestPairsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	var body struct {
		Mode  string                    `json:"mode"`
		Pairs []arbitrage.MonitorStatus `json:"pairs"`
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/pairs", nil)
	require.Equal(t, http.StatusOK, getJSON(t, req, &body))
	assert.Equal(t, "trade", body.Mode)
	require.Len(t, body.Pairs, 1)
	assert.Equal(t, uint64(12), body.Pairs[0].Cycles)
}

func TestAuthGuardsExecutionRoutes(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "secret"}, &memStore{}, nil)

	for _, path := range []string{"/api/health", "/api/pairs"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusOK, getJSON(t, req, nil), path)
	}

	for _, path := range []string{"/api/executions", "/api/executions/exec-1", "/api/profit", "/api/audit"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		assert.Equal(t, http.StatusUnauthorized, getJSON(t, req, nil), path)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/executions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, getJSON(t, req, nil))
}

func TestRateLimitRejects(t *testing.T) {
	srv := newTestServer(t, Config{RateLimiter: denyLimiter{}, RateLimit: 1}, &memStore{}, nil)

	resp, err := http.Get(srv.URL + "/api/pairs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestHealthReportsFailingCheck(t *testing.T) {
	h := handler.NewHealthHandler(discard).
		WithCheck("redis", func(context.Context) error { return nil }).
		WithCheck("postgres", func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Equal(t, "connection refused", body.Checks["postgres"])
}

// chanBus relays Publish to its subscriber and keeps an in-memory
// execution stream.
type chanBus struct {
	ch     chan []byte
	mu     sync.Mutex
	stream []domain.StreamMessage
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), len(b.stream))
	b.stream = append(b.stream, domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *chanBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var cms, cseq uint64
	fmt.Sscanf(lastID, "%d-%d", &cms, &cseq)
	var out []domain.StreamMessage
	for _, m := range b.stream {
		var ms, seq uint64
		fmt.Sscanf(m.ID, "%d-%d", &ms, &seq)
		if (ms > cms || (ms == cms && seq > cseq)) && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func eventJSON(t *testing.T, id, pair string) []byte {
	t.Helper()
	data, err := json.Marshal(executor.Event{Event: "execution", ID: id, Pair: pair, Outcome: "dry_run", DryRun: true})
	require.NoError(t, err)
	return data
}

func TestWebSocketRelaysExecutions(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := ws.NewHub(bus, discard, ws.Config{Mode: "Monitor", Pairs: []string{"BOB_ICP"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := newTestServer(t, Config{}, nil, hub)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var status map[string]any
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "status", status["event"])
	assert.Equal(t, "monitor", status["mode"])

	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutions, []byte(`{"event":"execution","id":"exec-9"}`)))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"execution","id":"exec-9"}`, string(data))
}

func TestWebSocketReplaysRecentExecutions(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, eventJSON(t, "exec-1", "BOB_ICP")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, eventJSON(t, "exec-2", "BOB_ICP")))

	hub := ws.NewHub(bus, discard, ws.Config{Mode: "monitor", StartedAt: time.Now().Add(-time.Minute)})
	go func() { _ = hub.Run(ctx) }()

	srv := newTestServer(t, Config{}, nil, hub)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	read := func() map[string]any {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}
	assert.Equal(t, "status", read()["event"])
	assert.Equal(t, "exec-1", read()["id"])
	assert.Equal(t, "exec-2", read()["id"])

	require.NoError(t, bus.Publish(ctx, domain.ChannelExecutions, eventJSON(t, "exec-3", "BOB_ICP")))
	assert.Equal(t, "exec-3", read()["id"])
}

func TestWebSocketNeedsKeyWhenConfigured(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := ws.NewHub(bus, discard, ws.Config{Mode: "monitor"})
	go func() { _ = hub.Run(ctx) }()

	srv := newTestServer(t, Config{APIKey: "secret"}, nil, hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?api_key=secret", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestListExecutionsFallsBackToStream(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, eventJSON(t, "exec-1", "BOB_ICP")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, []byte("not json")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, eventJSON(t, "exec-2", "CHAT_ICP")))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamExecutions, eventJSON(t, "exec-3", "BOB_ICP")))

	execs := handler.NewExecutionsHandler(nil, discard).WithEventLog(bus)
	srv := httptest.NewServer(NewServer(Config{}, Handlers{
		Health:     handler.NewHealthHandler(discard),
		Pairs:      handler.NewPairsHandler(staticStatuses{}, "monitor", discard),
		Executions: execs,
	}, nil, discard).Handler())
	t.Cleanup(srv.Close)

	var list struct {
		Executions []executor.Event `json:"executions"`
		Source     string           `json:"source"`
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/executions?pair=BOB_ICP", nil)
	require.Equal(t, http.StatusOK, getJSON(t, req, &list))
	assert.Equal(t, "stream", list.Source)
	require.Len(t, list.Executions, 2)
	assert.Equal(t, "exec-3", list.Executions[0].ID)
	assert.Equal(t, "exec-1", list.Executions[1].ID)
	assert.True(t, list.Executions[0].DryRun)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/executions?limit=1", nil)
	require.Equal(t, http.StatusOK, getJSON(t, req, &list))
	require.Len(t, list.Executions, 1)
	assert.Equal(t, "exec-3", list.Executions[0].ID)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/profit", nil)
	assert.Equal(t, http.StatusNotImplemented, getJSON(t, req, nil))
}

type recordingAudit struct {
	opts domain.ListOpts
}

func (a *recordingAudit) Log(context.Context, string, map[string]any) error { return nil }

func (a *recordingAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.opts = opts
	return []domain.AuditEntry{{ID: 7, Event: opts.Event, Detail: map[string]any{"count": 3.0}}}, nil
}

func TestListAuditFiltersByEvent(t *testing.T) {
	audit := &recordingAudit{}
	h := handler.NewExecutionsHandler(nil, discard).WithAuditLog(audit)

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?event=archive.executions&limit=5&since=2026-10-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "archive.executions", audit.opts.Event)
	assert.Equal(t, 5, audit.opts.Limit)
	require.NotNil(t, audit.opts.Since)
	assert.Nil(t, audit.opts.Until)

	var body struct {
		Entries []struct {
			ID    int64  `json:"id"`
			Event string `json:"event"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "archive.executions", body.Entries[0].Event)
}
