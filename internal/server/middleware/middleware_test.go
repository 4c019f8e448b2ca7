package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthProtectsOnlyListedRoutes(t *testing.T) {
	h := Auth("secret", "/api/executions", "/ws")(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public route", "/api/health", nil, http.StatusOK},
		{"prefix is not a match", "/api/executionsx", nil, http.StatusOK},
		{"missing key", "/api/executions", nil, http.StatusUnauthorized},
		{"bearer", "/api/executions/exec-1", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"header key", "/api/executions", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"wrong key", "/api/executions", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"query key on plain request", "/api/executions?api_key=secret", nil, http.StatusUnauthorized},
		{"query key on upgrade", "/ws?api_key=secret", map[string]string{"Upgrade": "websocket"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := serve(h, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	h := Auth("", "/api/executions")(okHandler)
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/executions", nil)).Code)
}

type logLine struct {
	Level       string `json:"level"`
	Route       string `json:"route"`
	Status      int    `json:"status"`
	Auth        string `json:"auth"`
	RateLimited bool   `json:"rate_limited"`
}

func lastLine(t *testing.T, buf *bytes.Buffer) logLine {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var l logLine
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &l))
	return l
}

func TestLoggingRecordsRouteAndAuthOutcome(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.Handle("GET /api/executions/{id}", okHandler)
	mux.Handle("GET /api/health", okHandler)
	h := Logging(logger)(Auth("secret", "/api/executions")(mux))

	req := httptest.NewRequest(http.MethodGet, "/api/executions/exec-1", nil)
	req.Header.Set("X-API-Key", "secret")
	serve(h, req)
	l := lastLine(t, &buf)
	assert.Equal(t, "GET /api/executions/{id}", l.Route)
	assert.Equal(t, http.StatusOK, l.Status)
	assert.Equal(t, AuthOK, l.Auth)
	assert.Equal(t, "INFO", l.Level)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/executions/exec-1", nil))
	l = lastLine(t, &buf)
	assert.Equal(t, http.StatusUnauthorized, l.Status)
	assert.Equal(t, AuthMissing, l.Auth)
	assert.Equal(t, "WARN", l.Level)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	l = lastLine(t, &buf)
	assert.Equal(t, AuthPublic, l.Auth)
	assert.Equal(t, "DEBUG", l.Level)

	serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	l = lastLine(t, &buf)
	assert.Equal(t, "unmatched", l.Route)
	assert.Equal(t, http.StatusNotFound, l.Status)
}

type scriptedLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *scriptedLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func TestRateLimitRejectsWithWindowRetryAfter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	limiter := &scriptedLimiter{}
	h := Logging(logger)(RateLimit(limiter, 5, 1500*time.Millisecond, logger, "/api/health")(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/pairs", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:203.0.113.7"}, limiter.keys)
	assert.True(t, lastLine(t, &buf).RateLimited)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, limiter.keys, 1)
}

func TestRateLimitFailsOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	limiter := &scriptedLimiter{err: errors.New("redis down")}
	h := RateLimit(limiter, 5, time.Second, logger)(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/pairs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), "redis down")
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://dash.example"})(okHandler)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/pairs", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "GET")
		return serve(h, req)
	}

	rec := preflight("https://dash.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	assert.Equal(t, http.StatusForbidden, preflight("https://evil.example").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/pairs", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
