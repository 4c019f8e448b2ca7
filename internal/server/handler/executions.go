package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
)

// streamScan caps how many stream entries the list fallback inspects.
const streamScan = 2000

// ExecutionsHandler serves recorded executions, realised profit and the
// audit log. A nil store answers 501, except for the list endpoint when an
// event log is attached.
type ExecutionsHandler struct {
	store  domain.ExecutionStore
	audit  domain.AuditLog
	events domain.EventBus
	logger *slog.Logger
}

// NewExecutionsHandler creates an ExecutionsHandler.
func NewExecutionsHandler(store domain.ExecutionStore, logger *slog.Logger) *ExecutionsHandler {
	return &ExecutionsHandler{store: store, logger: logger}
}

// WithAuditLog enables GET /api/audit.
func (h *ExecutionsHandler) WithAuditLog(audit domain.AuditLog) *ExecutionsHandler {
	h.audit = audit
	return h
}

// WithEventLog lets ListExecutions read the execution stream when no store
// is configured. The stream also carries dry runs.
func (h *ExecutionsHandler) WithEventLog(bus domain.EventBus) *ExecutionsHandler {
	h.events = bus
	return h
}

type listExecutionsResponse struct {
	Executions []executor.Event `json:"executions"`
	Source     string           `json:"source"`
}

// ListExecutions returns recent executions, newest first.
// GET /api/executions?pair=BOB_ICP&limit=20
func (h *ExecutionsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	limit := parseLimit(r, 20, 200)

	if h.store == nil {
		if h.events == nil {
			writeError(w, http.StatusNotImplemented, "execution store not configured")
			return
		}
		h.listFromStream(w, r, pair, limit)
		return
	}

	results, err := h.store.ListRecent(r.Context(), pair, limit)
	if err != nil {
		h.logger.Error("failed to list executions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := listExecutionsResponse{Executions: make([]executor.Event, 0, len(results)), Source: "store"}
	for _, res := range results {
		resp.Executions = append(resp.Executions, executor.NewEvent(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// listFromStream answers ListExecutions from the redis execution stream,
// newest first.
func (h *ExecutionsHandler) listFromStream(w http.ResponseWriter, r *http.Request, pair string, limit int) {
	msgs, err := domain.StreamSince(r.Context(), h.events, domain.StreamExecutions, time.Time{}, streamScan)
	if err != nil {
		h.logger.Error("failed to read execution stream", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := listExecutionsResponse{Executions: make([]executor.Event, 0, limit), Source: "stream"}
	for i := len(msgs) - 1; i >= 0 && len(resp.Executions) < limit; i-- {
		var ev executor.Event
		if err := json.Unmarshal(msgs[i].Payload, &ev); err != nil {
			h.logger.Warn("skipping undecodable stream entry", slog.String("id", msgs[i].ID))
			continue
		}
		if pair != "" && ev.Pair != pair {
			continue
		}
		resp.Executions = append(resp.Executions, ev)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetExecution returns one execution with both legs.
// GET /api/executions/{id}
func (h *ExecutionsHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution store not configured")
		return
	}

	id := r.PathValue("id")
	res, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get execution", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, executor.NewEvent(res))
}

type profitResponse struct {
	Since  time.Time `json:"since"`
	Profit float64   `json:"profit"`
}

// Profit sums realised profit of fully successful executions.
// GET /api/profit?since=2024-01-01T00:00:00Z (default: last 24h)
func (h *ExecutionsHandler) Profit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "execution store not configured")
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	total, err := h.store.SumProfit(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to sum profit", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to sum profit")
		return
	}
	writeJSON(w, http.StatusOK, profitResponse{Since: since, Profit: total})
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit log entries.
// GET /api/audit?limit=50&offset=0&since=...
func (h *ExecutionsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("failed to list audit log", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
