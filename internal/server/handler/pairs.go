package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
)

// StatusSource reports per-pair monitor state.
type StatusSource interface {
	Statuses() []arbitrage.MonitorStatus
}

// PairsHandler serves the monitored pairs and their monitor counters.
type PairsHandler struct {
	source    StatusSource
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewPairsHandler creates a PairsHandler.
func NewPairsHandler(source StatusSource, mode string, logger *slog.Logger) *PairsHandler {
	return &PairsHandler{source: source, mode: mode, startedAt: time.Now().UTC(), logger: logger}
}

type pairsResponse struct {
	Mode          string                    `json:"mode"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Pairs         []arbitrage.MonitorStatus `json:"pairs"`
}

// ListPairs returns one status entry per monitored pair.
// GET /api/pairs
func (h *PairsHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	resp := pairsResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Pairs:         []arbitrage.MonitorStatus{},
	}
	if h.source != nil {
		if st := h.source.Statuses(); st != nil {
			resp.Pairs = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
