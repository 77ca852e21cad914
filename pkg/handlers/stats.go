package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/llm"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
)

// StatsSources are the components that report counters. Any may be nil.
type StatsSources struct {
	Pool     interface{ Stats() database.PoolStats }
	Monitor  interface{ Snapshot() database.MonitorStats }
	Oracle   interface{ Stats() llm.BreakerStats }
	Sessions interface{ Stats() session.StoreStats }
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Pool     *database.PoolStats    `json:"pool,omitempty"`
	Queries  *database.MonitorStats `json:"queries,omitempty"`
	LLM      *llm.BreakerStats      `json:"llm,omitempty"`
	Sessions *session.StoreStats    `json:"sessions,omitempty"`
}

// StatsHandler reports operational counters.
type StatsHandler struct {
	src    StatsSources
	logger *zap.Logger
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(src StatsSources, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{src: src, logger: logger}
}

// RegisterRoutes registers the stats route on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/stats", h.Stats)
}

// Stats handles GET /api/stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if h.src.Pool != nil {
		s := h.src.Pool.Stats()
		resp.Pool = &s
	}
	if h.src.Monitor != nil {
		s := h.src.Monitor.Snapshot()
		resp.Queries = &s
	}
	if h.src.Oracle != nil {
		s := h.src.Oracle.Stats()
		resp.LLM = &s
	}
	if h.src.Sessions != nil {
		s := h.src.Sessions.Stats()
		resp.Sessions = &s
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}
