package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/llm"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
)

type poolStats database.PoolStats

func (p poolStats) Stats() database.PoolStats { return database.PoolStats(p) }

type sessionStats session.StoreStats

func (s sessionStats) Stats() session.StoreStats { return session.StoreStats(s) }

func TestStatsHandler(t *testing.T) {
	monitor := database.NewMonitor(0, 0, 0, zap.NewNop())
	monitor.Record(database.QueryRecord{SQL: "SELECT 1 LIMIT 50", Success: true, Rows: 1})

	h := NewStatsHandler(StatsSources{
		Pool:     poolStats{Acquired: 7, Returned: 7},
		Monitor:  monitor,
		Oracle:   llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		Sessions: sessionStats{Sessions: 3, Active: 1},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Pool     *database.PoolStats    `json:"pool"`
		Queries  *database.MonitorStats `json:"queries"`
		LLM      map[string]any         `json:"llm"`
		Sessions *session.StoreStats    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Pool)
	assert.Equal(t, int64(7), resp.Pool.Acquired)
	require.NotNil(t, resp.Queries)
	assert.Equal(t, int64(1), resp.Queries.Queries)
	assert.Equal(t, "closed", resp.LLM["state"])
	require.NotNil(t, resp.Sessions)
	assert.Equal(t, 3, resp.Sessions.Sessions)
}

func TestStatsHandler_MissingSources(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStatsHandler(StatsSources{}, zap.NewNop()).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}
