package database

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
)

const (
	DefaultSlowQueryThreshold = 2 * time.Second
	DefaultErrorRateThreshold = 0.10
	DefaultErrorRateWindow    = 100

	// minAlertSamples keeps a single early failure from reading as 100%.
	minAlertSamples = 10
)

// QueryRecord describes one call to the executor.
type QueryRecord struct {
	SQL      string
	UserID   string
	Duration time.Duration
	Rows     int
	Success  bool
	Kind     apperrors.Kind
	CacheHit bool
	Attempts int
}

// MonitorStats is a snapshot of execution totals.
type MonitorStats struct {
	Queries       int64            `json:"queries"`
	Failures      int64            `json:"failures"`
	CacheHits     int64            `json:"cache_hits"`
	SlowQueries   int64            `json:"slow_queries"`
	Retries       int64            `json:"retries"`
	ErrorRate     float64          `json:"error_rate"`
	AvgDurationMS float64          `json:"avg_duration_ms"`
	ByKind        map[string]int64 `json:"by_kind"`
}

// Monitor keeps execution totals and a rolling error window.
type Monitor struct {
	slowThreshold time.Duration
	rateThreshold float64
	logger        *zap.Logger

	mu            sync.Mutex
	window        []bool // true = failure
	pos           int
	filled        int
	windowFails   int
	alerting      bool
	totalDuration time.Duration
	stats         MonitorStats
}

// NewMonitor creates a monitor. Zero values fall back to the defaults.
func NewMonitor(slow time.Duration, errorRate float64, window int, logger *zap.Logger) *Monitor {
	if slow <= 0 {
		slow = DefaultSlowQueryThreshold
	}
	if errorRate <= 0 {
		errorRate = DefaultErrorRateThreshold
	}
	if window <= 0 {
		window = DefaultErrorRateWindow
	}
	return &Monitor{
		slowThreshold: slow,
		rateThreshold: errorRate,
		window:        make([]bool, window),
		logger:        logger.Named("monitor"),
		stats:         MonitorStats{ByKind: make(map[string]int64)},
	}
}

// Record adds one execution and emits slow-query and error-rate alerts.
func (m *Monitor) Record(rec QueryRecord) {
	m.mu.Lock()
	m.stats.Queries++
	m.totalDuration += rec.Duration
	if rec.CacheHit {
		m.stats.CacheHits++
	}
	if rec.Attempts > 1 {
		m.stats.Retries += int64(rec.Attempts - 1)
	}
	if !rec.Success {
		m.stats.Failures++
		m.stats.ByKind[rec.Kind.String()]++
	}
	slow := rec.Duration > m.slowThreshold
	if slow {
		m.stats.SlowQueries++
	}

	if m.filled == len(m.window) && m.window[m.pos] {
		m.windowFails--
	}
	m.window[m.pos] = !rec.Success
	if !rec.Success {
		m.windowFails++
	}
	m.pos = (m.pos + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}

	rate := m.rateLocked()
	crossed := m.filled >= minAlertSamples && rate > m.rateThreshold
	raise := crossed && !m.alerting
	recovered := !crossed && m.alerting
	m.alerting = crossed
	m.mu.Unlock()

	if slow {
		m.logger.Warn("Slow query",
			zap.Duration("duration", rec.Duration),
			zap.Duration("threshold", m.slowThreshold),
			zap.Int("rows", rec.Rows),
			zap.String("sql", logging.SanitizeQuery(rec.SQL)))
	}
	if raise {
		m.logger.Error("Query error rate above threshold",
			zap.Float64("error_rate", rate),
			zap.Float64("threshold", m.rateThreshold),
			zap.String("last_kind", rec.Kind.String()))
	}
	if recovered {
		m.logger.Info("Query error rate recovered", zap.Float64("error_rate", rate))
	}
}

func (m *Monitor) rateLocked() float64 {
	if m.filled == 0 {
		return 0
	}
	return float64(m.windowFails) / float64(m.filled)
}

// ErrorRate returns the failure ratio over the rolling window.
func (m *Monitor) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLocked()
}

// Alerting reports whether the error rate is currently above threshold.
func (m *Monitor) Alerting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerting
}

// Snapshot returns a copy of the totals.
func (m *Monitor) Snapshot() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.ByKind = make(map[string]int64, len(m.stats.ByKind))
	for k, v := range m.stats.ByKind {
		s.ByKind[k] = v
	}
	s.ErrorRate = m.rateLocked()
	if s.Queries > 0 {
		s.AvgDurationMS = float64(m.totalDuration.Microseconds()) / float64(s.Queries) / 1000
	}
	return s
}
