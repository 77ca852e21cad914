package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/retry"
)

const (
	DefaultMinConns         = 5
	DefaultMaxConns         = 50
	DefaultAcquireTimeout   = 10 * time.Second
	DefaultCleanupThreshold = 10
)

// ErrPoolClosed is returned by operations on a closed pool.
var ErrPoolClosed = errors.New("connection pool closed")

// PoolConfig holds pool sizing and timeouts.
type PoolConfig struct {
	ConnString       string
	MinConns         int32
	MaxConns         int32
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
	// CleanupThreshold is how many consecutive acquisition failures trigger
	// a drain and re-create.
	CleanupThreshold int
}

// PoolConfigFrom converts the database section of the service config.
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	return PoolConfig{
		ConnString:       cfg.ConnectionString(),
		MinConns:         cfg.MinConnections,
		MaxConns:         cfg.MaxConnections,
		AcquireTimeout:   cfg.ConnectionTimeout,
		StatementTimeout: cfg.StatementTimeout,
		CleanupThreshold: cfg.CleanupThreshold,
	}
}

func (c *PoolConfig) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.CleanupThreshold <= 0 {
		c.CleanupThreshold = DefaultCleanupThreshold
	}
}

// conn is the part of *pgxpool.Conn the pool uses.
type conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Release()
}

// backend is a set of live connections that can be drained as a unit.
type backend interface {
	Acquire(ctx context.Context) (conn, error)
	Ping(ctx context.Context) error
	Stat() BackendStats
	Close()
}

// BackendStats are the driver-level pool gauges.
type BackendStats struct {
	TotalConns int32 `json:"total_conns"`
	IdleConns  int32 `json:"idle_conns"`
	MaxConns   int32 `json:"max_conns"`
}

type pgxBackend struct {
	pool *pgxpool.Pool
}

func (b *pgxBackend) Acquire(ctx context.Context) (conn, error) {
	c, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (b *pgxBackend) Ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func (b *pgxBackend) Stat() BackendStats {
	s := b.pool.Stat()
	return BackendStats{TotalConns: s.TotalConns(), IdleConns: s.IdleConns(), MaxConns: s.MaxConns()}
}

func (b *pgxBackend) Close() { b.pool.Close() }

// PoolStats are the acquisition counters. Acquired - Returned equals the
// number of connections currently checked out.
type PoolStats struct {
	Acquired            int64        `json:"acquired"`
	Returned            int64        `json:"returned"`
	Failed              int64        `json:"failed"`
	InUse               int64        `json:"in_use"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Recreated           int64        `json:"recreated"`
	Backend             BackendStats `json:"backend"`
}

// Pool is the only owner of database connections. Every statement borrows
// a connection for exactly its own duration.
type Pool struct {
	cfg        PoolConfig
	newBackend func(ctx context.Context) (backend, error)
	logger     *zap.Logger

	mu       sync.Mutex
	backend  backend
	stats    PoolStats
	draining bool
	closed   bool
	drainWG  sync.WaitGroup
}

// NewPool connects to Postgres. Every session runs read-only with the
// configured statement timeout.
func NewPool(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	cfg.applyDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "fleetql"
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	if cfg.StatementTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	factory := func(ctx context.Context) (backend, error) {
		return retry.DoWithResult(ctx, retry.DefaultConfig(), func() (backend, error) {
			pool, err := pgxpool.NewWithConfig(ctx, poolConfig.Copy())
			if err != nil {
				return nil, err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return nil, err
			}
			return &pgxBackend{pool: pool}, nil
		})
	}

	return newPool(ctx, cfg, factory, logger)
}

func newPool(ctx context.Context, cfg PoolConfig, factory func(ctx context.Context) (backend, error), logger *zap.Logger) (*Pool, error) {
	cfg.applyDefaults()

	b, err := factory(ctx)
	if err != nil {
		return nil, apperrors.Wrap(Classify(err), "", fmt.Errorf("failed to create connection pool: %w", err))
	}

	return &Pool{
		cfg:        cfg,
		newBackend: factory,
		backend:    b,
		logger:     logger.Named("pool"),
	}, nil
}

// Query borrows a connection, runs sql and collects the rows. The connection
// goes back to the pool on every path, including a panic while scanning.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	c, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(c)

	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRows(rows)
}

// Ping checks that the current backend answers.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	b := p.backend
	p.mu.Unlock()
	return b.Ping(ctx)
}

func (p *Pool) acquire(ctx context.Context) (conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.KindConnectionLost, "", ErrPoolClosed)
	}
	b := p.backend
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	c, err := b.Acquire(acquireCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.recordFailure(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.KindPoolExhausted, "", fmt.Errorf("no connection within %s: %w", p.cfg.AcquireTimeout, err))
		}
		return nil, classified(err)
	}

	p.mu.Lock()
	p.stats.Acquired++
	p.stats.InUse++
	p.stats.ConsecutiveFailures = 0
	p.mu.Unlock()

	return c, nil
}

func (p *Pool) release(c conn) {
	c.Release()

	p.mu.Lock()
	p.stats.Returned++
	p.stats.InUse--
	p.mu.Unlock()
}

func (p *Pool) recordFailure(err error) {
	p.mu.Lock()
	p.stats.Failed++
	p.stats.ConsecutiveFailures++
	trigger := p.stats.ConsecutiveFailures > p.cfg.CleanupThreshold && !p.draining && !p.closed
	if trigger {
		p.draining = true
	}
	failures := p.stats.ConsecutiveFailures
	p.mu.Unlock()

	p.logger.Warn("Connection acquisition failed",
		zap.Int("consecutive_failures", failures),
		zap.String("error", logging.SanitizeError(err)))

	if trigger {
		p.recreate()
	}
}

// recreate drains the current backend and replaces it. The old backend is
// closed in the background since pgxpool.Close waits for borrowed
// connections to come back.
func (p *Pool) recreate() {
	p.logger.Warn("Consecutive acquisition failures exceeded threshold, recreating pool",
		zap.Int("threshold", p.cfg.CleanupThreshold))

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()
	nb, err := p.newBackend(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.draining = false

	if err != nil {
		p.logger.Error("Failed to recreate pool", zap.String("error", logging.SanitizeError(err)))
		return
	}
	if p.closed {
		nb.Close()
		return
	}

	old := p.backend
	p.backend = nb
	p.stats.Recreated++
	p.stats.ConsecutiveFailures = 0

	p.drainWG.Add(1)
	go func() {
		defer p.drainWG.Done()
		old.Close()
	}()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	if p.backend != nil && !p.closed {
		s.Backend = p.backend.Stat()
	}
	return s
}

// Close drains the pool. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	b := p.backend
	p.mu.Unlock()

	b.Close()
	p.drainWG.Wait()
	p.logger.Info("Connection pool closed")
}
