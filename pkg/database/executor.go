package database

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/cache"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/retry"
)

// Querier runs one statement and returns its rows. *Pool implements it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (*QueryResult, error)
}

// ExecOptions carries per-call metadata.
type ExecOptions struct {
	UserID string
	// RealTime skips cached results and caches under the realtime TTL.
	RealTime bool
	// Tables are the catalog tables the statement reads, as reported by the
	// validator. They pick the cache TTL; when empty the SQL text is scanned.
	Tables []string
	Args   []any
}

// ExecutorConfig wires the optional collaborators of an Executor.
type ExecutorConfig struct {
	Retry        *retry.Config
	Cache        cache.Cache
	TTL          *cache.TTLPolicy
	CacheTimeout time.Duration
	// QueryTimeout bounds one shared execution, retries included.
	QueryTimeout time.Duration
	Monitor      *Monitor
}

// Executor fronts the pool with caching, classified retries and monitoring.
type Executor struct {
	db           Querier
	retryCfg     retry.Config
	cache        cache.Cache
	ttl          *cache.TTLPolicy
	cacheTimeout time.Duration
	queryTimeout time.Duration
	monitor      *Monitor
	group        singleflight.Group
	logger       *zap.Logger
}

// NewExecutor creates an executor over db. A nil cache runs uncached.
func NewExecutor(db Querier, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	retryCfg := retry.DefaultConfig()
	if cfg.Retry != nil {
		retryCfg = cfg.Retry
	}
	c := cfg.Cache
	if c == nil {
		c = cache.Nop{}
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = 500 * time.Millisecond
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Minute
	}
	mon := cfg.Monitor
	if mon == nil {
		mon = NewMonitor(0, 0, 0, logger)
	}

	return &Executor{
		db:           db,
		retryCfg:     *retryCfg,
		cache:        c,
		ttl:          cfg.TTL,
		cacheTimeout: cfg.CacheTimeout,
		queryTimeout: cfg.QueryTimeout,
		monitor:      mon,
		logger:       logger.Named("executor"),
	}
}

// Monitor exposes the executor's monitor for stats endpoints.
func (e *Executor) Monitor() *Monitor {
	return e.monitor
}

// Execute runs a validated SELECT.
//
// Retryable failures are retried with backoff; if they persist the error is
// returned. Permission errors are returned as-is. Any other failure yields
// an empty result whose Failure field explains what went wrong, so the
// caller can still answer the user.
//
// Identical statements in flight share one execution. That execution is
// detached from every caller's cancellation and bounded by QueryTimeout;
// each caller stops waiting when its own ctx is done.
func (e *Executor) Execute(ctx context.Context, sql string, opts ExecOptions) (*QueryResult, error) {
	start := time.Now()
	key := cache.Key(sql, opts.Args)

	if !opts.RealTime {
		if res, ok := e.fromCache(ctx, key); ok {
			e.monitor.Record(QueryRecord{
				SQL: sql, UserID: opts.UserID, Duration: time.Since(start),
				Rows: res.RowCount, Success: true, CacheHit: true,
			})
			return res, nil
		}
	}

	ch := e.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.queryTimeout)
		defer cancel()
		return e.run(rctx, sql, key, opts)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*QueryResult), nil
	}
}

func (e *Executor) run(ctx context.Context, sql, key string, opts ExecOptions) (*QueryResult, error) {
	start := time.Now()
	attempts := 0

	cfg := e.retryCfg
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Warn("Retrying query",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.String("kind", Classify(err).String()),
			zap.String("error", logging.SanitizeError(err)))
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	res, err := retry.DoIfRetryableWithResult(ctx, &cfg, func() (*QueryResult, error) {
		attempts++
		r, err := e.db.Query(ctx, sql, opts.Args...)
		if err != nil {
			return nil, classified(err)
		}
		return r, nil
	})

	rec := QueryRecord{SQL: sql, UserID: opts.UserID, Duration: time.Since(start), Attempts: attempts}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			rec.Kind = apperrors.KindUnknown
			e.monitor.Record(rec)
			return nil, ctxErr
		}

		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.Wrap(Classify(err), "", err)
		}
		rec.Kind = appErr.Kind
		e.monitor.Record(rec)

		e.logger.Error("Query failed",
			zap.String("kind", appErr.Kind.String()),
			zap.Int("attempts", attempts),
			zap.String("sql", logging.SanitizeQuery(sql)),
			zap.String("error", logging.SanitizeError(err)))

		if appErr.Kind.Retryable() || appErr.Kind == apperrors.KindPermissionDenied {
			return nil, appErr
		}
		return &QueryResult{Rows: make([]map[string]any, 0), Failure: appErr}, nil
	}

	rec.Success = true
	rec.Rows = res.RowCount
	e.monitor.Record(rec)

	e.logger.Debug("Query executed",
		zap.Int("rows", res.RowCount),
		zap.Duration("duration", rec.Duration),
		zap.String("sql", logging.SanitizeQuery(sql)))

	e.toCache(ctx, key, sql, opts, res)
	return res, nil
}

func (e *Executor) fromCache(ctx context.Context, key string) (*QueryResult, bool) {
	if _, nop := e.cache.(cache.Nop); nop {
		return nil, false
	}

	cctx, cancel := context.WithTimeout(ctx, e.cacheTimeout)
	defer cancel()

	b, err := e.cache.Get(cctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logCacheFailure("get", err)
		}
		return nil, false
	}

	res, err := DecodeResult(b)
	if err != nil {
		e.logCacheFailure("decode", err)
		return nil, false
	}
	return res, true
}

func (e *Executor) toCache(ctx context.Context, key, sql string, opts ExecOptions, res *QueryResult) {
	if _, nop := e.cache.(cache.Nop); nop || e.ttl == nil {
		return
	}

	ttl, class := e.ttl.Classify(sql, opts.Tables, opts.RealTime)
	b, err := EncodeResult(res)
	if err != nil {
		e.logCacheFailure("encode", err)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.cacheTimeout)
	defer cancel()
	if err := e.cache.SetEx(cctx, key, b, ttl); err != nil {
		e.logCacheFailure("set", err)
		return
	}
	e.logger.Debug("Cached query result", zap.String("class", string(class)), zap.Duration("ttl", ttl))
}

func (e *Executor) logCacheFailure(op string, err error) {
	e.logger.Warn("Cache operation failed",
		zap.String("op", op),
		zap.String("kind", apperrors.KindCacheFailure.String()),
		zap.String("error", logging.SanitizeError(err)))
}
