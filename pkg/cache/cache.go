// Package cache is the best-effort key-value layer in front of query
// execution. Backends store opaque bytes with a TTL; callers decide the
// encoding and the TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/config"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a thread-safe get / setex / delete store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// KeyPrefix namespaces every query-result key.
const KeyPrefix = "fleetql:q:"

// Key hashes the SQL text (whitespace-normalised) plus bound parameters.
func Key(sql string, args []any) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(strings.Fields(sql), " ")))
	for _, a := range args {
		fmt.Fprintf(h, "\x00%T:%v", a, a)
	}
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// New selects a backend from configuration. A networked backend that cannot
// be reached degrades to the in-memory one: the system runs with whatever
// cache it can get.
func New(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) Cache {
	if !cfg.Enabled {
		logger.Info("Query cache disabled")
		return Nop{}
	}

	if cfg.URL != "" {
		r, err := NewRedis(ctx, cfg.URL)
		if err == nil {
			logger.Info("Query cache using redis", zap.String("url", logging.SanitizeConnectionString(cfg.URL)))
			return r
		}
		logger.Warn("Redis cache unavailable, falling back to memory",
			zap.String("error", logging.SanitizeError(err)))
	}

	logger.Info("Query cache using memory")
	return NewMemory(cfg.DefaultTTL, time.Minute)
}

// Nop is the absent cache. Every Get misses and every write succeeds.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error)                { return nil, ErrMiss }
func (Nop) SetEx(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error                       { return nil }
func (Nop) Close() error                                               { return nil }
