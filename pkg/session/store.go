package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 2 * time.Hour

// StoreConfig configures a Store.
type StoreConfig struct {
	MaxFrames int
	TTL       time.Duration
	// SweepInterval defaults to a quarter of TTL, at least one second.
	SweepInterval time.Duration
}

// StoreStats counts live sessions.
type StoreStats struct {
	Sessions int   `json:"sessions"`
	Active   int   `json:"active"`
	Expired  int64 `json:"expired"`
}

type entry struct {
	ctx      *Context
	lock     chan struct{}
	refs     int
	lastUsed time.Time
}

// Store maps session ids to contexts. Requests for one session are
// serialized: Acquire blocks until the previous holder releases.
type Store struct {
	cfg       StoreConfig
	persister Persister
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	expired  int64
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewStore creates a store and starts its TTL sweeper. persister may be nil.
func NewStore(cfg StoreConfig, persister Persister, logger *zap.Logger) *Store {
	if cfg.MaxFrames < DefaultMaxFrames {
		cfg.MaxFrames = DefaultMaxFrames
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = max(cfg.TTL/4, time.Second)
	}

	s := &Store{
		cfg:       cfg,
		persister: persister,
		logger:    logger.Named("sessions"),
		now:       time.Now,
		sessions:  make(map[string]*entry),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Acquire returns the session's context for exclusive use, creating it on
// first access. The release func must be called exactly once; extra calls
// are ignored. Acquire returns ctx.Err() if ctx ends while waiting.
func (s *Store) Acquire(ctx context.Context, id string) (*Context, func(), error) {
	if id == "" {
		return nil, nil, apperrors.ErrSessionNotFound
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, apperrors.ErrStoreClosed
	}
	e, ok := s.sessions[id]
	if !ok {
		e = &entry{ctx: s.newContext(id), lock: make(chan struct{}, 1)}
		s.sessions[id] = e
	}
	e.refs++
	e.lastUsed = s.now()
	s.mu.Unlock()

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		e.refs--
		s.mu.Unlock()
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			e.refs--
			e.lastUsed = s.now()
			s.mu.Unlock()
			<-e.lock
		})
	}
	return e.ctx, release, nil
}

func (s *Store) newContext(id string) *Context {
	c := NewContext(id, s.cfg.MaxFrames)
	if s.persister == nil {
		return c
	}

	frames, err := s.persister.Load(id)
	if err != nil {
		s.logger.Warn("Failed to load persisted session",
			zap.String("session_id", id),
			zap.String("error", logging.SanitizeError(err)))
	} else if len(frames) > 0 {
		c.restore(frames)
	}

	c.onPush = func(f *ResultFrame) {
		if err := s.persister.Save(id, f, s.cfg.TTL); err != nil {
			s.logger.Warn("Failed to persist frame",
				zap.String("session_id", id),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	c.onClear = func() {
		if err := s.persister.Delete(id); err != nil {
			s.logger.Warn("Failed to delete persisted session",
				zap.String("session_id", id),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	return c
}

// Clear drops a session's frames, waiting for any in-flight request on it.
func (s *Store) Clear(ctx context.Context, id string) error {
	c, release, err := s.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	c.Clear()
	return nil
}

// Stats returns session counts.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StoreStats{Sessions: len(s.sessions), Expired: s.expired}
	for _, e := range s.sessions {
		if e.refs > 0 {
			st.Active++
		}
	}
	return st
}

func (s *Store) sweep() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.expire()
		}
	}
}

// expire drops idle sessions older than the TTL. Persisted frames expire
// on their own.
func (s *Store) expire() {
	cutoff := s.now().Add(-s.cfg.TTL)

	s.mu.Lock()
	var n int
	for id, e := range s.sessions {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	s.expired += int64(n)
	s.mu.Unlock()

	if n > 0 {
		s.logger.Debug("Expired idle sessions", zap.Int("count", n))
	}
}

// Close stops the sweeper and closes the persister. Later Acquire calls
// return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}
