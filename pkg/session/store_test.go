package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
)

func newTestStore(t *testing.T, persister Persister) *Store {
	t.Helper()
	s := NewStore(StoreConfig{TTL: time.Hour, SweepInterval: time.Hour}, persister, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AcquireCreatesOnce(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	c1, release, err := s.Acquire(ctx, "abc")
	require.NoError(t, err)
	c1.Push(frameWithTopics("q1"))
	release()
	release() // second call is a no-op

	c2, release, err := s.Acquire(ctx, "abc")
	require.NoError(t, err)
	defer release()
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, c2.Len())

	st := s.Stats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Active)

	require.NoError(t, s.Close())
}

func TestStore_EmptyID(t *testing.T) {
	s := newTestStore(t, nil)
	_, _, err := s.Acquire(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestStore_SerializesRequests(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, release, err := s.Acquire(ctx, "shared")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			c.Push(frameWithTopics("q"))
			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	c, release, err := s.Acquire(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())
	release()

	require.NoError(t, s.Close())
}

func TestStore_AcquireHonoursCancellation(t *testing.T) {
	s := newTestStore(t, nil)

	_, release, err := s.Acquire(context.Background(), "busy")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = s.Acquire(ctx, "busy")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.Stats().Active)
}

func TestStore_ExpiresIdleSessions(t *testing.T) {
	s := newTestStore(t, nil)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, release, err := s.Acquire(context.Background(), "idle")
	require.NoError(t, err)
	release()

	_, holdRelease, err := s.Acquire(context.Background(), "held")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	s.expire()

	st := s.Stats()
	assert.Equal(t, 1, st.Sessions, "held session survives")
	assert.EqualValues(t, 1, st.Expired)

	holdRelease()
	now = now.Add(2 * time.Hour)
	s.expire()
	assert.Zero(t, s.Stats().Sessions)
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	c, release, err := s.Acquire(ctx, "abc")
	require.NoError(t, err)
	c.Push(frameWithTopics("q1", "vehicle"))
	release()

	require.NoError(t, s.Clear(ctx, "abc"))
	assert.Zero(t, c.Len())
}

func TestStore_Closed(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err := s.Acquire(context.Background(), "abc")
	assert.ErrorIs(t, err, apperrors.ErrStoreClosed)
}
