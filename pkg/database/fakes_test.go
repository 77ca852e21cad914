package database

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type fakeRows struct {
	fields        []pgconn.FieldDescription
	values        [][]any
	pos           int
	err           error
	closed        bool
	panicOnValues bool
}

func newFakeRows(cols []string, values ...[]any) *fakeRows {
	fields := make([]pgconn.FieldDescription, len(cols))
	for i, c := range cols {
		fields[i] = pgconn.FieldDescription{Name: c, DataTypeOID: pgtype.TextOID}
	}
	return &fakeRows{fields: fields, values: values, pos: -1}
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Scan(dest ...any) error                       { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.values)
}

func (r *fakeRows) Values() ([]any, error) {
	if r.panicOnValues {
		panic("decode exploded")
	}
	return r.values[r.pos], nil
}

type fakeConn struct {
	backend *fakeBackend
	rows    func() (pgx.Rows, error)
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.rows()
}

func (c *fakeConn) Release() {
	c.backend.released.Add(1)
}

type fakeBackend struct {
	mu         sync.Mutex
	acquireErr error
	rows       func() (pgx.Rows, error)
	acquired   atomic.Int64
	released   atomic.Int64
	closed     atomic.Bool
}

func (b *fakeBackend) Acquire(ctx context.Context) (conn, error) {
	b.mu.Lock()
	err := b.acquireErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	b.acquired.Add(1)
	return &fakeConn{backend: b, rows: b.rows}, nil
}

func (b *fakeBackend) setAcquireErr(err error) {
	b.mu.Lock()
	b.acquireErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) Ping(ctx context.Context) error { return nil }
func (b *fakeBackend) Stat() BackendStats           { return BackendStats{MaxConns: 50} }
func (b *fakeBackend) Close()                       { b.closed.Store(true) }

// fakeQuerier returns scripted results in order, repeating the last one.
type fakeQuerier struct {
	mu      sync.Mutex
	results []fakeQueryResult
	calls   int
	block   chan struct{}
}

type fakeQueryResult struct {
	res *QueryResult
	err error
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	if q.block != nil {
		select {
		case <-q.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.calls
	if i >= len(q.results) {
		i = len(q.results) - 1
	}
	q.calls++
	return q.results[i].res, q.results[i].err
}

func (q *fakeQuerier) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}
