package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// Query is an open server-side cursor pinned to one gateway session.
type Query struct {
	pool       *Pool
	conn       *conn
	continueID string

	mu     sync.Mutex
	done   bool
	closed bool
}

// Done reports whether the gateway has marked the cursor complete.
func (q *Query) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// FetchMore requests the next batch of rows.
func (q *Query) FetchMore(ctx context.Context, fetchSize int) (*Result, error) {
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errs.New(errs.KindDatabase, "query is closed")
	}
	if q.done {
		q.mu.Unlock()
		return &Result{Success: true, IsDone: true}, nil
	}
	q.mu.Unlock()

	resp, err := q.conn.roundTrip(ctx, request{
		ID:         uuid.NewString(),
		Type:       typeSQLMore,
		ContinueID: q.continueID,
		Rows:       fetchSize,
	})
	if err != nil {
		q.abandon()
		return nil, err
	}
	if !resp.Success {
		return nil, errs.Newf(errs.KindDatabase, "fetch failed: %s", resp.errorMessage()).
			WithDetail("sqlReturnCode", resp.SQLReturnCode).
			WithDetail("sqlState", resp.SQLState)
	}

	q.mu.Lock()
	q.done = resp.IsDone
	q.mu.Unlock()
	return &resp.Result, nil
}

// Close releases the cursor and returns the session to the pool. Idempotent.
// An already-done cursor needs no sqlclose exchange.
func (q *Query) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	needsClose := !q.done && q.continueID != ""
	q.mu.Unlock()

	if !needsClose {
		q.pool.release(q.conn, true)
		return nil
	}

	_, err := q.conn.roundTrip(ctx, request{
		ID:         uuid.NewString(),
		Type:       typeSQLClose,
		ContinueID: q.continueID,
	})
	q.pool.release(q.conn, err == nil)
	return err
}

// abandon marks the query closed after an I/O failure and discards the
// now-unreliable session.
func (q *Query) abandon() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.pool.release(q.conn, false)
}
