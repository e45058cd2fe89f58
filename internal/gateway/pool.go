package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// Pool is a fixed-capacity set of gateway sessions sharing one credential.
// Sessions are created up front to startingSize and on demand up to maxSize.
type Pool struct {
	cfg    ConnectionConfig
	logger *zap.Logger

	free chan *conn

	mu      sync.Mutex
	created int
	max     int
	closed  bool
}

// OpenPool dials the gateway and returns a ready pool. The first
// startingSize sessions are opened eagerly so that credential or TLS
// problems surface immediately.
func OpenPool(ctx context.Context, cfg ConnectionConfig, startingSize, maxSize int, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 1
	}
	if startingSize <= 0 {
		startingSize = 1
	}
	if startingSize > maxSize {
		startingSize = maxSize
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		free:   make(chan *conn, maxSize),
		max:    maxSize,
	}

	for i := 0; i < startingSize; i++ {
		c, err := dial(ctx, cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.created++
		p.free <- c
	}

	logger.Debug("gateway pool opened",
		zap.String("endpoint", cfg.Endpoint()),
		zap.Int("startingSize", startingSize),
		zap.Int("maxSize", maxSize))
	return p, nil
}

// acquire blocks until a session is free, growing the pool up to maxSize.
func (p *Pool) acquire(ctx context.Context) (*conn, error) {
	select {
	case c := <-p.free:
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.New(errs.KindDatabase, "gateway pool is closed")
	}
	if p.created < p.max {
		p.created++
		p.mu.Unlock()
		c, err := dial(ctx, p.cfg)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}
	p.mu.Unlock()

	select {
	case c := <-p.free:
		return c, nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, "cancelled waiting for a gateway session", ctx.Err())
	}
}

// release returns a healthy session to the free list. Broken sessions are
// discarded and their slot becomes available for a fresh dial.
func (p *Pool) release(c *conn, healthy bool) {
	p.mu.Lock()
	closed := p.closed
	if !healthy || closed {
		p.created--
	}
	p.mu.Unlock()

	if !healthy || closed {
		_ = c.close()
		return
	}
	p.free <- c
}

// Execute runs one SQL statement with positional parameters. The returned
// Query continues or closes the server-side cursor; callers must always
// Close it, including when the first batch is already complete.
func (p *Pool) Execute(ctx context.Context, sql string, params []interface{}, fetchSize int) (*Result, *Query, error) {
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}

	c, err := p.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.roundTrip(ctx, request{
		ID:         uuid.NewString(),
		Type:       typeSQL,
		SQL:        sql,
		Parameters: params,
		Rows:       fetchSize,
	})
	if err != nil {
		p.release(c, false)
		return nil, nil, err
	}
	if !resp.Success {
		p.release(c, true)
		return nil, nil, errs.Newf(errs.KindDatabase, "query failed: %s", resp.errorMessage()).
			WithDetail("sqlReturnCode", resp.SQLReturnCode).
			WithDetail("sqlState", resp.SQLState)
	}

	q := &Query{pool: p, conn: c, continueID: resp.ContinueID, done: resp.IsDone}
	return &resp.Result, q, nil
}

// Close drains and closes every session. Idempotent; in-flight sessions
// are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.free:
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			_ = c.close()
		default:
			p.logger.Debug("gateway pool closed", zap.String("endpoint", p.cfg.Endpoint()))
			return
		}
	}
}
