// Package pool owns the keyed collection of gateway connection pools:
// single-flight lazy initialization, policy-checked execution, pagination,
// health probes and teardown.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/gateway"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/security"
)

// Pool sizing defaults.
const (
	DefaultStartingSize = 2
	DefaultMaxSize      = 5
)

// maxFetchBatches caps the pagination loop against runaway cursors.
const maxFetchBatches = 100

// healthProbe is a known-safe statement every Db2 for i system answers.
const healthProbe = "SELECT 1 FROM SYSIBM.SYSDUMMY1"

// Health states.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// GatewayQuery is an open cursor. Implemented by *gateway.Query.
type GatewayQuery interface {
	FetchMore(ctx context.Context, fetchSize int) (*gateway.Result, error)
	Close(ctx context.Context) error
	Done() bool
}

// GatewayPool is the slice of the gateway client the manager needs.
// Implemented by *gateway.Pool; tests substitute fakes.
type GatewayPool interface {
	Execute(ctx context.Context, sql string, params []interface{}, fetchSize int) (*gateway.Result, GatewayQuery, error)
	Close()
}

// Opener dials a ready pool for one connection config.
type Opener func(ctx context.Context, cfg gateway.ConnectionConfig, startingSize, maxSize int) (GatewayPool, error)

// CertFetcher retrieves the endpoint's root certificate for verified TLS.
type CertFetcher func(ctx context.Context, endpoint string) ([]byte, error)

type realPool struct{ p *gateway.Pool }

func (r realPool) Execute(ctx context.Context, sql string, params []interface{}, fetchSize int) (*gateway.Result, GatewayQuery, error) {
	res, q, err := r.p.Execute(ctx, sql, params, fetchSize)
	if err != nil {
		return nil, nil, err
	}
	return res, q, nil
}

func (r realPool) Close() { r.p.Close() }

// state tracks one keyed pool. ready is non-nil exactly while an
// initialization is in flight; waiters block on it and then re-read.
type state struct {
	cfg         gateway.ConnectionConfig
	pool        GatewayPool
	initialized bool
	ready       chan struct{}
	initErr     error

	health          string
	lastHealthCheck time.Time
	lastError       error
}

// Manager owns every pool, keyed by identity or source name.
type Manager struct {
	logger    *zap.Logger
	opener    Opener
	fetchCert CertFetcher
	startSize int
	maxSize   int

	mu    sync.Mutex
	pools map[string]*state
}

// NewManager creates a manager dialing real gateway pools.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger,
		opener: func(ctx context.Context, cfg gateway.ConnectionConfig, startingSize, maxSize int) (GatewayPool, error) {
			p, err := gateway.OpenPool(ctx, cfg, startingSize, maxSize, logger)
			if err != nil {
				return nil, err
			}
			return realPool{p: p}, nil
		},
		fetchCert: gateway.FetchRootCertificate,
		startSize: DefaultStartingSize,
		maxSize:   DefaultMaxSize,
		pools:     make(map[string]*state),
	}
}

// WithOpener substitutes the pool opener and certificate fetcher; used by
// tests to run against fakes.
func (m *Manager) WithOpener(opener Opener, fetchCert CertFetcher) *Manager {
	m.opener = opener
	if fetchCert != nil {
		m.fetchCert = fetchCert
	}
	return m
}

// StaticKey is the pool key for a named configuration source.
func StaticKey(sourceName string) string { return "source:" + sourceName }

// TokenKey is the pool key for one authenticated session. The session id is
// random so tokens never appear in keys or logs.
func TokenKey(sessionID string) string { return "token:" + sessionID }

// IsTokenKey reports whether key identifies a per-session pool. Session
// pools carry the caller's handshake identity and must never be re-dialed
// with any other credentials.
func IsTokenKey(key string) bool { return strings.HasPrefix(key, "token:") }

// EnsurePool initializes the pool for key if needed and blocks until the
// in-flight initialization, ours or a concurrent caller's, resolves.
// Exactly one open is issued to the gateway per key at a time.
func (m *Manager) EnsurePool(ctx context.Context, key string, cfg gateway.ConnectionConfig) error {
	for {
		m.mu.Lock()
		st, ok := m.pools[key]
		if !ok {
			st = &state{cfg: cfg, health: HealthUnknown}
			m.pools[key] = st
		}
		if st.initialized {
			m.mu.Unlock()
			return nil
		}
		if st.ready != nil {
			ready := st.ready
			m.mu.Unlock()
			select {
			case <-ready:
			case <-ctx.Done():
				return errs.Wrap(errs.KindCancelled, "cancelled waiting for pool initialization", ctx.Err())
			}
			m.mu.Lock()
			err := st.initErr
			initialized := st.initialized
			m.mu.Unlock()
			if initialized {
				return nil
			}
			if err != nil {
				return err
			}
			// The winner failed and reset the state; retry as the opener.
			continue
		}
		st.ready = make(chan struct{})
		st.cfg = cfg
		m.mu.Unlock()

		err := m.initialize(ctx, key, st)

		m.mu.Lock()
		close(st.ready)
		st.ready = nil
		st.initErr = err
		if err != nil {
			st.initialized = false
			st.pool = nil
			st.health = HealthUnhealthy
			st.lastError = err
		}
		m.mu.Unlock()
		return err
	}
}

func (m *Manager) initialize(ctx context.Context, key string, st *state) error {
	cfg := st.cfg
	if !cfg.IgnoreUnauthorized && len(cfg.RootCA) == 0 {
		ca, err := m.fetchCert(ctx, cfg.Endpoint())
		if err != nil {
			return err
		}
		cfg.RootCA = ca
	}

	pool, err := m.opener(ctx, cfg, m.startSize, m.maxSize)
	if err != nil {
		m.logger.Warn("pool initialization failed",
			zap.String("key", key), zap.String("endpoint", cfg.Endpoint()), zap.Error(err))
		return err
	}

	m.mu.Lock()
	st.cfg = cfg
	st.pool = pool
	st.initialized = true
	st.health = HealthHealthy
	st.lastHealthCheck = time.Now()
	st.lastError = nil
	m.mu.Unlock()

	m.logger.Info("pool initialized",
		zap.String("key", key), zap.String("endpoint", cfg.Endpoint()))
	return nil
}

// Initialized reports whether the keyed pool is ready for queries.
func (m *Manager) Initialized(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.pools[key]
	return ok && st.initialized
}

// lookup resolves the keyed pool, waiting out an in-flight initialization
// so a query racing EnsurePool blocks instead of failing.
func (m *Manager) lookup(ctx context.Context, key string) (*state, GatewayPool, error) {
	for {
		m.mu.Lock()
		st, ok := m.pools[key]
		if !ok {
			m.mu.Unlock()
			return nil, nil, errs.Newf(errs.KindInitialization, "pool %q is not initialized", key)
		}
		if st.initialized {
			pool := st.pool
			m.mu.Unlock()
			return st, pool, nil
		}
		if st.ready == nil {
			m.mu.Unlock()
			return nil, nil, errs.Newf(errs.KindInitialization, "pool %q is not initialized", key)
		}
		ready := st.ready
		m.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, nil, errs.Wrap(errs.KindCancelled, "cancelled waiting for pool initialization", ctx.Err())
		}
	}
}

func (m *Manager) markHealth(st *state, healthy bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.lastHealthCheck = time.Now()
	if healthy {
		st.health = HealthHealthy
		st.lastError = nil
	} else {
		st.health = HealthUnhealthy
		st.lastError = err
	}
}

// ExecuteQuery runs one statement on the keyed pool and returns the first
// batch. The SQL is policy-checked first when a policy is supplied, and the
// parameter vector is checked against the wire type set.
func (m *Manager) ExecuteQuery(ctx context.Context, key, sql string, params []interface{}, policy *security.Policy) (*gateway.Result, error) {
	st, pool, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		if err := security.Validate(sql, *policy); err != nil {
			return nil, err
		}
	}
	if err := validateWireValues(params); err != nil {
		return nil, err
	}

	res, q, err := pool.Execute(ctx, sql, params, gateway.DefaultFetchSize)
	if err != nil {
		m.markHealth(st, false, err)
		return nil, err
	}
	if cerr := q.Close(ctx); cerr != nil {
		m.logger.Debug("cursor close failed", zap.String("key", key), zap.Error(cerr))
	}
	m.markHealth(st, true, nil)
	return res, nil
}

// AggregatedResult is the concatenation of every fetched batch.
type AggregatedResult struct {
	Data          []map[string]interface{}
	Columns       []gateway.Column
	ExecutionTime float64
	UpdateCount   int
	JobID         string
	Batches       int
	Truncated     bool
}

// ExecuteQueryWithPagination runs one statement and follows the cursor until
// the gateway reports completion or the batch cap is hit.
func (m *Manager) ExecuteQueryWithPagination(ctx context.Context, key, sql string, params []interface{}, fetchSize int, policy *security.Policy) (*AggregatedResult, error) {
	st, pool, err := m.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		if err := security.Validate(sql, *policy); err != nil {
			return nil, err
		}
	}
	if err := validateWireValues(params); err != nil {
		return nil, err
	}
	if fetchSize <= 0 {
		fetchSize = gateway.DefaultFetchSize
	}

	res, q, err := pool.Execute(ctx, sql, params, fetchSize)
	if err != nil {
		m.markHealth(st, false, err)
		return nil, err
	}
	defer func() {
		if cerr := q.Close(ctx); cerr != nil {
			m.logger.Debug("cursor close failed", zap.String("key", key), zap.Error(cerr))
		}
	}()

	agg := &AggregatedResult{
		Data:          res.Data,
		Columns:       res.Columns,
		ExecutionTime: res.ExecutionTime,
		UpdateCount:   res.UpdateCount,
		JobID:         res.JobID,
		Batches:       1,
	}

	done := res.IsDone
	for !done {
		if agg.Batches >= maxFetchBatches {
			agg.Truncated = true
			m.logger.Warn("pagination stopped at batch cap",
				zap.String("key", key), zap.Int("batches", agg.Batches))
			break
		}
		next, err := q.FetchMore(ctx, fetchSize)
		if err != nil {
			m.markHealth(st, false, err)
			return nil, err
		}
		agg.Data = append(agg.Data, next.Data...)
		agg.ExecutionTime += next.ExecutionTime
		agg.Batches++
		done = next.IsDone
	}

	m.markHealth(st, true, nil)
	return agg, nil
}

// CheckPoolHealth probes the keyed pool and records the outcome.
func (m *Manager) CheckPoolHealth(ctx context.Context, key string) error {
	_, err := m.ExecuteQuery(ctx, key, healthProbe, nil, nil)
	return err
}

// Status reports one pool's health for diagnostics.
type Status struct {
	Key             string    `json:"key"`
	Initialized     bool      `json:"initialized"`
	Health          string    `json:"health"`
	LastHealthCheck time.Time `json:"lastHealthCheck,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
}

// Statuses lists every known pool.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.pools))
	for key, st := range m.pools {
		s := Status{
			Key:             key,
			Initialized:     st.initialized,
			Health:          st.health,
			LastHealthCheck: st.lastHealthCheck,
		}
		if st.lastError != nil {
			s.LastError = st.lastError.Error()
		}
		out = append(out, s)
	}
	return out
}

// ActivePools counts initialized pools.
func (m *Manager) ActivePools() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.pools {
		if st.initialized {
			n++
		}
	}
	return n
}

// SourceChanged reports whether the stored connection config for key differs
// from cfg. Unknown keys have not changed.
func (m *Manager) SourceChanged(key string, cfg gateway.ConnectionConfig) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.pools[key]
	if !ok {
		return false
	}
	old := st.cfg
	return old.Host != cfg.Host || old.Port != cfg.Port ||
		old.User != cfg.User || old.Password != cfg.Password ||
		old.IgnoreUnauthorized != cfg.IgnoreUnauthorized
}

// ClosePool releases the keyed pool. Idempotent.
func (m *Manager) ClosePool(key string) {
	m.mu.Lock()
	st, ok := m.pools[key]
	if ok {
		delete(m.pools, key)
	}
	m.mu.Unlock()
	if ok && st.pool != nil {
		st.pool.Close()
		m.logger.Debug("pool closed", zap.String("key", key))
	}
}

// CloseAllPools releases every pool, best effort.
func (m *Manager) CloseAllPools() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*state)
	m.mu.Unlock()
	for key, st := range pools {
		if st.pool != nil {
			st.pool.Close()
		}
		m.logger.Debug("pool closed", zap.String("key", key))
	}
}

// validateWireValues rejects anything the gateway wire format cannot carry.
// The binder flattens arrays before execution, so only scalars and NULL are
// expected here.
func validateWireValues(params []interface{}) error {
	for i, v := range params {
		if err := validateWireValue(v); err != nil {
			return errs.Newf(errs.KindValidation,
				"parameter %d: %v", i, err)
		}
	}
	return nil
}

func validateWireValue(v interface{}) error {
	switch vv := v.(type) {
	case nil, string, bool, int, int64, float64:
		return nil
	case []interface{}:
		for _, elem := range vv {
			if _, isArr := elem.([]interface{}); isArr {
				return fmt.Errorf("nested arrays cannot be bound")
			}
			if err := validateWireValue(elem); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported wire type %T", v)
	}
}
