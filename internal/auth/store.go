package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// Record is one live authenticated session.
type Record struct {
	Token     string
	SessionID string
	PoolKey   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiry.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store is the in-memory token map with a capacity cap and a background
// expiry sweeper. The onEvict hook releases the session's pool.
type Store struct {
	logger  *zap.Logger
	max     int
	onEvict func(Record)

	mu      sync.Mutex
	records map[string]*Record
}

// NewStore creates a store holding at most maxSessions records.
func NewStore(maxSessions int, onEvict func(Record), logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onEvict == nil {
		onEvict = func(Record) {}
	}
	return &Store{
		logger:  logger,
		max:     maxSessions,
		onEvict: onEvict,
		records: make(map[string]*Record),
	}
}

// Put stores a new session record, rejecting when the store is full.
func (s *Store) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max > 0 && len(s.records) >= s.max {
		return errs.Newf(errs.KindResourceExhausted,
			"maximum concurrent sessions reached (%d)", s.max)
	}
	s.records[rec.Token] = rec
	return nil
}

// Get returns the live record for a token. Expired records are evicted on
// the spot and reported as a miss.
func (s *Store) Get(token string) (*Record, bool) {
	s.mu.Lock()
	rec, ok := s.records[token]
	if ok && rec.Expired(time.Now()) {
		delete(s.records, token)
		s.mu.Unlock()
		s.onEvict(*rec)
		s.logger.Debug("session expired", zap.String("session", rec.SessionID))
		return nil, false
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return rec, true
}

// Delete removes a session and triggers eviction.
func (s *Store) Delete(token string) bool {
	s.mu.Lock()
	rec, ok := s.records[token]
	if ok {
		delete(s.records, token)
	}
	s.mu.Unlock()
	if ok {
		s.onEvict(*rec)
		s.logger.Debug("session removed", zap.String("session", rec.SessionID))
	}
	return ok
}

// SweepExpired removes every expired record and returns the count.
func (s *Store) SweepExpired() int {
	now := time.Now()
	s.mu.Lock()
	var expired []Record
	for token, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, token)
			expired = append(expired, *rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range expired {
		s.onEvict(rec)
	}
	if len(expired) > 0 {
		s.logger.Info("expired sessions swept", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// StartSweeper runs SweepExpired on the given interval until ctx ends.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}
