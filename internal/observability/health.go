package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports the health of one component.
type HealthChecker interface {
	// HealthCheck returns nil if healthy.
	HealthCheck(ctx context.Context) error
	// Name identifies the component being checked.
	Name() string
}

// ComponentStatus is the health of one checked component.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthManager runs registered checkers and serves the health endpoint.
type HealthManager struct {
	logger    *zap.Logger
	startTime time.Time
	timeout   time.Duration

	mu       sync.RWMutex
	checkers []HealthChecker
}

// NewHealthManager creates a health manager.
func NewHealthManager(logger *zap.Logger) *HealthManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthManager{
		logger:    logger,
		startTime: time.Now(),
		timeout:   5 * time.Second,
	}
}

// AddChecker registers a component checker.
func (hm *HealthManager) AddChecker(checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers = append(hm.checkers, checker)
}

// Check runs every checker under the manager's timeout.
func (hm *HealthManager) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	hm.mu.RLock()
	checkers := make([]HealthChecker, len(hm.checkers))
	copy(checkers, hm.checkers)
	hm.mu.RUnlock()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime).Round(time.Second).String(),
	}
	for _, checker := range checkers {
		start := time.Now()
		status := ComponentStatus{Name: checker.Name(), Status: "healthy"}
		if err := checker.HealthCheck(ctx); err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			resp.Status = "unhealthy"
			hm.logger.Warn("health check failed",
				zap.String("component", checker.Name()), zap.Error(err))
		}
		status.Latency = time.Since(start).Round(time.Millisecond).String()
		resp.Components = append(resp.Components, status)
	}
	return resp
}

// Handler serves the /health endpoint, 503 when any component is unhealthy.
func (hm *HealthManager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hm.Check(r.Context())
		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			hm.logger.Error("failed to encode health response", zap.Error(err))
		}
	}
}

// CheckerFunc adapts a function to the HealthChecker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

// Name implements HealthChecker.
func (c CheckerFunc) Name() string { return c.CheckName }

// HealthCheck implements HealthChecker.
func (c CheckerFunc) HealthCheck(ctx context.Context) error { return c.Fn(ctx) }
