// Package observability provides the Prometheus metrics and the health and
// readiness endpoints of the server.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager owns a private Prometheus registry so tests can create
// managers freely without default-registry collisions.
type MetricsManager struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	toolsTotal   prometheus.Gauge
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec

	poolsActive    prometheus.Gauge
	sessionsActive prometheus.Gauge
	configReloads  *prometheus.CounterVec
	authHandshakes *prometheus.CounterVec
}

// NewMetricsManager creates and registers every metric.
func NewMetricsManager(logger *zap.Logger) *MetricsManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	mm.initMetrics()
	mm.registerMetrics()
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibmi_mcp_uptime_seconds",
		Help: "Time since the server started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibmi_mcp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibmi_mcp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.toolsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibmi_mcp_tools_total",
		Help: "Number of registered SQL tools",
	})

	mm.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibmi_mcp_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	mm.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ibmi_mcp_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool", "status"},
	)

	mm.poolsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibmi_mcp_pools_active",
		Help: "Number of initialized gateway connection pools",
	})

	mm.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ibmi_mcp_sessions_active",
		Help: "Number of live authenticated sessions",
	})

	mm.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibmi_mcp_config_reloads_total",
			Help: "Total number of configuration reload attempts",
		},
		[]string{"result"},
	)

	mm.authHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ibmi_mcp_auth_handshakes_total",
			Help: "Total number of credential handshake attempts",
		},
		[]string{"result"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.toolsTotal,
		mm.toolCalls,
		mm.toolDuration,
		mm.poolsActive,
		mm.sessionsActive,
		mm.configReloads,
		mm.authHandshakes,
	)
	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the /metrics endpoint.
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the private registry for custom collectors.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime gauge relative to startTime.
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records one served request.
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetToolsTotal sets the registered tool count.
func (mm *MetricsManager) SetToolsTotal(total int) {
	mm.toolsTotal.Set(float64(total))
}

// RecordToolCall records one tool invocation.
func (mm *MetricsManager) RecordToolCall(tool, status string, duration time.Duration) {
	mm.toolCalls.WithLabelValues(tool, status).Inc()
	mm.toolDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// SetPoolsActive sets the initialized pool count.
func (mm *MetricsManager) SetPoolsActive(count int) {
	mm.poolsActive.Set(float64(count))
}

// SetSessionsActive sets the live session count.
func (mm *MetricsManager) SetSessionsActive(count int) {
	mm.sessionsActive.Set(float64(count))
}

// RecordConfigReload records a hot reload attempt.
func (mm *MetricsManager) RecordConfigReload(result string) {
	mm.configReloads.WithLabelValues(result).Inc()
}

// RecordAuthHandshake records a credential handshake attempt.
func (mm *MetricsManager) RecordAuthHandshake(result string) {
	mm.authHandshakes.WithLabelValues(result).Inc()
}

// HTTPMiddleware records request metrics around a handler chain.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.statusCode), time.Since(start))
		})
	}
}

// responseWriter captures the status code for metrics labels.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
