package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/auth"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/observability"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/reqcontext"
)

// buildHTTPHandler assembles the HTTP mux: the MCP streamable endpoint,
// health, metrics, and the auth surface when the handshake is enabled.
func (s *Server) buildHTTPHandler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(
		s.frontend.mcp,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return WithBearerToken(ctx, auth.BearerToken(r))
		}),
	)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestTimer(s.logger))
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware())
	}
	if len(s.options.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(s.options.AllowedOrigins))
	}

	r.Handle("/mcp", streamable)
	r.Handle("/mcp/*", streamable)
	r.Get("/health", s.health.Handler())
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.authHandler != nil {
		r.Mount("/api/v1/auth", s.authHandler.Routes())
	}
	return r
}

// corsMiddleware answers preflight requests and marks allowed origins.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowAll := false
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		allowedSet[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowedSet[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
				w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestIDMiddleware accepts a well-formed client request id or assigns a
// fresh one, and echoes it on the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))
		w.Header().Set(reqcontext.RequestIDHeader, id)
		ctx := reqcontext.WithRequest(r.Context(), reqcontext.RequestContext{
			RequestID: id,
			Operation: "http:" + r.URL.Path,
			StartedAt: time.Now(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestTimer logs slow requests; routine traffic stays at debug.
func requestTimer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			elapsed := time.Since(start)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", elapsed),
			}
			if rc, ok := reqcontext.FromContext(r.Context()); ok {
				fields = append(fields, zap.String("request_id", rc.RequestID))
			}
			if elapsed > 5*time.Second && !strings.HasPrefix(r.URL.Path, "/mcp") {
				logger.Warn("slow http request", fields...)
				return
			}
			logger.Debug("http request", fields...)
		})
	}
}

// poolHealthChecker reports unhealthy when any initialized pool is marked
// unhealthy.
type poolHealthChecker struct {
	server *Server
}

func (c poolHealthChecker) Name() string { return "pools" }

func (c poolHealthChecker) HealthCheck(_ context.Context) error {
	for _, status := range c.server.pools.Statuses() {
		if status.Initialized && status.Health == "unhealthy" {
			return &poolUnhealthyError{key: status.Key, lastError: status.LastError}
		}
	}
	return nil
}

type poolUnhealthyError struct {
	key       string
	lastError string
}

func (e *poolUnhealthyError) Error() string {
	if e.lastError == "" {
		return "pool " + e.key + " is unhealthy"
	}
	return "pool " + e.key + " is unhealthy: " + e.lastError
}

var _ observability.HealthChecker = poolHealthChecker{}
