// Package reqcontext carries per-request values through the call pipeline:
// the request id, the operation being performed, and a request-scoped logger.
package reqcontext

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ctxKey int

const (
	requestCtxKey ctxKey = iota
	loggerCtxKey
)

// RequestContext is the immutable per-request value that flows through every
// layer for logging and tracing.
type RequestContext struct {
	RequestID string
	Operation string
	ToolName  string
	StartedAt time.Time
}

// New creates a RequestContext for an operation. toolName may be empty for
// non-tool operations.
func New(operation, toolName string) RequestContext {
	return RequestContext{
		RequestID: GenerateRequestID(),
		Operation: operation,
		ToolName:  toolName,
		StartedAt: time.Now(),
	}
}

// WithRequest attaches a RequestContext to ctx.
func WithRequest(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, rc)
}

// FromContext returns the RequestContext stored in ctx, or a zero value.
func FromContext(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	rc, ok := ctx.Value(requestCtxKey).(RequestContext)
	return rc, ok
}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// Logger returns the request-scoped logger, or a nop logger if none is set.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.NewNop()
	}
	if logger, ok := ctx.Value(loggerCtxKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}

// Fields returns the zap fields describing rc, for enriching log lines.
func (rc RequestContext) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", rc.RequestID),
		zap.String("operation", rc.Operation),
	}
	if rc.ToolName != "" {
		fields = append(fields, zap.String("tool", rc.ToolName))
	}
	return fields
}
