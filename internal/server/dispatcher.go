// Package server assembles the MCP server: tool registration, the request
// dispatcher, the toolset resources and the stdio and HTTP transports.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/auth"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/observability"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/registry"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/reqcontext"
)

type ctxKey int

const bearerTokenKey ctxKey = iota

// WithBearerToken stashes the transport's bearer token for the dispatcher.
func WithBearerToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerTokenKey, token)
}

func bearerFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey).(string)
	return token
}

// Dispatcher executes tool calls end to end: identity, context, handler,
// formatting, and error conversion. It never propagates handler errors as
// protocol errors; failures become isError results.
type Dispatcher struct {
	logger      *zap.Logger
	registry    *registry.Registry
	metrics     *observability.MetricsManager
	authMode    string
	jwtSecret   string
	authService *auth.Service
}

// NewDispatcher wires a dispatcher. authService is required for the ibmi
// auth mode and ignored otherwise.
func NewDispatcher(reg *registry.Registry, metrics *observability.MetricsManager, authMode, jwtSecret string, authService *auth.Service, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:      logger,
		registry:    reg,
		metrics:     metrics,
		authMode:    authMode,
		jwtSecret:   jwtSecret,
		authService: authService,
	}
}

// resolvePoolKey authenticates the caller and picks the pool their queries
// run on: the per-session pool in ibmi mode, the tool's source pool
// otherwise.
func (d *Dispatcher) resolvePoolKey(ctx context.Context, desc *registry.Descriptor) (string, error) {
	switch d.authMode {
	case config.AuthModeIBMi:
		token := bearerFromContext(ctx)
		if token == "" {
			return "", errs.New(errs.KindAuthentication, "missing bearer token")
		}
		rec, err := d.authService.Authenticate(token)
		if err != nil {
			return "", err
		}
		return rec.PoolKey, nil

	case config.AuthModeJWT:
		token := bearerFromContext(ctx)
		if token == "" {
			return "", errs.New(errs.KindAuthentication, "missing bearer token")
		}
		if _, err := auth.VerifyJWT(token, d.jwtSecret); err != nil {
			return "", err
		}
		return pool.StaticKey(desc.SourceName), nil

	default:
		return pool.StaticKey(desc.SourceName), nil
	}
}

// HandlerFor builds the MCP handler for one registered tool name. The
// descriptor is looked up per call so reloads take effect, while a call
// that already started keeps the descriptor it captured.
func (d *Dispatcher) HandlerFor(name string) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := d.registry.Current()
		if snap == nil {
			return d.errorResult(name, nil, errs.New(errs.KindInitialization, "registry not ready")), nil
		}
		desc, ok := snap.Lookup(name)
		if !ok {
			return d.errorResult(name, nil, errs.Newf(errs.KindNotFound, "tool %q is not registered", name)), nil
		}
		return d.dispatch(ctx, desc, request.GetArguments()), nil
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, desc *registry.Descriptor, args map[string]interface{}) *mcp.CallToolResult {
	start := time.Now()
	rc := reqcontext.New("tool:"+desc.Name, desc.Name)
	logger := d.logger.With(rc.Fields()...)
	ctx = reqcontext.WithRequest(ctx, rc)
	ctx = reqcontext.WithLogger(ctx, logger)

	result := func() *mcp.CallToolResult {
		poolKey, err := d.resolvePoolKey(ctx, desc)
		if err != nil {
			return d.errorResult(desc.Name, desc, err)
		}

		payload, err := desc.Handler(ctx, poolKey, args)
		if err != nil {
			return d.errorResult(desc.Name, desc, err)
		}

		return &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.NewTextContent(desc.Formatter.Format(payload))},
			StructuredContent: payload,
		}
	}()

	status := "success"
	if result.IsError {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.RecordToolCall(desc.Name, status, time.Since(start))
	}
	logger.Debug("tool call finished",
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)))
	return result
}

// errorResult converts any failure into the structured isError reply.
func (d *Dispatcher) errorResult(name string, desc *registry.Descriptor, err error) *mcp.CallToolResult {
	kind := errs.KindOf(err)
	payload := &contracts.OutputPayload{
		Success:      false,
		Error:        err.Error(),
		ErrorCode:    string(kind),
		ErrorDetails: errs.DetailsOf(err),
		Metadata:     &contracts.OutputMetadata{ToolName: name},
	}
	if desc != nil {
		payload.Metadata.SQLStatement = desc.Spec.Statement
	}

	if kind == errs.KindInternal || kind == errs.KindDatabase {
		d.logger.Error("tool call failed", zap.String("tool", name), zap.Error(err))
	} else {
		d.logger.Warn("tool call rejected",
			zap.String("tool", name), zap.String("kind", string(kind)), zap.Error(err))
	}

	return &mcp.CallToolResult{
		IsError:           true,
		Content:           []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Error executing '%s': %s", name, err.Error()))},
		StructuredContent: payload,
	}
}
