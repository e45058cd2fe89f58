package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/format"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/gateway"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/registry"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/security"
)

const (
	serverName = "ibmi-mcp-go"

	// executeSQLTool is the built-in free-form query tool, available when a
	// static database source is configured.
	executeSQLTool = "execute_sql"

	// toolsetURIPrefix is the scheme of the toolset discovery resources.
	toolsetURIPrefix = "toolset://"
)

// Version is stamped at build time.
var Version = "dev"

// mcpFrontend owns the mcp-go server instance and keeps its registered
// tool set in sync with registry snapshots.
type mcpFrontend struct {
	logger     *zap.Logger
	mcp        *mcpserver.MCPServer
	dispatcher *Dispatcher
	pools      *pool.Manager
	static     *config.SourceSpec

	mu         sync.Mutex
	registered map[string]bool
}

func newMCPFrontend(dispatcher *Dispatcher, pools *pool.Manager, static *config.SourceSpec, logger *zap.Logger) *mcpFrontend {
	f := &mcpFrontend{
		logger:     logger,
		dispatcher: dispatcher,
		pools:      pools,
		static:     static,
		registered: make(map[string]bool),
	}

	f.mcp = mcpserver.NewMCPServer(
		serverName,
		Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithRecovery(),
	)

	if static != nil {
		f.registerExecuteSQL()
	}
	f.registerCatalogResource()
	return f
}

// toolCount reports the number of currently advertised tools.
func (f *mcpFrontend) toolCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

// ApplySnapshot reconciles the advertised tool list with a registry
// snapshot. mcp-go notifies connected clients of the list change.
func (f *mcpFrontend) ApplySnapshot(snap *registry.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make(map[string]bool, len(snap.Descriptors))
	for name, desc := range snap.Descriptors {
		next[name] = true
		f.mcp.AddTool(desc.Tool, f.dispatcher.HandlerFor(name))
	}

	var removed []string
	for name := range f.registered {
		if !next[name] {
			removed = append(removed, name)
		}
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		f.mcp.DeleteTools(removed...)
		f.logger.Info("tools withdrawn", zap.Strings("tools", removed))
	}
	f.registered = next

	f.registerToolsetResources(snap)
}

// registerExecuteSQL adds the free-form query tool. Every statement passes
// the default read-only policy; there is no way to relax it from the
// arguments.
func (f *mcpFrontend) registerExecuteSQL() {
	static := f.static
	pools := f.pools

	tool := mcp.NewTool(executeSQLTool,
		mcp.WithDescription("Execute a read-only SQL statement against the configured IBM i system. Only SELECT and WITH statements are accepted."),
		mcp.WithTitleAnnotation("Execute SQL"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute."),
		),
	)

	formatter := &format.Markdown{
		Style:          config.StyleMarkdown,
		MaxDisplayRows: config.DefaultMaxDisplayRows,
		NullString:     format.DefaultNullString,
	}

	f.mcp.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := request.RequireString("sql")
		if err != nil {
			return f.dispatcher.errorResult(executeSQLTool, nil,
				errs.Wrap(errs.KindValidation, "missing required parameter sql", err)), nil
		}

		policy := security.DefaultPolicy()
		if err := security.Validate(sql, policy); err != nil {
			return f.dispatcher.errorResult(executeSQLTool, nil, err), nil
		}

		key := pool.StaticKey("default")
		cfg := gateway.ConnectionConfig{
			Host:               static.Host,
			Port:               static.EffectivePort(),
			User:               static.User,
			Password:           static.Password,
			IgnoreUnauthorized: static.IgnoreUnauthorized,
		}
		if err := pools.EnsurePool(ctx, key, cfg); err != nil {
			return f.dispatcher.errorResult(executeSQLTool, nil, err), nil
		}

		agg, err := pools.ExecuteQueryWithPagination(ctx, key, sql, nil, gateway.DefaultFetchSize, &policy)
		if err != nil {
			return f.dispatcher.errorResult(executeSQLTool, nil, err), nil
		}

		columns := make([]contracts.Column, len(agg.Columns))
		for i, col := range agg.Columns {
			columns[i] = contracts.Column{Name: col.Name, Type: col.Type}
		}
		payload := &contracts.OutputPayload{
			Success: true,
			Data:    agg.Data,
			Metadata: &contracts.OutputMetadata{
				ExecutionTime: agg.ExecutionTime,
				RowCount:      len(agg.Data),
				AffectedRows:  agg.UpdateCount,
				Columns:       columns,
				ToolName:      executeSQLTool,
				SQLStatement:  sql,
			},
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.NewTextContent(formatter.Format(payload))},
			StructuredContent: payload,
		}, nil
	})
}

// toolsetResourcePayload is the resources/read body for one toolset.
type toolsetResourcePayload struct {
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tools       []string `json:"tools"`
}

// registerCatalogResource serves toolset:// with the full toolset listing.
func (f *mcpFrontend) registerCatalogResource() {
	resource := mcp.NewResource(
		toolsetURIPrefix,
		"Toolset catalog",
		mcp.WithResourceDescription("All configured toolsets with their member tools."),
		mcp.WithMIMEType("application/json"),
	)
	f.mcp.AddResource(resource, func(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap := f.dispatcher.registry.Current()
		if snap == nil {
			return nil, errs.New(errs.KindInitialization, "registry not ready")
		}
		var payloads []toolsetResourcePayload
		for _, name := range sortedToolsetNames(snap.Toolsets) {
			payloads = append(payloads, toolsetPayload(name, snap.Toolsets[name]))
		}
		return jsonResourceContents(request.Params.URI, payloads)
	})
}

// registerToolsetResources adds one resource per toolset in the snapshot.
// Resources read from the live snapshot, so a toolset dropped by a reload
// answers with a not-found error even while its resource entry lingers.
func (f *mcpFrontend) registerToolsetResources(snap *registry.Snapshot) {
	for _, name := range sortedToolsetNames(snap.Toolsets) {
		ts := snap.Toolsets[name]
		uri := toolsetURIPrefix + name
		title := ts.Title
		if title == "" {
			title = name
		}
		resource := mcp.NewResource(
			uri,
			title,
			mcp.WithResourceDescription(ts.Description),
			mcp.WithMIMEType("application/json"),
		)
		toolsetName := name
		f.mcp.AddResource(resource, func(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			current := f.dispatcher.registry.Current()
			if current == nil {
				return nil, errs.New(errs.KindInitialization, "registry not ready")
			}
			ts, ok := current.Toolsets[toolsetName]
			if !ok {
				return nil, errs.Newf(errs.KindNotFound, "toolset %q is not configured", toolsetName)
			}
			return jsonResourceContents(request.Params.URI, toolsetPayload(toolsetName, ts))
		})
	}
}

func toolsetPayload(name string, ts *config.ToolsetSpec) toolsetResourcePayload {
	tools := make([]string, len(ts.Tools))
	copy(tools, ts.Tools)
	sort.Strings(tools)
	return toolsetResourcePayload{
		Name:        name,
		Title:       ts.Title,
		Description: ts.Description,
		Tools:       tools,
	}
}

func jsonResourceContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(body),
		},
	}, nil
}

func sortedToolsetNames(toolsets map[string]*config.ToolsetSpec) []string {
	names := make([]string, 0, len(toolsets))
	for name := range toolsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
