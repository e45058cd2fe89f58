package registry

import (
	"context"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/bind"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/format"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/gateway"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/security"
)

// Snapshot is one immutable registry generation.
type Snapshot struct {
	Version     int64
	Config      *config.Config
	Descriptors map[string]*Descriptor
	Toolsets    map[string]*config.ToolsetSpec
}

// Names lists the registered tool names, sorted.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Descriptors))
	for name := range s.Descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the descriptor for a tool name.
func (s *Snapshot) Lookup(name string) (*Descriptor, bool) {
	d, ok := s.Descriptors[name]
	return d, ok
}

// Registry holds the current snapshot and rebuilds it on configuration
// changes. Readers take the snapshot once per request and never observe a
// partial swap.
type Registry struct {
	logger   *zap.Logger
	pools    *pool.Manager
	selected []string

	version atomic.Int64
	current atomic.Value // *Snapshot
}

// New creates a registry. selected is the toolset allow-list; empty means
// every enabled tool is registered.
func New(pools *pool.Manager, selected []string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger, pools: pools, selected: selected}
}

// Current returns the live snapshot, or nil before the first build.
func (r *Registry) Current() *Snapshot {
	snap, _ := r.current.Load().(*Snapshot)
	return snap
}

// Rebuild produces a snapshot from cfg and installs it atomically.
func (r *Registry) Rebuild(cfg *config.Config) (*Snapshot, error) {
	snap, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.current.Store(snap)
	r.logger.Info("tool registry updated",
		zap.Int64("version", snap.Version),
		zap.Int("tools", len(snap.Descriptors)))
	return snap, nil
}

func (r *Registry) build(cfg *config.Config) (*Snapshot, error) {
	memberships := toolsetMemberships(cfg)
	allowed := allowSet(r.selected)

	descriptors := make(map[string]*Descriptor)
	for _, name := range sortedToolNames(cfg) {
		spec := cfg.Tools[name]
		if !spec.IsEnabled() {
			continue
		}
		toolsets := memberships[name]
		if allowed != nil && !intersects(toolsets, allowed) {
			continue
		}

		source, ok := cfg.Sources[spec.Source]
		if !ok {
			return nil, errs.Newf(errs.KindConfiguration,
				"tool %q references unknown source %q", name, spec.Source)
		}

		d := r.buildDescriptor(name, spec, source, toolsets)
		descriptors[name] = d
	}

	return &Snapshot{
		Version:     r.version.Add(1),
		Config:      cfg,
		Descriptors: descriptors,
		Toolsets:    cfg.Toolsets,
	}, nil
}

func (r *Registry) buildDescriptor(name string, spec *config.ToolSpec, source *config.SourceSpec, toolsets []string) *Descriptor {
	ann := resolveAnnotations(name, spec, toolsets)
	policy := policyFor(spec)

	d := &Descriptor{
		Name:        name,
		Spec:        spec,
		Source:      source,
		SourceName:  spec.Source,
		Tool:        buildTool(name, spec, ann),
		Annotations: ann,
		Policy:      policy,
		Formatter:   format.ForTool(spec),
	}

	pools := r.pools
	connCfg := gateway.ConnectionConfig{
		Host:               source.Host,
		Port:               source.EffectivePort(),
		User:               source.User,
		Password:           source.Password,
		IgnoreUnauthorized: source.IgnoreUnauthorized,
	}

	d.Handler = func(ctx context.Context, poolKey string, args map[string]interface{}) (*contracts.OutputPayload, error) {
		bound, err := bind.Bind(spec.Statement, spec.Parameters, args)
		if err != nil {
			return nil, err
		}
		// A session pool was opened with the caller's handshake identity.
		// Re-dialing it here would substitute the source's credentials, so
		// a missing session pool is an authentication failure, never a
		// lazy initialization.
		if pool.IsTokenKey(poolKey) {
			if !pools.Initialized(poolKey) {
				return nil, errs.New(errs.KindAuthentication, "session is no longer active")
			}
		} else if err := pools.EnsurePool(ctx, poolKey, connCfg); err != nil {
			return nil, err
		}

		agg, err := pools.ExecuteQueryWithPagination(ctx, poolKey, bound.SQL, bound.Values, gateway.DefaultFetchSize, &policy)
		if err != nil {
			return nil, err
		}

		columns := make([]contracts.Column, len(agg.Columns))
		for i, col := range agg.Columns {
			columns[i] = contracts.Column{Name: col.Name, Type: col.Type}
		}

		return &contracts.OutputPayload{
			Success: true,
			Data:    agg.Data,
			Metadata: &contracts.OutputMetadata{
				ExecutionTime:       agg.ExecutionTime,
				RowCount:            len(agg.Data),
				AffectedRows:        agg.UpdateCount,
				Columns:             columns,
				ParameterMode:       bound.Metadata.Mode,
				ParameterCount:      bound.Metadata.Count,
				ProcessedParameters: bound.Metadata.ProcessedParameters,
				ToolName:            name,
				SQLStatement:        bound.SQL,
				Parameters:          args,
			},
		}, nil
	}

	return d
}

// resolveAnnotations merges the user annotations block with derived values.
// A user-supplied toolsets list is ignored; membership comes from the
// toolsets section only.
func resolveAnnotations(name string, spec *config.ToolSpec, toolsets []string) Annotations {
	ann := Annotations{
		Title:        titleCase(name),
		ReadOnlyHint: true,
		Domain:       spec.Domain,
		Category:     spec.Category,
		Toolsets:     toolsets,
	}
	if spec.Security != nil && spec.Security.ReadOnly != nil {
		ann.ReadOnlyHint = *spec.Security.ReadOnly
	}

	user := spec.Annotations
	if user != nil {
		if user.Title != "" {
			ann.Title = user.Title
		}
		if user.ReadOnlyHint != nil {
			ann.ReadOnlyHint = *user.ReadOnlyHint
		}
		ann.DestructiveHint = user.DestructiveHint
		ann.IdempotentHint = user.IdempotentHint
		ann.OpenWorldHint = user.OpenWorldHint
	}

	// Tool metadata and annotation metadata merge shallowly; the
	// annotations block wins on collisions.
	if len(spec.Metadata) > 0 || (user != nil && len(user.Metadata) > 0) {
		merged := make(map[string]interface{}, len(spec.Metadata))
		for k, v := range spec.Metadata {
			merged[k] = v
		}
		if user != nil {
			for k, v := range user.Metadata {
				merged[k] = v
			}
		}
		ann.CustomMetadata = merged
	}

	return ann
}

// policyFor builds the effective security policy: read-only by default,
// overridden per field by the tool's security block.
func policyFor(spec *config.ToolSpec) security.Policy {
	policy := security.DefaultPolicy()
	sec := spec.Security
	if sec == nil {
		return policy
	}
	if sec.ReadOnly != nil {
		policy.ReadOnly = *sec.ReadOnly
	}
	if sec.MaxQueryLength != nil {
		policy.MaxQueryLength = *sec.MaxQueryLength
	}
	policy.ForbiddenKeywords = sec.ForbiddenKeywords
	return policy
}

// toolsetMemberships inverts the toolsets section into tool → sorted
// toolset names.
func toolsetMemberships(cfg *config.Config) map[string][]string {
	memberships := make(map[string][]string)
	for tsName, ts := range cfg.Toolsets {
		for _, tool := range ts.Tools {
			memberships[tool] = append(memberships[tool], tsName)
		}
	}
	for tool := range memberships {
		sort.Strings(memberships[tool])
	}
	return memberships
}

func allowSet(selected []string) map[string]bool {
	if len(selected) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(selected))
	for _, name := range selected {
		allowed[name] = true
	}
	return allowed
}

func intersects(names []string, allowed map[string]bool) bool {
	for _, name := range names {
		if allowed[name] {
			return true
		}
	}
	return false
}

func sortedToolNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
