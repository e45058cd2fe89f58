// Package config loads, validates and merges the YAML tool configuration:
// database sources, SQL tool definitions and toolset groupings.
package config

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultGatewayPort is the database gateway's default listen port.
const DefaultGatewayPort = 8076

// Parameter type names.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
	TypeArray   = "array"
)

// Response format names.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// Table style names.
const (
	StyleMarkdown = "markdown"
	StyleASCII    = "ascii"
	StyleGrid     = "grid"
	StyleCompact  = "compact"
)

// DefaultMaxDisplayRows caps table rendering when a tool does not set one.
const DefaultMaxDisplayRows = 100

// MaxDisplayRowsLimit is the upper bound a tool may configure.
const MaxDisplayRowsLimit = 1000

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// SourceSpec describes one database gateway connection. Immutable after load.
type SourceSpec struct {
	Host               string `yaml:"host"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Port               int    `yaml:"port"`
	IgnoreUnauthorized bool   `yaml:"ignore-unauthorized"`
}

// EffectivePort returns the configured port or the gateway default.
func (s *SourceSpec) EffectivePort() int {
	if s.Port > 0 {
		return s.Port
	}
	return DefaultGatewayPort
}

// Validate checks a source definition.
func (s *SourceSpec) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("source host is required")
	}
	if s.User == "" {
		return fmt.Errorf("source user is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("source port %d out of range", s.Port)
	}
	return nil
}

// ParameterSpec describes one SQL parameter of a tool.
type ParameterSpec struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	Description string        `yaml:"description,omitempty"`
	Default     interface{}   `yaml:"default,omitempty"`
	Required    *bool         `yaml:"required,omitempty"`
	ItemType    string        `yaml:"itemType,omitempty"`
	Min         *float64      `yaml:"min,omitempty"`
	Max         *float64      `yaml:"max,omitempty"`
	MinLength   *int          `yaml:"minLength,omitempty"`
	MaxLength   *int          `yaml:"maxLength,omitempty"`
	Pattern     string        `yaml:"pattern,omitempty"`
	Enum        []interface{} `yaml:"enum,omitempty"`
}

// IsOptional reports whether a missing argument is acceptable. A parameter
// with a default is never optional in the binding sense: the default is used.
func (p *ParameterSpec) IsOptional() bool {
	return p.Required != nil && !*p.Required && p.Default == nil
}

// HasDefault reports whether the parameter declares a default value.
func (p *ParameterSpec) HasDefault() bool {
	return p.Default != nil
}

func validScalarType(t string) bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean:
		return true
	}
	return false
}

// Validate enforces the parameter invariants: itemType is present iff the
// type is array, pattern only applies to strings, enum is forbidden on
// booleans and arrays.
func (p *ParameterSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if !validScalarType(p.Type) && p.Type != TypeArray {
		return fmt.Errorf("parameter %q: unknown type %q", p.Name, p.Type)
	}
	if p.Type == TypeArray {
		if !validScalarType(p.ItemType) {
			return fmt.Errorf("parameter %q: array requires a scalar itemType, got %q", p.Name, p.ItemType)
		}
	} else if p.ItemType != "" {
		return fmt.Errorf("parameter %q: itemType only applies to array parameters", p.Name)
	}
	if p.Pattern != "" {
		if p.Type != TypeString {
			return fmt.Errorf("parameter %q: pattern only applies to string parameters", p.Name)
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("parameter %q: invalid pattern: %w", p.Name, err)
		}
	}
	if len(p.Enum) > 0 {
		if p.Type == TypeBoolean {
			return fmt.Errorf("parameter %q: enum is not allowed on boolean parameters", p.Name)
		}
		if p.Type == TypeArray {
			return fmt.Errorf("parameter %q: enum is not allowed on array parameters", p.Name)
		}
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return fmt.Errorf("parameter %q: min %v exceeds max %v", p.Name, *p.Min, *p.Max)
	}
	if p.MinLength != nil && *p.MinLength < 0 {
		return fmt.Errorf("parameter %q: minLength must not be negative", p.Name)
	}
	if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
		return fmt.Errorf("parameter %q: minLength %d exceeds maxLength %d", p.Name, *p.MinLength, *p.MaxLength)
	}
	return nil
}

// SecuritySpec carries per-tool overrides of the SQL security policy.
// Forbidden keywords are additions only; the default destructive set is
// always enforced.
type SecuritySpec struct {
	ReadOnly          *bool    `yaml:"readOnly,omitempty"`
	MaxQueryLength    *int     `yaml:"maxQueryLength,omitempty"`
	ForbiddenKeywords []string `yaml:"forbiddenKeywords,omitempty"`
}

// AnnotationsSpec is the user-supplied annotations block of a tool. The
// toolsets field is accepted for compatibility but discarded when the
// registry resolves annotations: toolset membership is authoritative from
// the toolsets config section.
type AnnotationsSpec struct {
	Title           string                 `yaml:"title,omitempty"`
	ReadOnlyHint    *bool                  `yaml:"readOnlyHint,omitempty"`
	DestructiveHint *bool                  `yaml:"destructiveHint,omitempty"`
	IdempotentHint  *bool                  `yaml:"idempotentHint,omitempty"`
	OpenWorldHint   *bool                  `yaml:"openWorldHint,omitempty"`
	Toolsets        []string               `yaml:"toolsets,omitempty"`
	Metadata        map[string]interface{} `yaml:"metadata,omitempty"`
}

// ToolSpec describes one named SQL operation.
type ToolSpec struct {
	Enabled        *bool                  `yaml:"enabled,omitempty"`
	Source         string                 `yaml:"source"`
	Description    string                 `yaml:"description"`
	Statement      string                 `yaml:"statement"`
	Parameters     []*ParameterSpec       `yaml:"parameters,omitempty"`
	Security       *SecuritySpec          `yaml:"security,omitempty"`
	Domain         string                 `yaml:"domain,omitempty"`
	Category       string                 `yaml:"category,omitempty"`
	ResponseFormat string                 `yaml:"responseFormat,omitempty"`
	TableStyle     string                 `yaml:"tableStyle,omitempty"`
	MaxDisplayRows int                    `yaml:"maxDisplayRows,omitempty"`
	Metadata       map[string]interface{} `yaml:"metadata,omitempty"`
	Annotations    *AnnotationsSpec       `yaml:"annotations,omitempty"`
}

// IsEnabled reports whether the tool should be registered. Tools are
// enabled unless explicitly disabled.
func (t *ToolSpec) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// EffectiveMaxDisplayRows returns the configured display cap or the default.
func (t *ToolSpec) EffectiveMaxDisplayRows() int {
	if t.MaxDisplayRows > 0 {
		return t.MaxDisplayRows
	}
	return DefaultMaxDisplayRows
}

// Validate checks a tool definition. Referential checks against sources and
// toolsets happen after merging.
func (t *ToolSpec) Validate(name string) error {
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("tool %q: invalid name", name)
	}
	if t.Source == "" {
		return fmt.Errorf("tool %q: source is required", name)
	}
	if strings.TrimSpace(t.Statement) == "" {
		return fmt.Errorf("tool %q: statement is required", name)
	}
	if t.MaxDisplayRows < 0 || t.MaxDisplayRows > MaxDisplayRowsLimit {
		return fmt.Errorf("tool %q: maxDisplayRows must be between 1 and %d", name, MaxDisplayRowsLimit)
	}
	switch t.ResponseFormat {
	case "", FormatJSON, FormatMarkdown:
	default:
		return fmt.Errorf("tool %q: unknown responseFormat %q", name, t.ResponseFormat)
	}
	switch t.TableStyle {
	case "", StyleMarkdown, StyleASCII, StyleGrid, StyleCompact:
	default:
		return fmt.Errorf("tool %q: unknown tableStyle %q", name, t.TableStyle)
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %q: duplicate parameter %q", name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ToolsetSpec groups tools under a name for filtering and discovery.
type ToolsetSpec struct {
	Title       string   `yaml:"title,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Tools       []string `yaml:"tools"`
}

// Validate checks a toolset definition.
func (ts *ToolsetSpec) Validate(name string) error {
	if name == "" {
		return fmt.Errorf("toolset name is required")
	}
	if len(ts.Tools) == 0 {
		return fmt.Errorf("toolset %q: tools list is empty", name)
	}
	return nil
}

// Config is the merged root configuration document.
type Config struct {
	Sources  map[string]*SourceSpec  `yaml:"sources,omitempty"`
	Tools    map[string]*ToolSpec    `yaml:"tools,omitempty"`
	Toolsets map[string]*ToolsetSpec `yaml:"toolsets,omitempty"`
}

// IsEmpty reports whether the document carries no sections at all.
func (c *Config) IsEmpty() bool {
	return len(c.Sources) == 0 && len(c.Tools) == 0 && len(c.Toolsets) == 0
}

// Validate checks every section of a single (pre-merge) document.
func (c *Config) Validate() error {
	if c.IsEmpty() {
		return fmt.Errorf("configuration must declare at least one of sources, tools, toolsets")
	}
	for name, src := range c.Sources {
		if src == nil {
			return fmt.Errorf("source %q is empty", name)
		}
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
	}
	for name, tool := range c.Tools {
		if tool == nil {
			return fmt.Errorf("tool %q is empty", name)
		}
		if err := tool.Validate(name); err != nil {
			return err
		}
	}
	for name, ts := range c.Toolsets {
		if ts == nil {
			return fmt.Errorf("toolset %q is empty", name)
		}
		if err := ts.Validate(name); err != nil {
			return err
		}
	}
	return nil
}
