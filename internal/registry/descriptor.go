// Package registry turns a validated configuration into the immutable tool
// descriptors served over MCP, and swaps them atomically on reload.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/format"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/security"
)

// Handler executes one tool call against the pool identified by poolKey and
// returns the structured payload. Errors are returned raw; the dispatcher
// owns their conversion.
type Handler func(ctx context.Context, poolKey string, args map[string]interface{}) (*contracts.OutputPayload, error)

// Annotations are the resolved tool annotations. Toolset membership always
// comes from the toolsets config section; a user-supplied toolsets list in
// the annotations block is discarded.
type Annotations struct {
	Title           string                 `json:"title"`
	ReadOnlyHint    bool                   `json:"readOnlyHint"`
	DestructiveHint *bool                  `json:"destructiveHint,omitempty"`
	IdempotentHint  *bool                  `json:"idempotentHint,omitempty"`
	OpenWorldHint   *bool                  `json:"openWorldHint,omitempty"`
	Domain          string                 `json:"domain,omitempty"`
	Category        string                 `json:"category,omitempty"`
	Toolsets        []string               `json:"toolsets,omitempty"`
	CustomMetadata  map[string]interface{} `json:"customMetadata,omitempty"`
}

// Descriptor is one registered tool. Descriptors are immutable; hot reload
// builds a fresh set and in-flight calls keep the one they captured.
type Descriptor struct {
	Name        string
	Spec        *config.ToolSpec
	Source      *config.SourceSpec
	SourceName  string
	Tool        mcp.Tool
	Annotations Annotations
	Policy      security.Policy
	Formatter   format.Formatter
	Handler     Handler
}

// outputSchema is the fixed result schema every tool advertises.
var outputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "success": {"type": "boolean"},
    "data": {"type": "array", "items": {"type": "object"}},
    "metadata": {
      "type": "object",
      "properties": {
        "executionTime": {"type": "number"},
        "rowCount": {"type": "integer"},
        "affectedRows": {"type": "integer"},
        "columns": {"type": "array", "items": {"type": "object", "properties": {"name": {"type": "string"}, "type": {"type": "string"}}}},
        "parameterMode": {"type": "string"},
        "parameterCount": {"type": "integer"},
        "processedParameters": {"type": "array", "items": {"type": "string"}},
        "toolName": {"type": "string"},
        "sqlStatement": {"type": "string"},
        "parameters": {"type": "object"}
      }
    },
    "error": {"type": "string"},
    "errorCode": {"type": "string"},
    "errorDetails": {"type": "object"}
  },
  "required": ["success"]
}`)

// buildTool synthesizes the MCP tool definition: input schema from the
// ordered parameter list, the fixed output schema, and annotations.
func buildTool(name string, spec *config.ToolSpec, ann Annotations) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(spec.Description),
		mcp.WithTitleAnnotation(ann.Title),
		mcp.WithReadOnlyHintAnnotation(ann.ReadOnlyHint),
	}
	if ann.DestructiveHint != nil {
		opts = append(opts, mcp.WithDestructiveHintAnnotation(*ann.DestructiveHint))
	}
	if ann.IdempotentHint != nil {
		opts = append(opts, mcp.WithIdempotentHintAnnotation(*ann.IdempotentHint))
	}
	if ann.OpenWorldHint != nil {
		opts = append(opts, mcp.WithOpenWorldHintAnnotation(*ann.OpenWorldHint))
	}
	for _, p := range spec.Parameters {
		opts = append(opts, parameterOption(p))
	}

	tool := mcp.NewTool(name, opts...)
	tool.RawOutputSchema = outputSchema
	return tool
}

// parameterOption maps one ParameterSpec to its schema property.
func parameterOption(p *config.ParameterSpec) mcp.ToolOption {
	props := []mcp.PropertyOption{mcp.Description(parameterDescription(p))}
	if !p.IsOptional() && !p.HasDefault() {
		props = append(props, mcp.Required())
	}

	switch p.Type {
	case config.TypeString:
		if p.HasDefault() {
			if s, ok := p.Default.(string); ok {
				props = append(props, mcp.DefaultString(s))
			}
		}
		if p.MinLength != nil {
			props = append(props, mcp.MinLength(*p.MinLength))
		}
		if p.MaxLength != nil {
			props = append(props, mcp.MaxLength(*p.MaxLength))
		}
		if p.Pattern != "" {
			props = append(props, mcp.Pattern(p.Pattern))
		}
		if values := stringEnum(p.Enum); len(values) > 0 {
			props = append(props, mcp.Enum(values...))
		}
		return mcp.WithString(p.Name, props...)

	case config.TypeInteger, config.TypeFloat:
		if p.HasDefault() {
			if f, ok := asFloat(p.Default); ok {
				props = append(props, mcp.DefaultNumber(f))
			}
		}
		if p.Min != nil {
			props = append(props, mcp.Min(*p.Min))
		}
		if p.Max != nil {
			props = append(props, mcp.Max(*p.Max))
		}
		return mcp.WithNumber(p.Name, props...)

	case config.TypeBoolean:
		if p.HasDefault() {
			if b, ok := p.Default.(bool); ok {
				props = append(props, mcp.DefaultBool(b))
			}
		}
		return mcp.WithBoolean(p.Name, props...)

	case config.TypeArray:
		items := map[string]interface{}{"type": jsonType(p.ItemType)}
		props = append(props, mcp.Items(items))
		if p.MinLength != nil {
			props = append(props, mcp.MinItems(*p.MinLength))
		}
		if p.MaxLength != nil {
			props = append(props, mcp.MaxItems(*p.MaxLength))
		}
		return mcp.WithArray(p.Name, props...)

	default:
		return mcp.WithString(p.Name, props...)
	}
}

// parameterDescription appends the allowed values so agents see them even
// when they ignore the enum constraint.
func parameterDescription(p *config.ParameterSpec) string {
	desc := p.Description
	if len(p.Enum) > 0 {
		values := make([]string, len(p.Enum))
		for i, v := range p.Enum {
			values[i] = fmt.Sprintf("%v", v)
		}
		suffix := "Must be one of: " + strings.Join(values, ", ")
		if desc == "" {
			return suffix
		}
		return desc + ". " + suffix
	}
	return desc
}

func stringEnum(enum []interface{}) []string {
	var values []string
	for _, v := range enum {
		if s, ok := v.(string); ok {
			values = append(values, s)
		}
	}
	return values
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func jsonType(itemType string) string {
	switch itemType {
	case config.TypeInteger:
		return "integer"
	case config.TypeFloat:
		return "number"
	case config.TypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// titleCase converts a tool name like wrk_active_jobs to "Wrk Active Jobs".
func titleCase(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
