// Package format turns structured tool results into the text content block
// returned over MCP: pretty JSON, or typed Markdown tables with alignment,
// null tracking and row truncation.
package format

import (
	"encoding/json"
	"fmt"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
)

// Formatter renders one tool output payload as text.
type Formatter interface {
	Format(payload *contracts.OutputPayload) string
}

// ForTool resolves the formatter a tool's spec asks for.
func ForTool(spec *config.ToolSpec) Formatter {
	if spec.ResponseFormat == config.FormatMarkdown {
		return &Markdown{
			Style:          effectiveStyle(spec.TableStyle),
			MaxDisplayRows: spec.EffectiveMaxDisplayRows(),
			NullString:     DefaultNullString,
		}
	}
	return JSON{}
}

func effectiveStyle(style string) string {
	if style == "" {
		return config.StyleMarkdown
	}
	return style
}

// JSON serializes the whole payload as pretty-printed JSON.
type JSON struct{}

// Format implements Formatter.
func (JSON) Format(payload *contracts.OutputPayload) string {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(out)
}
