package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
)

// DefaultNullString substitutes SQL NULL in rendered tables.
const DefaultNullString = "-"

// sqlEchoLimit truncates the echoed statement in Markdown output.
const sqlEchoLimit = 500

// Markdown renders a tool result as a Markdown document with a typed table.
type Markdown struct {
	Style          string
	MaxDisplayRows int
	NullString     string
}

// Format implements Formatter.
func (m *Markdown) Format(payload *contracts.OutputPayload) string {
	if !payload.Success {
		return m.formatError(payload)
	}

	var b strings.Builder
	name := "result"
	if payload.Metadata != nil && payload.Metadata.ToolName != "" {
		name = payload.Metadata.ToolName
	}
	fmt.Fprintf(&b, "## %s\n\n", name)
	fmt.Fprintf(&b, "✅ **Success** (%d %s", len(payload.Data), plural(len(payload.Data), "row"))
	if payload.Metadata != nil && payload.Metadata.ExecutionTime > 0 {
		fmt.Fprintf(&b, ", %.0f ms", payload.Metadata.ExecutionTime)
	}
	b.WriteString(")\n\n")

	if payload.Metadata != nil && payload.Metadata.SQLStatement != "" {
		fmt.Fprintf(&b, "```sql\n%s\n```\n\n", truncate(payload.Metadata.SQLStatement, sqlEchoLimit))
	}

	if payload.Metadata != nil && len(payload.Metadata.Parameters) > 0 {
		b.WriteString("**Parameters:**\n")
		for _, name := range sortedParamNames(payload.Metadata.Parameters) {
			fmt.Fprintf(&b, "- `%s`: %v\n", name, payload.Metadata.Parameters[name])
		}
		b.WriteString("\n")
	}

	if len(payload.Data) == 0 {
		b.WriteString("_No rows returned._\n")
		if payload.Metadata != nil && payload.Metadata.AffectedRows > 0 {
			fmt.Fprintf(&b, "\n%d rows affected.\n", payload.Metadata.AffectedRows)
		}
		return b.String()
	}

	m.writeTable(&b, payload)
	return b.String()
}

func (m *Markdown) writeTable(b *strings.Builder, payload *contracts.OutputPayload) {
	columns := resolveColumns(payload)

	total := len(payload.Data)
	rows := payload.Data
	maxRows := m.MaxDisplayRows
	if maxRows <= 0 {
		maxRows = config.DefaultMaxDisplayRows
	}
	if total > maxRows {
		rows = rows[:maxRows]
	}

	nullString := m.NullString
	if nullString == "" {
		nullString = DefaultNullString
	}

	headers := make([]string, len(columns))
	aligns := make([]bool, len(columns)) // true = right
	for i, col := range columns {
		if col.Type != "" {
			headers[i] = fmt.Sprintf("%s (%s)", col.Name, col.Type)
		} else {
			headers[i] = col.Name
		}
		aligns[i] = isNumericSQLType(col.Type)
	}

	nullCounts := make([]int, len(columns))
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for c, col := range columns {
			v, ok := row[col.Name]
			if !ok || v == nil {
				cells[r][c] = nullString
				nullCounts[c]++
				continue
			}
			cells[r][c] = fmt.Sprintf("%v", v)
		}
	}

	b.WriteString(renderTable(m.Style, headers, aligns, cells))
	b.WriteString("\n")

	if total > len(rows) {
		fmt.Fprintf(b, "\nShowing %d of %d rows. %d omitted.\n",
			len(rows), total, total-len(rows))
	}

	var nullNotes []string
	for i, n := range nullCounts {
		if n > 0 {
			nullNotes = append(nullNotes, fmt.Sprintf("%s: %d", columns[i].Name, n))
		}
	}
	if len(nullNotes) > 0 {
		fmt.Fprintf(b, "\nNull values (shown as %q) per column: %s.\n",
			nullString, strings.Join(nullNotes, ", "))
	}
}

// formatError renders the failure block with code, message and the
// statement that failed.
func (m *Markdown) formatError(payload *contracts.OutputPayload) string {
	var b strings.Builder
	name := "result"
	if payload.Metadata != nil && payload.Metadata.ToolName != "" {
		name = payload.Metadata.ToolName
	}
	fmt.Fprintf(&b, "## %s\n\n", name)
	b.WriteString("❌ **Error**")
	if payload.ErrorCode != "" {
		fmt.Fprintf(&b, " (%s)", payload.ErrorCode)
	}
	b.WriteString("\n\n")
	if payload.Error != "" {
		fmt.Fprintf(&b, "%s\n", payload.Error)
	}
	if payload.Metadata != nil && payload.Metadata.SQLStatement != "" {
		fmt.Fprintf(&b, "\n```sql\n%s\n```\n", truncate(payload.Metadata.SQLStatement, sqlEchoLimit))
	}
	return b.String()
}

// resolveColumns prefers the gateway's column metadata and falls back to
// the sorted key set of the first row.
func resolveColumns(payload *contracts.OutputPayload) []contracts.Column {
	if payload.Metadata != nil && len(payload.Metadata.Columns) > 0 {
		return payload.Metadata.Columns
	}
	if len(payload.Data) == 0 {
		return nil
	}
	names := make([]string, 0, len(payload.Data[0]))
	for name := range payload.Data[0] {
		names = append(names, name)
	}
	sort.Strings(names)
	columns := make([]contracts.Column, len(names))
	for i, name := range names {
		columns[i] = contracts.Column{Name: name}
	}
	return columns
}

func sortedParamNames(params map[string]interface{}) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
