package format

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
)

func markdown() *Markdown {
	return &Markdown{
		Style:          config.StyleMarkdown,
		MaxDisplayRows: config.DefaultMaxDisplayRows,
		NullString:     DefaultNullString,
	}
}

func TestMarkdownSingleRowResult(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data: []map[string]interface{}{
			{"HOSTNAME": "DEV400", "CPU_PCT": 12.5},
		},
		Metadata: &contracts.OutputMetadata{
			ToolName:      "system_status",
			SQLStatement:  "SELECT * FROM TABLE(QSYS2.SYSTEM_STATUS())",
			ExecutionTime: 42,
			RowCount:      1,
			Columns: []contracts.Column{
				{Name: "HOSTNAME", Type: "VARCHAR"},
				{Name: "CPU_PCT", Type: "DECIMAL"},
			},
		},
	}

	out := markdown().Format(payload)
	assert.Contains(t, out, "## system_status")
	assert.Contains(t, out, "✅ **Success** (1 row, 42 ms)")
	assert.Contains(t, out, "```sql\nSELECT * FROM TABLE(QSYS2.SYSTEM_STATUS())\n```")
	assert.Contains(t, out, "HOSTNAME (VARCHAR)")
	assert.Contains(t, out, "CPU_PCT (DECIMAL)")
	assert.Contains(t, out, "DEV400")
	assert.Contains(t, out, "12.5")
}

func TestMarkdownPluralRowCount(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data: []map[string]interface{}{
			{"N": 1}, {"N": 2},
		},
	}
	out := markdown().Format(payload)
	assert.Contains(t, out, "(2 rows)")
}

func TestMarkdownNumericRightAlignment(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data: []map[string]interface{}{
			{"NAME": "A", "SIZE": 10},
		},
		Metadata: &contracts.OutputMetadata{
			Columns: []contracts.Column{
				{Name: "NAME", Type: "VARCHAR"},
				{Name: "SIZE", Type: "BIGINT"},
			},
		},
	}
	out := markdown().Format(payload)

	// The numeric column gets a right-alignment marker, the text one not.
	var divider string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "| ---") {
			divider = line
			break
		}
	}
	require.NotEmpty(t, divider)
	cols := strings.Split(strings.Trim(divider, "|"), "|")
	require.Len(t, cols, 2)
	assert.False(t, strings.Contains(cols[0], ":"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(cols[1]), ":"))
}

func TestMarkdownNullHandling(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data: []map[string]interface{}{
			{"NAME": "A", "OWNER": nil},
			{"NAME": "B"},
			{"NAME": nil, "OWNER": "QSYS"},
		},
		Metadata: &contracts.OutputMetadata{
			Columns: []contracts.Column{
				{Name: "NAME", Type: "VARCHAR"},
				{Name: "OWNER", Type: "VARCHAR"},
			},
		},
	}
	out := markdown().Format(payload)
	assert.Contains(t, out, `Null values (shown as "-") per column: NAME: 1, OWNER: 2.`)
}

func TestMarkdownTruncation(t *testing.T) {
	m := markdown()
	m.MaxDisplayRows = 100

	data := make([]map[string]interface{}, 150)
	for i := range data {
		data[i] = map[string]interface{}{"N": i}
	}
	out := m.Format(&contracts.OutputPayload{Success: true, Data: data})
	assert.Contains(t, out, "Showing 100 of 150 rows. 50 omitted.")
	assert.Contains(t, out, "(150 rows")
}

// Rendering never shows more rows than the configured cap, and the omitted
// count always reconciles with the total.
func TestMarkdownTruncationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 60).Draw(t, "total")
		limit := rapid.IntRange(1, 50).Draw(t, "limit")

		data := make([]map[string]interface{}, total)
		for i := range data {
			data[i] = map[string]interface{}{"N": i}
		}
		m := markdown()
		m.MaxDisplayRows = limit
		out := m.Format(&contracts.OutputPayload{Success: true, Data: data})

		if total > limit {
			want := fmt.Sprintf("Showing %d of %d rows. %d omitted.", limit, total, total-limit)
			if !strings.Contains(out, want) {
				t.Fatalf("missing truncation banner %q in:\n%s", want, out)
			}
		} else if strings.Contains(out, "omitted") {
			t.Fatalf("unexpected truncation banner for %d rows, limit %d", total, limit)
		}
	})
}

func TestMarkdownNoRows(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success:  true,
		Data:     nil,
		Metadata: &contracts.OutputMetadata{ToolName: "empty_result"},
	}
	out := markdown().Format(payload)
	assert.Contains(t, out, "(0 rows)")
	assert.Contains(t, out, "_No rows returned._")
}

func TestMarkdownAffectedRows(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success:  true,
		Metadata: &contracts.OutputMetadata{AffectedRows: 7},
	}
	out := markdown().Format(payload)
	assert.Contains(t, out, "7 rows affected.")
}

func TestMarkdownParametersListed(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data:    []map[string]interface{}{{"N": 1}},
		Metadata: &contracts.OutputMetadata{
			Parameters: map[string]interface{}{
				"library": "QGPL",
				"count":   int64(5),
			},
		},
	}
	out := markdown().Format(payload)
	assert.Contains(t, out, "**Parameters:**")
	// Sorted by name.
	countIdx := strings.Index(out, "- `count`: 5")
	libIdx := strings.Index(out, "- `library`: QGPL")
	require.GreaterOrEqual(t, countIdx, 0)
	require.GreaterOrEqual(t, libIdx, 0)
	assert.Less(t, countIdx, libIdx)
}

func TestMarkdownErrorResult(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success:   false,
		Error:     "restricted keyword: DROP",
		ErrorCode: "VALIDATION_ERROR",
		Metadata: &contracts.OutputMetadata{
			ToolName:     "execute_sql",
			SQLStatement: "DROP TABLE users",
		},
	}
	out := markdown().Format(payload)
	assert.Contains(t, out, "## execute_sql")
	assert.Contains(t, out, "❌ **Error** (VALIDATION_ERROR)")
	assert.Contains(t, out, "restricted keyword: DROP")
	assert.Contains(t, out, "```sql\nDROP TABLE users\n```")
}

func TestMarkdownSQLEchoTruncated(t *testing.T) {
	long := "SELECT '" + strings.Repeat("x", 600) + "' FROM SYSIBM.SYSDUMMY1"
	payload := &contracts.OutputPayload{
		Success:  true,
		Data:     []map[string]interface{}{{"N": 1}},
		Metadata: &contracts.OutputMetadata{SQLStatement: long},
	}
	out := markdown().Format(payload)
	assert.NotContains(t, out, long)
	assert.Contains(t, out, "...")
}

func TestMarkdownColumnsFallBackToRowKeys(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data: []map[string]interface{}{
			{"ZED": 1, "ALPHA": 2},
		},
	}
	out := markdown().Format(payload)
	// Without metadata the columns come from the sorted key set.
	assert.Less(t, strings.Index(out, "ALPHA"), strings.Index(out, "ZED"))
}

func TestForToolSelection(t *testing.T) {
	md := ForTool(&config.ToolSpec{ResponseFormat: config.FormatMarkdown, TableStyle: config.StyleGrid, MaxDisplayRows: 25})
	m, ok := md.(*Markdown)
	require.True(t, ok)
	assert.Equal(t, config.StyleGrid, m.Style)
	assert.Equal(t, 25, m.MaxDisplayRows)

	_, ok = ForTool(&config.ToolSpec{}).(JSON)
	assert.True(t, ok)
}

func TestJSONFormatter(t *testing.T) {
	payload := &contracts.OutputPayload{
		Success: true,
		Data:    []map[string]interface{}{{"N": float64(1)}},
	}
	out := JSON{}.Format(payload)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Contains(t, out, "\n  ", "output is indented")
}
