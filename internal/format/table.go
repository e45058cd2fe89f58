package format

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
)

// renderTable draws headers and rows in the requested border style.
// Markdown and compact are produced directly so the alignment markers and
// padding stay byte-stable; the bordered styles go through tablewriter.
func renderTable(style string, headers []string, rightAlign []bool, rows [][]string) string {
	switch style {
	case config.StyleASCII:
		return renderBordered(headers, rightAlign, rows, tw.StyleASCII)
	case config.StyleGrid:
		return renderBordered(headers, rightAlign, rows, tw.StyleLight)
	case config.StyleCompact:
		return renderCompact(headers, rightAlign, rows)
	default:
		return renderMarkdown(headers, rightAlign, rows)
	}
}

func renderMarkdown(headers []string, rightAlign []bool, rows [][]string) string {
	widths := columnWidths(headers, rows)

	var b strings.Builder
	b.WriteString("|")
	for i, h := range headers {
		b.WriteString(" " + pad(h, widths[i], false) + " |")
	}
	b.WriteString("\n|")
	for i := range headers {
		if rightAlign[i] {
			b.WriteString(" " + strings.Repeat("-", widths[i]-1) + ": |")
		} else {
			b.WriteString(" " + strings.Repeat("-", widths[i]) + " |")
		}
	}
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString("|")
		for i, cell := range row {
			b.WriteString(" " + pad(cell, widths[i], rightAlign[i]) + " |")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderCompact(headers []string, rightAlign []bool, rows [][]string) string {
	widths := columnWidths(headers, rows)

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(pad(cell, widths[i], rightAlign[i]))
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	for i, w := range widths {
		if i > 0 {
			b.WriteString("  ")
		}
		b.WriteString(strings.Repeat("-", w))
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

func renderBordered(headers []string, rightAlign []bool, rows [][]string, symbolStyle tw.BorderStyle) string {
	aligns := make(tw.Alignment, len(headers))
	for i := range headers {
		if rightAlign[i] {
			aligns[i] = tw.AlignRight
		} else {
			aligns[i] = tw.AlignLeft
		}
	}

	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.Options(
		tablewriter.WithHeader(headers),
		tablewriter.WithRendition(
			tw.Rendition{
				Symbols: tw.NewSymbols(symbolStyle),
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
		tablewriter.WithAlignment(aligns),
	)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return renderCompact(headers, rightAlign, rows)
		}
	}
	if err := table.Render(); err != nil {
		return renderCompact(headers, rightAlign, rows)
	}
	return buf.String()
}

func columnWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	// Markdown alignment markers need at least ---:
	for i, w := range widths {
		if w < 4 {
			widths[i] = 4
		}
	}
	return widths
}

func pad(s string, width int, right bool) string {
	if len(s) >= width {
		return s
	}
	fill := strings.Repeat(" ", width-len(s))
	if right {
		return fill + s
	}
	return s + fill
}
