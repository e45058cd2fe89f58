package security

import "strings"

// SegmentKind classifies a region of SQL text.
type SegmentKind int

const (
	SegmentCode SegmentKind = iota
	SegmentStringLiteral
	SegmentQuotedIdentifier
	SegmentLineComment
	SegmentBlockComment
)

// Segment is a half-open [Start, End) region of the original SQL text.
type Segment struct {
	Kind  SegmentKind
	Start int
	End   int
}

// Segments splits SQL text into code, string-literal, quoted-identifier and
// comment regions. The split is conservative: an unterminated literal or
// comment extends to the end of the text. Both the keyword policy check and
// the parameter binder rely on this so that nothing inside a literal or a
// comment is ever treated as SQL.
func Segments(sql string) []Segment {
	var segs []Segment
	n := len(sql)
	i := 0
	codeStart := 0

	flushCode := func(end int) {
		if end > codeStart {
			segs = append(segs, Segment{Kind: SegmentCode, Start: codeStart, End: end})
		}
	}

	for i < n {
		c := sql[i]
		switch {
		case c == '\'':
			flushCode(i)
			start := i
			i++
			for i < n {
				if sql[i] == '\'' {
					// '' escapes a quote inside the literal
					if i+1 < n && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			segs = append(segs, Segment{Kind: SegmentStringLiteral, Start: start, End: i})
			codeStart = i
		case c == '"':
			flushCode(i)
			start := i
			i++
			for i < n {
				if sql[i] == '"' {
					if i+1 < n && sql[i+1] == '"' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			segs = append(segs, Segment{Kind: SegmentQuotedIdentifier, Start: start, End: i})
			codeStart = i
		case c == '-' && i+1 < n && sql[i+1] == '-':
			flushCode(i)
			start := i
			i += 2
			for i < n && sql[i] != '\n' {
				i++
			}
			segs = append(segs, Segment{Kind: SegmentLineComment, Start: start, End: i})
			codeStart = i
		case c == '/' && i+1 < n && sql[i+1] == '*':
			flushCode(i)
			start := i
			i += 2
			for i < n {
				if sql[i] == '*' && i+1 < n && sql[i+1] == '/' {
					i += 2
					break
				}
				i++
			}
			segs = append(segs, Segment{Kind: SegmentBlockComment, Start: start, End: i})
			codeStart = i
		default:
			i++
		}
	}
	flushCode(n)
	return segs
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '$' || c == '#' || c == '@'
}

// Tokens returns the uppercased identifier-like tokens from the code regions
// of the SQL text. Literals and comments contribute nothing.
func Tokens(sql string) []string {
	var tokens []string
	for _, seg := range Segments(sql) {
		if seg.Kind != SegmentCode {
			continue
		}
		code := sql[seg.Start:seg.End]
		start := -1
		for i := 0; i <= len(code); i++ {
			if i < len(code) && isIdentChar(code[i]) {
				if start < 0 {
					start = i
				}
				continue
			}
			if start >= 0 {
				tokens = append(tokens, strings.ToUpper(code[start:i]))
				start = -1
			}
		}
	}
	return tokens
}

// FirstKeyword returns the first alphabetic token outside comments and
// literals, uppercased, or "" when the statement has none.
func FirstKeyword(sql string) string {
	for _, tok := range Tokens(sql) {
		if tok[0] >= 'A' && tok[0] <= 'Z' {
			return tok
		}
	}
	return ""
}

// NamedPlaceholders returns the distinct :name placeholder names from the
// code regions of the SQL text, in order of first occurrence.
func NamedPlaceholders(sql string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, seg := range Segments(sql) {
		if seg.Kind != SegmentCode {
			continue
		}
		code := sql[seg.Start:seg.End]
		for i := 0; i < len(code); i++ {
			if code[i] != ':' {
				continue
			}
			j := i + 1
			for j < len(code) && isIdentChar(code[j]) {
				j++
			}
			if j == i+1 {
				continue
			}
			name := code[i+1 : j]
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			i = j - 1
		}
	}
	return names
}
