package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentText(sql string, seg Segment) string {
	return sql[seg.Start:seg.End]
}

func TestSegmentsPlainCode(t *testing.T) {
	sql := "SELECT 1 FROM SYSIBM.SYSDUMMY1"
	segs := Segments(sql)
	require.Len(t, segs, 1)
	assert.Equal(t, SegmentCode, segs[0].Kind)
	assert.Equal(t, sql, segmentText(sql, segs[0]))
}

func TestSegmentsStringLiteral(t *testing.T) {
	sql := "SELECT 'abc' FROM t"
	segs := Segments(sql)
	require.Len(t, segs, 3)
	assert.Equal(t, SegmentCode, segs[0].Kind)
	assert.Equal(t, SegmentStringLiteral, segs[1].Kind)
	assert.Equal(t, "'abc'", segmentText(sql, segs[1]))
	assert.Equal(t, SegmentCode, segs[2].Kind)
	assert.Equal(t, " FROM t", segmentText(sql, segs[2]))
}

func TestSegmentsEscapedQuote(t *testing.T) {
	sql := "SELECT 'it''s' FROM t"
	segs := Segments(sql)
	require.Len(t, segs, 3)
	assert.Equal(t, "'it''s'", segmentText(sql, segs[1]))
}

func TestSegmentsQuotedIdentifier(t *testing.T) {
	sql := `SELECT "ODD""NAME" FROM t`
	segs := Segments(sql)
	require.Len(t, segs, 3)
	assert.Equal(t, SegmentQuotedIdentifier, segs[1].Kind)
	assert.Equal(t, `"ODD""NAME"`, segmentText(sql, segs[1]))
}

func TestSegmentsComments(t *testing.T) {
	sql := "SELECT 1 -- trailing\n/* block */ FROM t"
	segs := Segments(sql)

	var kinds []SegmentKind
	for _, seg := range segs {
		kinds = append(kinds, seg.Kind)
	}
	assert.Equal(t, []SegmentKind{
		SegmentCode, SegmentLineComment, SegmentCode, SegmentBlockComment, SegmentCode,
	}, kinds)
	assert.Equal(t, "-- trailing", segmentText(sql, segs[1]))
	assert.Equal(t, "/* block */", segmentText(sql, segs[3]))
}

func TestSegmentsUnterminatedLiteralExtendsToEnd(t *testing.T) {
	sql := "SELECT 'oops"
	segs := Segments(sql)
	last := segs[len(segs)-1]
	assert.Equal(t, SegmentStringLiteral, last.Kind)
	assert.Equal(t, len(sql), last.End)
}

func TestSegmentsCoverWholeInput(t *testing.T) {
	cases := []string{
		"",
		"SELECT 1",
		"SELECT 'a' FROM \"B\" -- c\n/* d */",
		"'unterminated",
		"/* unterminated",
	}
	for _, sql := range cases {
		pos := 0
		for _, seg := range Segments(sql) {
			require.Equal(t, pos, seg.Start, "gap in segments for %q", sql)
			require.Greater(t, seg.End, seg.Start)
			pos = seg.End
		}
		require.Equal(t, len(sql), pos, "segments do not cover %q", sql)
	}
}

func TestTokensSkipLiteralsAndComments(t *testing.T) {
	sql := "SELECT name FROM t WHERE note = 'DROP' -- DELETE\n/* UPDATE */"
	tokens := Tokens(sql)
	assert.Equal(t, []string{"SELECT", "NAME", "FROM", "T", "WHERE", "NOTE"}, tokens)
}

func TestFirstKeyword(t *testing.T) {
	assert.Equal(t, "SELECT", FirstKeyword("  select 1"))
	assert.Equal(t, "SELECT", FirstKeyword("-- note\nSELECT 1"))
	assert.Equal(t, "WITH", FirstKeyword("/* x */ WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.Equal(t, "", FirstKeyword("-- only a comment"))
}

func TestNamedPlaceholdersOrderAndDedupe(t *testing.T) {
	sql := "SELECT * FROM t WHERE a = :first AND b = :second AND c = :first"
	assert.Equal(t, []string{"first", "second"}, NamedPlaceholders(sql))
}

func TestNamedPlaceholdersIgnoreLiteralsAndComments(t *testing.T) {
	sql := "SELECT ':fake' FROM t WHERE a = :real -- :commented"
	assert.Equal(t, []string{"real"}, NamedPlaceholders(sql))
}

func TestNamedPlaceholdersIdentifierCharset(t *testing.T) {
	sql := "SELECT * FROM t WHERE lib = :library_list$1 AND n = :x#y@z"
	assert.Equal(t, []string{"library_list$1", "x#y@z"}, NamedPlaceholders(sql))
}
