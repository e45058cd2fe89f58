package format

import "strings"

// numericSQLTypes are the Db2 type families rendered right-aligned: the
// integer, decimal and floating families. Everything else, including
// temporal and character types, stays left-aligned.
var numericSQLTypes = map[string]bool{
	"SMALLINT": true,
	"INTEGER":  true,
	"INT":      true,
	"BIGINT":   true,
	"DECIMAL":  true,
	"DEC":      true,
	"NUMERIC":  true,
	"FLOAT":    true,
	"REAL":     true,
	"DOUBLE":   true,
	"DECFLOAT": true,
}

// isNumericSQLType classifies a column type name, ignoring case and any
// precision suffix such as DECIMAL(10,2).
func isNumericSQLType(sqlType string) bool {
	t := strings.TrimSpace(strings.ToUpper(sqlType))
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = strings.TrimSpace(t[:idx])
	}
	return numericSQLTypes[t]
}
