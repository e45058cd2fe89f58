// Package security performs static policy checks over SQL text before it is
// sent to the database gateway. It is a guardrail, not a parser: unclear
// statements are refused rather than interpreted.
package security

import (
	"strings"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// DefaultMaxQueryLength bounds statement size when a policy does not set one.
const DefaultMaxQueryLength = 10000

// defaultForbiddenKeywords is the destructive keyword set every policy
// carries. Policies may add keywords but never remove these.
var defaultForbiddenKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "INSERT", "UPDATE",
	"GRANT", "REVOKE", "ALTER", "CREATE", "EXEC", "CALL",
}

// Policy is the per-tool SQL security policy.
type Policy struct {
	ReadOnly          bool
	MaxQueryLength    int
	ForbiddenKeywords []string // additions on top of the default set
}

// DefaultPolicy returns the read-only policy applied when a tool declares
// no security overrides.
func DefaultPolicy() Policy {
	return Policy{
		ReadOnly:       true,
		MaxQueryLength: DefaultMaxQueryLength,
	}
}

// EffectiveKeywords returns the merged forbidden keyword set, uppercased.
func (p Policy) EffectiveKeywords() map[string]bool {
	keywords := make(map[string]bool, len(defaultForbiddenKeywords)+len(p.ForbiddenKeywords))
	for _, kw := range defaultForbiddenKeywords {
		keywords[kw] = true
	}
	for _, kw := range p.ForbiddenKeywords {
		keywords[strings.ToUpper(strings.TrimSpace(kw))] = true
	}
	delete(keywords, "")
	return keywords
}

// Validate checks SQL text against the policy. It returns a validation error
// naming the violated rule, and nil when the statement passes.
func Validate(sql string, policy Policy) error {
	maxLen := policy.MaxQueryLength
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLength
	}
	if len(sql) > maxLen {
		return errs.Newf(errs.KindValidation,
			"SQL statement exceeds maximum length of %d characters", maxLen).
			WithDetail("statementLength", len(sql))
	}

	if strings.TrimSpace(sql) == "" {
		return errs.New(errs.KindValidation, "SQL statement is empty")
	}

	forbidden := policy.EffectiveKeywords()
	for _, tok := range Tokens(sql) {
		if forbidden[tok] {
			return errs.Newf(errs.KindValidation, "restricted keyword: %s", tok).
				WithDetail("keyword", tok)
		}
	}

	if policy.ReadOnly {
		first := FirstKeyword(sql)
		if first != "SELECT" && first != "WITH" {
			return errs.Newf(errs.KindValidation,
				"read-only policy requires the statement to start with SELECT or WITH, got %q", first)
		}
	}

	return nil
}
