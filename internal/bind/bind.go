// Package bind turns a tool's raw argument map into the bound SQL statement
// and positional value vector the gateway accepts.
package bind

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/contracts"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/security"
)

// Binding modes reported in result metadata.
const (
	ModeNone       = "none"
	ModeNamed      = "named"
	ModePositional = "positional"
	ModeMixed      = "mixed"
)

// Result is a fully bound statement ready for the gateway.
type Result struct {
	SQL      string
	Values   []interface{}
	Metadata contracts.BindingMetadata
}

// Bind validates the argument map against the declared parameters, resolves
// defaults, substitutes named placeholders and assigns positional ones.
// Named substitution runs first; any remaining ? consumes the not-yet-used
// parameters in declaration order.
func Bind(statement string, params []*config.ParameterSpec, args map[string]interface{}) (*Result, error) {
	values, err := resolveValues(params, args)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]*config.ParameterSpec, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	var (
		sql        strings.Builder
		slots      []interface{}
		namedUsed  = make(map[string]bool)
		positional int
		named      int
		processed  []string
	)

	appendValue := func(p *config.ParameterSpec, v interface{}) error {
		arr, isArray := v.([]interface{})
		if p != nil && p.Type == config.TypeArray && v != nil && isArray {
			if len(arr) == 0 {
				// Empty expansion would produce invalid SQL; bind one NULL.
				sql.WriteByte('?')
				slots = append(slots, nil)
				return nil
			}
			for i, elem := range arr {
				if i > 0 {
					sql.WriteString(", ")
				}
				sql.WriteByte('?')
				slots = append(slots, elem)
			}
			return nil
		}
		sql.WriteByte('?')
		slots = append(slots, v)
		return nil
	}

	for _, seg := range security.Segments(statement) {
		if seg.Kind != security.SegmentCode {
			sql.WriteString(statement[seg.Start:seg.End])
			continue
		}
		text := statement[seg.Start:seg.End]
		for i := 0; i < len(text); {
			switch {
			case text[i] == ':' && i+1 < len(text) && isIdentChar(text[i+1]):
				j := i + 1
				for j < len(text) && isIdentChar(text[j]) {
					j++
				}
				name := text[i+1 : j]
				p, ok := declared[name]
				if !ok {
					return nil, errs.Newf(errs.KindValidation,
						"placeholder :%s has no declared parameter", name)
				}
				if err := appendValue(p, values[name]); err != nil {
					return nil, err
				}
				if !namedUsed[name] {
					namedUsed[name] = true
					processed = append(processed, name)
				}
				named++
				i = j
			case text[i] == '?':
				// Marker filled from the declared list after the walk.
				slots = append(slots, positionalMarker{})
				sql.WriteByte('?')
				positional++
				i++
			default:
				sql.WriteByte(text[i])
				i++
			}
		}
	}

	// Remaining ? consume the parameters named substitution did not touch,
	// in declaration order.
	var remaining []*config.ParameterSpec
	for _, p := range params {
		if !namedUsed[p.Name] {
			remaining = append(remaining, p)
		}
	}
	if positional != len(remaining) {
		return nil, errs.Newf(errs.KindValidation,
			"statement has %d positional placeholders but %d unbound parameters",
			positional, len(remaining)).
			WithDetail("placeholders", positional).
			WithDetail("parameters", len(remaining))
	}

	next := 0
	final := make([]interface{}, 0, len(slots))
	for _, s := range slots {
		if _, isMarker := s.(positionalMarker); !isMarker {
			final = append(final, s)
			continue
		}
		p := remaining[next]
		next++
		if p.Type == config.TypeArray {
			return nil, errs.Newf(errs.KindValidation,
				"array parameter %q requires a named placeholder", p.Name)
		}
		final = append(final, values[p.Name])
		processed = append(processed, p.Name)
	}

	mode := ModeNone
	switch {
	case named > 0 && positional > 0:
		mode = ModeMixed
	case named > 0:
		mode = ModeNamed
	case positional > 0:
		mode = ModePositional
	}

	return &Result{
		SQL:    sql.String(),
		Values: final,
		Metadata: contracts.BindingMetadata{
			Mode:                mode,
			Count:               len(final),
			ProcessedParameters: processed,
		},
	}, nil
}

type positionalMarker struct{}

// resolveValues validates every argument and fills defaults. A missing
// required argument without a default is a validation error; a missing
// optional argument binds NULL.
func resolveValues(params []*config.ParameterSpec, args map[string]interface{}) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(params))
	for _, p := range params {
		raw, present := args[p.Name]
		switch {
		case present && raw != nil:
			v, err := coerce(p, raw)
			if err != nil {
				return nil, err
			}
			values[p.Name] = v
		case p.HasDefault():
			v, err := coerce(p, p.Default)
			if err != nil {
				return nil, errs.Newf(errs.KindValidation,
					"parameter %q has an invalid default: %v", p.Name, err)
			}
			values[p.Name] = v
		case p.IsOptional():
			values[p.Name] = nil
		default:
			return nil, errs.Newf(errs.KindValidation,
				"missing required parameter %q", p.Name)
		}
	}
	return values, nil
}

// coerce checks a value against one ParameterSpec and returns the wire
// representation. Only scalars and arrays of scalars survive.
func coerce(p *config.ParameterSpec, raw interface{}) (interface{}, error) {
	switch p.Type {
	case config.TypeArray:
		arr, ok := raw.([]interface{})
		if !ok {
			return nil, typeError(p.Name, "array", raw)
		}
		if p.MinLength != nil && len(arr) < *p.MinLength {
			return nil, errs.Newf(errs.KindValidation,
				"parameter %q requires at least %d elements, got %d", p.Name, *p.MinLength, len(arr))
		}
		if p.MaxLength != nil && len(arr) > *p.MaxLength {
			return nil, errs.Newf(errs.KindValidation,
				"parameter %q allows at most %d elements, got %d", p.Name, *p.MaxLength, len(arr))
		}
		item := &config.ParameterSpec{Name: p.Name, Type: p.ItemType, Min: p.Min, Max: p.Max}
		out := make([]interface{}, len(arr))
		for i, elem := range arr {
			v, err := coerce(item, elem)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case config.TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, typeError(p.Name, "string", raw)
		}
		if p.MinLength != nil && len(s) < *p.MinLength {
			return nil, errs.Newf(errs.KindValidation,
				"parameter %q must be at least %d characters", p.Name, *p.MinLength)
		}
		if p.MaxLength != nil && len(s) > *p.MaxLength {
			return nil, errs.Newf(errs.KindValidation,
				"parameter %q must be at most %d characters", p.Name, *p.MaxLength)
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return nil, errs.Newf(errs.KindValidation,
					"parameter %q has an invalid pattern", p.Name)
			}
			if !re.MatchString(s) {
				return nil, errs.Newf(errs.KindValidation,
					"parameter %q does not match pattern %s", p.Name, p.Pattern)
			}
		}
		if err := checkEnum(p, s); err != nil {
			return nil, err
		}
		return s, nil

	case config.TypeInteger:
		f, err := asNumber(p.Name, raw)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, errs.Newf(errs.KindValidation,
				"parameter %q must be an integer, got %v", p.Name, raw)
		}
		if err := checkBounds(p, f); err != nil {
			return nil, err
		}
		if err := checkEnum(p, f); err != nil {
			return nil, err
		}
		return int64(f), nil

	case config.TypeFloat:
		f, err := asNumber(p.Name, raw)
		if err != nil {
			return nil, err
		}
		if err := checkBounds(p, f); err != nil {
			return nil, err
		}
		if err := checkEnum(p, f); err != nil {
			return nil, err
		}
		return f, nil

	case config.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, typeError(p.Name, "boolean", raw)
		}
		return b, nil

	default:
		return nil, errs.Newf(errs.KindValidation,
			"parameter %q has unsupported type %q", p.Name, p.Type)
	}
}

func asNumber(name string, raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	return 0, typeError(name, "number", raw)
}

func checkBounds(p *config.ParameterSpec, f float64) error {
	if p.Min != nil && f < *p.Min {
		return errs.Newf(errs.KindValidation,
			"parameter %q must be >= %v, got %v", p.Name, *p.Min, f)
	}
	if p.Max != nil && f > *p.Max {
		return errs.Newf(errs.KindValidation,
			"parameter %q must be <= %v, got %v", p.Name, *p.Max, f)
	}
	return nil
}

// checkEnum compares numerically for numbers so YAML integers match JSON
// floats.
func checkEnum(p *config.ParameterSpec, v interface{}) error {
	if len(p.Enum) == 0 {
		return nil
	}
	for _, allowed := range p.Enum {
		if f, ok := v.(float64); ok {
			if af, err := asNumber(p.Name, allowed); err == nil && af == f {
				return nil
			}
			continue
		}
		if allowed == v {
			return nil
		}
	}
	return errs.Newf(errs.KindValidation,
		"parameter %q must be one of %s", p.Name, enumList(p.Enum)).
		WithDetail("allowed", p.Enum)
}

func enumList(enum []interface{}) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprintf("%v", e)
	}
	return strings.Join(parts, ", ")
}

func typeError(name, want string, got interface{}) error {
	return errs.Newf(errs.KindValidation,
		"parameter %q must be a %s, got %T", name, want, got)
}

// isIdentChar matches the identifier alphabet the placeholder scanner uses.
func isIdentChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
		b == '_' || b == '$' || b == '#' || b == '@'
}
