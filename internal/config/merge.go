package config

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/security"
)

// MergeOptions controls how multiple configuration documents are combined.
type MergeOptions struct {
	// MergeArrays concatenates the tools list of same-named toolsets.
	// When false a later toolset replaces the earlier one entirely.
	MergeArrays bool

	// AllowDuplicateTools lets a later document redefine a tool name.
	// Last definition wins, with a warning. When false duplicates are a
	// configuration error.
	AllowDuplicateTools bool

	// AllowDuplicateSources is the same policy for source names.
	AllowDuplicateSources bool

	// ValidateMerged runs referential integrity checks after merging.
	ValidateMerged bool
}

// DefaultMergeOptions returns the standard merge policy.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		MergeArrays:           true,
		AllowDuplicateTools:   false,
		AllowDuplicateSources: false,
		ValidateMerged:        true,
	}
}

// fileConfig pairs a parsed document with the file it came from, for
// error reporting during the merge.
type fileConfig struct {
	Path   string
	Config *Config
}

// mergeConfigs combines documents in declaration order under the given
// policy. It returns the merged config and any warnings produced by
// last-wins duplicate resolution.
func mergeConfigs(files []fileConfig, opts MergeOptions, logger *zap.Logger) (*Config, []string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	merged := &Config{
		Sources:  make(map[string]*SourceSpec),
		Tools:    make(map[string]*ToolSpec),
		Toolsets: make(map[string]*ToolsetSpec),
	}
	var warnings []string

	for _, fc := range files {
		cfg := fc.Config

		for name, src := range cfg.Sources {
			if _, exists := merged.Sources[name]; exists {
				if !opts.AllowDuplicateSources {
					return nil, warnings, errs.Newf(errs.KindConfiguration,
						"duplicate source %q in %s", name, fc.Path)
				}
				warning := fmt.Sprintf("source %q redefined in %s, last definition wins", name, fc.Path)
				warnings = append(warnings, warning)
				logger.Warn("duplicate source", zap.String("source", name), zap.String("file", fc.Path))
			}
			merged.Sources[name] = src
		}

		for name, tool := range cfg.Tools {
			if _, exists := merged.Tools[name]; exists {
				if !opts.AllowDuplicateTools {
					return nil, warnings, errs.Newf(errs.KindConfiguration,
						"duplicate tool %q in %s", name, fc.Path)
				}
				warning := fmt.Sprintf("tool %q redefined in %s, last definition wins", name, fc.Path)
				warnings = append(warnings, warning)
				logger.Warn("duplicate tool", zap.String("tool", name), zap.String("file", fc.Path))
			}
			merged.Tools[name] = tool
		}

		for name, ts := range cfg.Toolsets {
			existing, exists := merged.Toolsets[name]
			if exists && opts.MergeArrays {
				merged.Toolsets[name] = mergeToolsets(existing, ts)
				continue
			}
			if exists {
				warnings = append(warnings,
					fmt.Sprintf("toolset %q replaced by %s", name, fc.Path))
			}
			merged.Toolsets[name] = copyToolset(ts)
		}
	}

	if merged.IsEmpty() {
		return nil, warnings, errs.New(errs.KindConfiguration,
			"merged configuration is empty")
	}

	if opts.ValidateMerged {
		if err := validateMerged(merged); err != nil {
			return nil, warnings, err
		}
	}

	return merged, warnings, nil
}

// mergeToolsets concatenates member lists, keeping first-seen order and
// dropping duplicates. Title and description from the later document win
// when set.
func mergeToolsets(base, patch *ToolsetSpec) *ToolsetSpec {
	result := copyToolset(base)
	if patch.Title != "" {
		result.Title = patch.Title
	}
	if patch.Description != "" {
		result.Description = patch.Description
	}
	seen := make(map[string]bool, len(result.Tools))
	for _, t := range result.Tools {
		seen[t] = true
	}
	for _, t := range patch.Tools {
		if !seen[t] {
			seen[t] = true
			result.Tools = append(result.Tools, t)
		}
	}
	return result
}

func copyToolset(src *ToolsetSpec) *ToolsetSpec {
	dst := &ToolsetSpec{
		Title:       src.Title,
		Description: src.Description,
		Tools:       make([]string, len(src.Tools)),
	}
	copy(dst.Tools, src.Tools)
	return dst
}

// validateMerged enforces referential integrity over the merged document:
// every tool references a known source, every toolset member exists, and
// every named placeholder in a statement is a declared parameter.
func validateMerged(cfg *Config) error {
	toolNames := sortedKeys(cfg.Tools)
	for _, name := range toolNames {
		tool := cfg.Tools[name]
		if _, ok := cfg.Sources[tool.Source]; !ok {
			return errs.Newf(errs.KindConfiguration,
				"tool %q references unknown source %q", name, tool.Source)
		}
		declared := make(map[string]bool, len(tool.Parameters))
		for _, p := range tool.Parameters {
			declared[p.Name] = true
		}
		for _, ph := range security.NamedPlaceholders(tool.Statement) {
			if !declared[ph] {
				return errs.Newf(errs.KindConfiguration,
					"tool %q uses placeholder :%s without declaring a parameter", name, ph)
			}
		}
	}

	for _, name := range sortedKeys(cfg.Toolsets) {
		ts := cfg.Toolsets[name]
		for _, member := range ts.Tools {
			if _, ok := cfg.Tools[member]; !ok {
				return errs.Newf(errs.KindConfiguration,
					"toolset %q references unknown tool %q", name, member)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
