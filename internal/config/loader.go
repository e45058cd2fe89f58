package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// Source reference types.
const (
	SourceTypeFile      = "file"
	SourceTypeDirectory = "directory"
	SourceTypeGlob      = "glob"
)

// SourceRef names one place to load YAML configuration from.
type SourceRef struct {
	Type     string
	Path     string
	BaseDir  string
	Required bool
}

// Stats summarizes a load.
type Stats struct {
	SourcesLoaded int `json:"sourcesLoaded"`
	SourcesMerged int `json:"sourcesMerged"`
	ToolsTotal    int `json:"toolsTotal"`
	ToolsetsTotal int `json:"toolsetsTotal"`
	SourcesTotal  int `json:"sourcesTotal"`
}

// LoadResult reports the outcome of assembling a merged configuration.
type LoadResult struct {
	Success           bool
	Config            *Config
	Stats             Stats
	ResolvedFilePaths []string
	Errors            []error
	Warnings          []string
}

// Loader assembles a validated Config from one or more YAML sources.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a loader.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

// RefFromPath classifies a --tools argument into a SourceRef: an existing
// directory loads recursively, a path containing glob metacharacters is a
// glob, anything else is a required file.
func RefFromPath(path string) SourceRef {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return SourceRef{Type: SourceTypeDirectory, Path: path, Required: true}
	}
	if strings.ContainsAny(path, "*?[") {
		return SourceRef{Type: SourceTypeGlob, Path: path, Required: true}
	}
	return SourceRef{Type: SourceTypeFile, Path: path, Required: true}
}

// Load resolves every source reference, parses and validates each file, and
// merges the surviving documents under the given options. Files with parse
// or validation errors are reported and skipped; they never poison the merge.
func (l *Loader) Load(refs []SourceRef, opts MergeOptions) (*LoadResult, error) {
	result := &LoadResult{}

	paths, err := l.resolveAll(refs, result)
	if err != nil {
		return result, err
	}
	result.ResolvedFilePaths = paths

	if len(paths) == 0 {
		return result, errs.New(errs.KindConfiguration, "no configuration files resolved")
	}

	var files []fileConfig
	for _, path := range paths {
		cfg, err := l.parseFile(path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			l.logger.Error("configuration file rejected",
				zap.String("file", path), zap.Error(err))
			continue
		}
		files = append(files, fileConfig{Path: path, Config: cfg})
		result.Stats.SourcesLoaded++
	}

	if len(files) == 0 {
		return result, errs.New(errs.KindConfiguration,
			"all configuration files failed to parse")
	}

	merged, warnings, err := mergeConfigs(files, opts, l.logger)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result, err
	}

	result.Success = len(result.Errors) == 0
	result.Config = merged
	result.Stats.SourcesMerged = len(files)
	result.Stats.ToolsTotal = len(merged.Tools)
	result.Stats.ToolsetsTotal = len(merged.Toolsets)
	result.Stats.SourcesTotal = len(merged.Sources)

	l.logger.Info("configuration loaded",
		zap.Int("files", len(files)),
		zap.Int("tools", result.Stats.ToolsTotal),
		zap.Int("toolsets", result.Stats.ToolsetsTotal),
		zap.Int("sources", result.Stats.SourcesTotal))

	return result, nil
}

func (l *Loader) resolveAll(refs []SourceRef, result *LoadResult) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		resolved, err := l.resolve(ref, result)
		if err != nil {
			return nil, err
		}
		for _, p := range resolved {
			abs, err := filepath.Abs(p)
			if err != nil {
				abs = p
			}
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
	}
	return paths, nil
}

func (l *Loader) resolve(ref SourceRef, result *LoadResult) ([]string, error) {
	switch ref.Type {
	case SourceTypeFile:
		if _, err := os.Stat(ref.Path); err != nil {
			if ref.Required {
				return nil, errs.Wrap(errs.KindConfiguration,
					fmt.Sprintf("required configuration file %s not found", ref.Path), err)
			}
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("optional configuration file %s not found, skipping", ref.Path))
			return nil, nil
		}
		return []string{ref.Path}, nil

	case SourceTypeDirectory:
		var paths []string
		err := filepath.WalkDir(ref.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration,
				fmt.Sprintf("failed to scan directory %s", ref.Path), err)
		}
		sort.Strings(paths)
		if len(paths) == 0 && ref.Required {
			return nil, errs.Newf(errs.KindConfiguration,
				"directory %s contains no YAML files", ref.Path)
		}
		return paths, nil

	case SourceTypeGlob:
		pattern := ref.Path
		if ref.BaseDir != "" && !filepath.IsAbs(pattern) {
			pattern = filepath.Join(ref.BaseDir, pattern)
		}
		paths, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration,
				fmt.Sprintf("invalid glob pattern %s", ref.Path), err)
		}
		sort.Strings(paths)
		if len(paths) == 0 && ref.Required {
			return nil, errs.Newf(errs.KindConfiguration,
				"glob %s matched no files", ref.Path)
		}
		return paths, nil

	default:
		return nil, errs.Newf(errs.KindConfiguration,
			"unknown configuration source type %q", ref.Type)
	}
}

// parseFile reads and validates one YAML document. Errors carry the file
// name; yaml.v3 includes line information in its messages.
func (l *Loader) parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration,
			fmt.Sprintf("failed to read %s", path), err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration,
			fmt.Sprintf("failed to parse %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration,
			fmt.Sprintf("invalid configuration in %s", path), err)
	}

	return cfg, nil
}
