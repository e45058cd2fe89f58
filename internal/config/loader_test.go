package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const baseYAML = `
sources:
  ibmi:
    host: ibmi.example.com
    user: svc
    password: pw
tools:
  system_status:
    source: ibmi
    description: System status snapshot
    statement: SELECT * FROM TABLE(QSYS2.SYSTEM_STATUS())
toolsets:
  performance:
    title: Performance
    tools: [system_status]
`

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "tools.yaml", baseYAML)

	loader := NewLoader(zap.NewNop())
	result, err := loader.Load([]SourceRef{{Type: SourceTypeFile, Path: path, Required: true}},
		DefaultMergeOptions())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Len(t, result.Config.Tools, 1)
	assert.Len(t, result.Config.Toolsets, 1)
	assert.Equal(t, 1, result.Stats.SourcesLoaded)
	require.Len(t, result.ResolvedFilePaths, 1)
	assert.True(t, filepath.IsAbs(result.ResolvedFilePaths[0]))
}

func TestLoadMissingRequiredFile(t *testing.T) {
	loader := NewLoader(zap.NewNop())
	_, err := loader.Load([]SourceRef{
		{Type: SourceTypeFile, Path: filepath.Join(t.TempDir(), "absent.yaml"), Required: true},
	}, DefaultMergeOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadOptionalFileSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "tools.yaml", baseYAML)

	loader := NewLoader(zap.NewNop())
	result, err := loader.Load([]SourceRef{
		{Type: SourceTypeFile, Path: path, Required: true},
		{Type: SourceTypeFile, Path: filepath.Join(dir, "extra.yaml"), Required: false},
	}, DefaultMergeOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Warnings)
	assert.Len(t, result.ResolvedFilePaths, 1)
}

func TestLoadDirectorySortedOrder(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "b_extra.yaml", `
tools:
  extra_tool:
    source: ibmi
    description: extra
    statement: SELECT 2 FROM SYSIBM.SYSDUMMY1
`)
	writeYAML(t, dir, "a_base.yaml", baseYAML)
	writeYAML(t, dir, "notes.txt", "ignored")

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeYAML(t, sub, "c_more.yml", `
toolsets:
  performance:
    tools: [extra_tool]
`)

	loader := NewLoader(zap.NewNop())
	result, err := loader.Load([]SourceRef{{Type: SourceTypeDirectory, Path: dir, Required: true}},
		DefaultMergeOptions())
	require.NoError(t, err)

	assert.Len(t, result.Config.Tools, 2)
	// Toolset lists concatenated across files under the default merge policy.
	assert.Equal(t, []string{"system_status", "extra_tool"},
		result.Config.Toolsets["performance"].Tools)
	assert.Equal(t, 3, result.Stats.SourcesLoaded)
}

func TestLoadGlob(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "tools.yaml", baseYAML)

	loader := NewLoader(zap.NewNop())
	result, err := loader.Load([]SourceRef{
		{Type: SourceTypeGlob, Path: filepath.Join(dir, "*.yaml"), Required: true},
	}, DefaultMergeOptions())
	require.NoError(t, err)
	assert.Len(t, result.ResolvedFilePaths, 1)

	_, err = loader.Load([]SourceRef{
		{Type: SourceTypeGlob, Path: filepath.Join(dir, "*.json"), Required: true},
	}, DefaultMergeOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matched no files")
}

func TestLoadBrokenFileIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "a_good.yaml", baseYAML)
	writeYAML(t, dir, "b_broken.yaml", "tools: [not: valid: yaml")

	loader := NewLoader(zap.NewNop())
	result, err := loader.Load([]SourceRef{{Type: SourceTypeDirectory, Path: dir, Required: true}},
		DefaultMergeOptions())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Len(t, result.Errors, 1)
	assert.Len(t, result.Config.Tools, 1, "the valid file still loads")
}

func TestLoadAllFilesBroken(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "broken.yaml", "tools: [")

	loader := NewLoader(zap.NewNop())
	_, err := loader.Load([]SourceRef{{Type: SourceTypeDirectory, Path: dir, Required: true}},
		DefaultMergeOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all configuration files failed to parse")
}

func TestLoadValidationRejectsBadDocument(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "good.yaml", baseYAML)
	writeYAML(t, dir, "invalid.yaml", `
tools:
  bad_tool:
    description: no source or statement
`)

	loader := NewLoader(zap.NewNop())
	result, err := loader.Load([]SourceRef{{Type: SourceTypeDirectory, Path: dir, Required: true}},
		DefaultMergeOptions())
	require.NoError(t, err)
	assert.Len(t, result.Errors, 1)
	_, ok := result.Config.Tools["bad_tool"]
	assert.False(t, ok)
}

func TestRefFromPathClassification(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, SourceTypeDirectory, RefFromPath(dir).Type)
	assert.Equal(t, SourceTypeGlob, RefFromPath(filepath.Join(dir, "*.yaml")).Type)
	assert.Equal(t, SourceTypeFile, RefFromPath(filepath.Join(dir, "tools.yaml")).Type)

	ref := RefFromPath(dir)
	assert.True(t, ref.Required)
}
