package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRelevantFiltersEvents(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))

	w, err := New([]string{watched}, nil, func(context.Context) {}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.fsw.Close() })

	assert.True(t, w.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Write}))
	assert.True(t, w.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Create}))
	assert.True(t, w.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Rename}))
	assert.True(t, w.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Remove}))

	// Permission churn and unrelated files in the same directory are noise.
	assert.False(t, w.relevant(fsnotify.Event{Name: watched, Op: fsnotify.Chmod}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}))
}

func TestRelevantOpenDirectorySources(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))

	w, err := New([]string{watched}, []string{dir}, func(context.Context) {}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.fsw.Close() })

	// New YAML files under a directory source count even though they were
	// not resolved at startup.
	assert.True(t, w.relevant(fsnotify.Event{Name: filepath.Join(dir, "added.yaml"), Op: fsnotify.Create}))
	assert.True(t, w.relevant(fsnotify.Event{Name: filepath.Join(dir, "added.yml"), Op: fsnotify.Write}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(dir, "notes.txt"), Op: fsnotify.Create}))
}

func TestRunReloadsOnNewFileInOpenDirectory(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))

	var reloads atomic.Int32
	w, err := New([]string{watched}, []string{dir}, func(context.Context) { reloads.Add(1) }, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "added.yaml"), []byte("toolsets: {}\n"), 0o644))
	assert.Eventually(t, func() bool { return reloads.Load() == 1 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunDebouncesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))

	var reloads atomic.Int32
	w, err := New([]string{watched}, nil, func(context.Context) { reloads.Add(1) }, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// An editor save burst: several writes in quick succession.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return reloads.Load() == 1 },
		2*time.Second, 10*time.Millisecond)

	// Quiet period passed; a fresh write reloads again.
	require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))
	assert.Eventually(t, func() bool { return reloads.Load() == 2 },
		2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(watched, []byte("tools: {}\n"), 0o644))

	w, err := New([]string{watched}, nil, func(context.Context) {}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
