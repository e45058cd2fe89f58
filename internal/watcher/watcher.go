// Package watcher observes the resolved configuration files and triggers
// debounced reloads when they change on disk.
package watcher

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// defaultDebounce batches editor write bursts into one reload.
const defaultDebounce = 300 * time.Millisecond

// Watcher drives a reload callback from filesystem events. The callback
// decides what a reload means; the watcher only says "something changed".
type Watcher struct {
	logger   *zap.Logger
	debounce time.Duration
	reload   func(ctx context.Context)

	fsw      *fsnotify.Watcher
	watched  map[string]bool
	openDirs map[string]bool
}

// New creates a watcher over the given files. Directories containing the
// files are watched too, so atomic rename-over saves are seen. openDirs
// are directory or glob roots whose membership is dynamic: any YAML file
// appearing or changing under them counts, not just files resolved at
// startup.
func New(paths []string, openDirs []string, reload func(ctx context.Context), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		logger:   logger,
		debounce: defaultDebounce,
		reload:   reload,
		fsw:      fsw,
		watched:  make(map[string]bool),
		openDirs: make(map[string]bool),
	}

	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		w.watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for _, dir := range openDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		w.openDirs[abs] = true
		dirs[abs] = true
	}

	watchDirs := make([]string, 0, len(dirs))
	for dir := range dirs {
		watchDirs = append(watchDirs, dir)
	}
	sort.Strings(watchDirs)
	for _, dir := range watchDirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	logger.Info("configuration watcher started",
		zap.Int("files", len(w.watched)),
		zap.Strings("directories", watchDirs))
	return w, nil
}

// Run processes events until ctx ends. Reloads fire after a quiet period so
// one save producing several events reloads once.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		_ = w.fsw.Close()
	}()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("configuration change detected",
				zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return
		}
	}
}

// relevant filters directory noise down to writes touching watched files,
// or YAML files under an open directory source.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		abs = event.Name
	}
	if w.watched[abs] {
		return true
	}
	if w.openDirs[filepath.Dir(abs)] {
		switch filepath.Ext(abs) {
		case ".yaml", ".yml":
			return true
		}
	}
	return false
}
