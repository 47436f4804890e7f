package normalize

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// TableWatcher keeps a tables snapshot in sync with an override file on disk.
// A failed reload keeps the previous snapshot.
type TableWatcher struct {
	path    string
	current atomic.Pointer[Tables]
	logger  *log.Logger
	onLoad  func(*Tables)
}

// WatcherOption configures a TableWatcher.
type WatcherOption func(*TableWatcher)

// WithWatcherLogger overrides the logger used to report reload failures.
func WithWatcherLogger(logger *log.Logger) WatcherOption {
	return func(w *TableWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithReloadHook is called with each successfully reloaded snapshot.
func WithReloadHook(fn func(*Tables)) WatcherOption {
	return func(w *TableWatcher) {
		w.onLoad = fn
	}
}

// NewTableWatcher loads path once and returns a watcher serving that snapshot.
func NewTableWatcher(path string, opts ...WatcherOption) (*TableWatcher, error) {
	w := &TableWatcher{
		path:   path,
		logger: log.New(log.Writer(), "[tables] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(w)
	}
	t, err := LoadTables(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(t)
	return w, nil
}

// Current returns the latest successfully loaded snapshot.
func (w *TableWatcher) Current() *Tables {
	return w.current.Load()
}

// Reload re-reads the override file.
func (w *TableWatcher) Reload() error {
	t, err := LoadTables(w.path)
	if err != nil {
		return err
	}
	w.current.Store(t)
	if w.onLoad != nil {
		w.onLoad(t)
	}
	return nil
}

// Run watches the file's directory until ctx is cancelled. Editors usually
// replace files instead of writing them in place, so the directory is watched
// and events are filtered by name.
func (w *TableWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Printf("reload %s failed, keeping previous tables: %v", w.path, err)
				continue
			}
			w.logger.Printf("reloaded %s", w.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watcher error: %v", err)
		}
	}
}
