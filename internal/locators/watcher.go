package locators

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher keeps a registry in sync with an override file. Each reload produces a
// new Registry, so a run holding the previous one is unaffected.
type Watcher struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	current  atomic.Pointer[Registry]
}

// NewWatcher loads the override file once and prepares to watch it.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	reg, err := LoadWithOverride(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		logger:   logger.Named("locators"),
		watcher:  fsWatcher,
		debounce: 200 * time.Millisecond,
	}
	w.current.Store(reg)
	return w, nil
}

// Current returns the most recently loaded registry.
func (w *Watcher) Current() *Registry {
	return w.current.Load()
}

// Run watches until ctx is done. The parent directory is watched rather than the
// file itself so that editors which replace the file on save are handled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("Watching locator overrides.", zap.String("path", w.path))

	var pending time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Locator watcher error.", zap.Error(err))

		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				pending = time.Time{}
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	reg, err := LoadWithOverride(w.path)
	if err != nil {
		// Keep serving the last good registry.
		w.logger.Error("Locator override rejected; keeping previous registry.", zap.Error(err))
		return
	}
	w.current.Store(reg)
	w.logger.Info("Locator registry reloaded.", zap.Strings("targets", reg.Targets()))
}
