// Package watcher watches the config file so a running server can pick up edits.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/CivicPulse/civicpulse/internal/logger"
)

// DefaultDebounce is used when no debounce window is given
const DefaultDebounce = 500 * time.Millisecond

// ConfigWatcher calls onChange after the file at path is written, replaced
// or removed. Events are collected until the file has been quiet for the
// debounce window, so editors that save in several writes trigger one reload.
//
// The parent directory is watched rather than the file itself: editors that
// save by renaming a temp file over the original replace the inode, and a
// watch on the old inode would go silent.
type ConfigWatcher struct {
	path     string
	dir      string
	debounce time.Duration
	onChange func()

	// owned by the run goroutine
	lastEvent time.Time
	pending   bool

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logger.Logger
}

// NewConfigWatcher creates a watcher; call Start to begin watching
func NewConfigWatcher(path string, debounce time.Duration, onChange func()) *ConfigWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)
	return &ConfigWatcher{
		path:     path,
		dir:      filepath.Dir(path),
		debounce: debounce,
		onChange: onChange,
		log:      logger.Component("watcher"),
	}
}

// Start watches until ctx is done or Stop is called
func (w *ConfigWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for an in-flight callback
func (w *ConfigWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			w.log.Warn("failed to close file watcher: %v", err)
		}
		w.fsw = nil
	}
}

func (w *ConfigWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.debounce/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, time.Now())

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watch error: %v", err)

		case now := <-ticker.C:
			if w.due(now) && w.onChange != nil {
				w.onChange()
			}
		}
	}
}

// handleEvent records events on the config file and ignores the rest of
// the directory
func (w *ConfigWatcher) handleEvent(event fsnotify.Event, now time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.log.Debug("config %s: %s", event.Op, event.Name)
	w.lastEvent = now
	w.pending = true
}

// due reports whether a settled change should be delivered now
func (w *ConfigWatcher) due(now time.Time) bool {
	if !w.pending || now.Sub(w.lastEvent) < w.debounce {
		return false
	}
	w.pending = false
	return true
}
