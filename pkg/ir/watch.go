package ir

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces bursts of filesystem events (an editor's
// write-then-rename, a directory sync) into a single reload.
const debounceDelay = 100 * time.Millisecond

// Watch watches the loader's directories for changes and reloads the
// index whenever one fires, until ctx is cancelled. Reload errors are
// logged and do not stop the watch (the last-good index is kept in
// place), per spec.md §4.3's reload contract.
func (l *Loader) Watch(ctx context.Context, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	l.mu.RLock()
	dirs := append([]string(nil), l.dirs...)
	l.mu.RUnlock()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("ir: watch directory failed", "dir", dir, "error", err)
		}
	}

	var debounceTimer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			refs, err := l.Reload(nil)
			if err != nil {
				logger.Warn("ir: reload failed, keeping previous index", "error", err)
				continue
			}
			logger.Info("ir: reloaded", "flows", refs)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("ir: watcher error", "error", err)
		}
	}
}
