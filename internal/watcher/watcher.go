// Package watcher delivers coalesced change notifications for a
// dynamic set of regular-file paths (§4.2). It does not re-read file
// contents; it only reports that something changed.
package watcher

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher coalesces fsnotify edges so a burst of writes to the same
// path between two arbiter iterations is delivered as a single
// notification per path per iteration.
type Watcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	watched map[string]struct{}
	pending map[string]struct{}

	Changed chan struct{}
}

// New starts a Watcher. Callers drain Changed and call Drain to fetch
// the coalesced set of changed paths for this iteration.
func New(logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		logger:  logger,
		fsw:     fsw,
		watched: make(map[string]struct{}),
		pending: make(map[string]struct{}),
		Changed: make(chan struct{}, 1),
	}

	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			w.mu.Lock()
			if _, ok := w.watched[ev.Name]; ok {
				w.pending[ev.Name] = struct{}{}
			}
			w.mu.Unlock()

			select {
			case w.Changed <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("watcher error", "err", err)
		}
	}
}

// Add registers path for watching. Adding the same path twice is a
// no-op. If path does not exist yet (a Deferred probe's target), its
// parent directory is watched instead so the later Create event still
// surfaces under path's own name.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[path]; ok {
		return nil
	}

	w.watched[path] = struct{}{}

	target := path
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		target = filepath.Dir(path)
	}

	return w.fsw.Add(target)
}

// Remove stops watching path.
func (w *Watcher) Remove(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.watched, path)

	return w.fsw.Remove(path)
}

// Drain returns the set of paths that changed since the last Drain and
// clears it. Call once per arbiter iteration.
func (w *Watcher) Drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
		delete(w.pending, p)
	}

	return paths
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
