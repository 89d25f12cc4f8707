// Package watch wraps fsnotify to detect finished generator output: a
// generator writes atomically (temp file + rename), so Create/Rename events
// on watched directories are the signal a new document is ready for
// Lifecycle registration.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a debounced notification that path finished being written.
type Event struct {
	Path string
}

type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger
	debounce time.Duration
}

func New(dirs []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return &Watcher{fsw: fsw, logger: logger, debounce: 250 * time.Millisecond}, nil
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run emits a debounced Event per path on every Create/Rename, until ctx is
// cancelled. Debouncing collapses the write-then-rename pair generators
// typically emit into a single event.
func (w *Watcher) Run(ctx context.Context, out chan<- Event) {
	pending := map[string]*time.Timer{}
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			path := filepath.Clean(ev.Name)
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() {
				select {
				case out <- Event{Path: path}:
				case <-ctx.Done():
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}
