// Package watch reports filesystem changes inside a single directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/rennerdo30/warden-agent/internal/logging"
)

// Relevant ops. Chmod is ignored.
const ops = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Handler is called with the full path of a changed entry.
type Handler func(path string, op fsnotify.Op)

// Watcher watches one directory and forwards matching events to a Handler.
type Watcher struct {
	dir     string
	match   func(name string) bool
	handle  Handler
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New watches dir. match filters on the entry's base name; nil matches
// everything.
func New(dir string, match func(name string) bool, handle Handler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	if match == nil {
		match = func(string) bool { return true }
	}

	return &Watcher{
		dir:    abs,
		match:  match,
		handle: handle,
		fsw:    fsw,
		logger: logging.WithComponent("watch").With("dir", abs),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// File watches a single file through its parent directory, so the watch
// survives editors that replace the file on save.
func File(path string, handle Handler) (*Watcher, error) {
	base := filepath.Base(path)
	return New(filepath.Dir(path), func(name string) bool { return name == base }, handle)
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start delivers events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.started = true
	go w.loop(ctx)
}

// Stop ends delivery and releases the watch.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	if w.started {
		<-w.doneCh
	}
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&ops == 0 || !w.match(filepath.Base(event.Name)) {
				continue
			}
			w.logger.Debug("Filesystem change", "path", event.Name, "op", event.Op.String())
			w.handle(event.Name, event.Op)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watch error", "error", err)
		}
	}
}
