// Package reload re-parses archive files when they change on disk.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/wolfeidau/repo-archive/archive"
)

// Reloader is an archive that can re-read its file.
type Reloader interface {
	Kind() archive.Kind
	Path() string
	Reload(ctx context.Context) (archive.ReloadOutcome, error)
}

// Watcher reloads an archive on every filesystem event for its file.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-into-place updates keep being observed after the original
// inode is gone.
type Watcher struct {
	target Reloader
	path   string
	logger *slog.Logger

	// onReload is called after every reload attempt; used by tests.
	onReload func(archive.ReloadOutcome, error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithReloadHook registers fn to run after each reload attempt.
func WithReloadHook(fn func(archive.ReloadOutcome, error)) Option {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// NewWatcher creates a watcher for target's archive file. Call Start to begin
// watching.
func NewWatcher(target Reloader, opts ...Option) *Watcher {
	w := &Watcher{
		target: target,
		path:   filepath.Clean(target.Path()),
		logger: slog.Default(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "reload", "kind", target.Kind(), "path", w.path)
	return w
}

// Start subscribes to change notifications and runs the reload loop in the
// background. It returns an error if the subscription cannot be set up.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.watcher = fw
	w.running = true
	go w.run(ctx)

	w.logger.Info("watching archive for changes", "dir", dir)
	return nil
}

// Stop ends the reload loop and releases the subscription. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Error("change notifications closed, index frozen until restart")
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.logger.Debug("archive changed", "op", event.Op.String())
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Error("change notifications closed, index frozen until restart")
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// reload failures are logged by the archive itself and never stop the loop.
func (w *Watcher) reload(ctx context.Context) {
	outcome, err := w.target.Reload(ctx)
	if w.onReload != nil {
		w.onReload(outcome, err)
	}
}
