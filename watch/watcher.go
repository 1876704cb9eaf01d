// Package watch turns filesystem notifications into ingestion calls.
//
// A Watcher observes directory trees, including directories created after
// it started, and collects changed paths into a pending set. Once the tree
// has been quiet for the debounce delay, each pending path is resolved
// against the filesystem: files that exist are submitted, paths that are
// gone are reported as removed.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/curator/fingerprint"
	"golang.org/x/sync/errgroup"
)

// DefaultDebounce is how long the tree must be quiet before pending paths
// are processed.
const DefaultDebounce = 500 * time.Millisecond

// PathFunc handles one path. Errors are logged and do not stop the watcher.
type PathFunc func(ctx context.Context, path string) error

// Watcher feeds filesystem changes to a submit and a remove function.
type Watcher struct {
	fs       *fsnotify.Watcher
	submit   PathFunc
	remove   PathFunc
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher) error

// WithDebounce sets the quiet period before pending paths are processed.
// Default is DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) error {
		if d <= 0 {
			return errors.New("debounce must be positive")
		}
		w.debounce = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// New creates a watcher. submit receives files that were created or
// changed; remove receives paths that no longer exist.
func New(submit, remove PathFunc, opts ...Option) (*Watcher, error) {
	if submit == nil {
		return nil, ErrSubmitRequired
	}
	if remove == nil {
		return nil, ErrRemoveRequired
	}
	w := &Watcher{
		submit:   submit,
		remove:   remove,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		pending:  make(map[string]struct{}),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "watch")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fs = fsw
	return w, nil
}

// Add watches root and every directory below it, skipping hidden ones.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "watch", Path: abs, Err: ErrNotDirectory}
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	w.addTree(abs, false)
	w.logger.Info("watching directory", "root", abs)
	return nil
}

// addTree registers every directory under root. When scan is set, files
// already present are queued too: they may have been written before the
// directory's watch existed.
func (w *Watcher) addTree(root string, scan bool) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("error walking watched tree", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && fingerprint.HiddenDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fs.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "path", path, "err", err)
			}
			return nil
		}
		if scan {
			w.queue(path)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.receive(ctx) })
	g.Go(func() error { return w.process(ctx) })
	return g.Wait()
}

func (w *Watcher) receive(ctx context.Context) error {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "err", err)
		case <-w.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.logger.Debug("path changed", "path", event.Name, "op", event.Op.String())

	if event.Has(fsnotify.Create) {
		info, err := os.Lstat(event.Name)
		if err == nil && info.IsDir() {
			if !fingerprint.HiddenDir(info.Name()) {
				w.addTree(event.Name, true)
			}
			return
		}
	}
	w.queue(event.Name)
}

// queue adds path to the pending set and restarts the debounce timer.
func (w *Watcher) queue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.ready <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) take() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	slices.Sort(paths)
	return paths
}

func (w *Watcher) process(ctx context.Context) error {
	for {
		select {
		case <-w.ready:
			paths := w.take()
			if len(paths) == 0 {
				continue
			}
			w.logger.Info("processing changes", "paths", len(paths))
			for _, path := range paths {
				if ctx.Err() != nil {
					return nil
				}
				w.resolve(ctx, path)
			}
		case <-w.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// resolve decides what a pending path became once the tree settled.
func (w *Watcher) resolve(ctx context.Context, path string) {
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := w.remove(ctx, path); err != nil {
			w.logger.Warn("error handling removed path", "path", path, "err", err)
		}
	case err != nil:
		w.logger.Warn("error reading changed path", "path", path, "err", err)
	case !info.Mode().IsRegular():
	case fingerprint.Check(path) != nil:
	default:
		if err := w.submit(ctx, path); err != nil {
			w.logger.Warn("error submitting changed file", "path", path, "err", err)
		}
	}
}

// Close stops the watcher. A running Run returns nil.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.fs.Close()
}
