// Package watcher observes source files for changes and drives query-cache
// invalidation, keeping cached search results from going stale.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow is how long bursts of events for the same path are
// coalesced before invalidation runs.
const DefaultDebounceWindow = 200 * time.Millisecond

// Invalidator receives change notifications. Implemented by the search
// pipeline.
type Invalidator interface {
	// InvalidateFile drops cached state for a changed file and returns the
	// number of entries removed.
	InvalidateFile(path string) int
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the time to wait before flushing coalesced events.
	DebounceWindow time.Duration

	// IgnoreDirs are directory names skipped during the recursive walk.
	IgnoreDirs []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// defaultIgnoreDirs are directories never worth watching.
var defaultIgnoreDirs = []string{".git", "node_modules", "vendor", ".idea", ".vscode"}

// Watcher wires fsnotify events through a debouncer into an Invalidator.
type Watcher struct {
	root        string
	invalidator Invalidator
	debouncer   *Debouncer
	logger      *slog.Logger
	ignoreDirs  map[string]struct{}

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopped bool
	done    chan struct{}
}

// New creates a watcher for the tree rooted at root.
func New(root string, invalidator Invalidator, opts Options) (*Watcher, error) {
	if invalidator == nil {
		return nil, fmt.Errorf("invalidator is required")
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ignore := make(map[string]struct{})
	dirs := opts.IgnoreDirs
	if dirs == nil {
		dirs = defaultIgnoreDirs
	}
	for _, d := range dirs {
		ignore[d] = struct{}{}
	}

	return &Watcher{
		root:        root,
		invalidator: invalidator,
		debouncer:   NewDebouncer(opts.DebounceWindow),
		logger:      opts.Logger,
		ignoreDirs:  ignore,
	}, nil
}

// Start begins watching. It returns after registration; event handling runs
// in the background until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := w.addRecursive(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		fsw.Close()
		return fmt.Errorf("watcher already stopped")
	}
	w.fsw = fsw
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.run(ctx, fsw, done)
	w.logger.Debug("watcher_started", slog.String("root", w.root))
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))

		case paths, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			for _, path := range paths {
				removed := w.invalidator.InvalidateFile(path)
				w.logger.Debug("file_invalidated",
					slog.String("path", path),
					slog.Int("entries", removed))
			}
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New directories must be registered to keep the walk recursive.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.ignored(event.Name) {
				if err := w.addRecursive(fsw, event.Name); err != nil {
					w.logger.Warn("watch_add_failed",
						slog.String("path", event.Name),
						slog.String("error", err.Error()))
				}
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	w.debouncer.Add(rel)
}

// addRecursive registers path and its subdirectories.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, path string) error {
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) {
			return filepath.SkipDir
		}
		if err := fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	if _, ok := w.ignoreDirs[base]; ok {
		return true
	}
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// Stop shuts the watcher down. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fsw := w.fsw
	done := w.done
	w.mu.Unlock()

	var err error
	if fsw != nil {
		err = fsw.Close()
	}
	w.debouncer.Stop()
	if done != nil {
		<-done
	}
	return err
}
