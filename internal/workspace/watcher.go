package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
)

// DefaultDebounce is the quiet period before changes are delivered
const DefaultDebounce = 100 * time.Millisecond

var ErrWatching = errors.New("watcher already running")

// Changes is one debounced batch of file system changes
type Changes struct {
	Edited  map[string]string // name -> new contents
	Removed []string
	Support []string // prelude or vendor files that changed; never part of Edited
}

// Empty reports whether the batch carries nothing
func (c Changes) Empty() bool {
	return len(c.Edited) == 0 && len(c.Removed) == 0 && len(c.Support) == 0
}

// Watcher turns file system events below a workspace into edits
type Watcher struct {
	workspace *Workspace
	watcher   *fsnotify.Watcher
	debounce  *Debouncer
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	pending map[string]struct{}
}

// NewWatcher creates a watcher for w. A zero debounce uses DefaultDebounce.
func NewWatcher(w *Workspace, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger = logging.OrNop(logger)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		workspace: w,
		watcher:   fsw,
		debounce:  NewDebouncer(debounce),
		logger:    logger,
		pending:   make(map[string]struct{}),
	}, nil
}

// Watch delivers debounced changes to onChange until ctx is done. onChange
// is never called concurrently with itself.
func (w *Watcher) Watch(ctx context.Context, onChange func(Changes)) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatching
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.debounce.Stop()
		_ = w.watcher.Close()
	}()

	if err := w.addDirectory(ctx, w.workspace.Dir); err != nil {
		return fmt.Errorf("failed to watch workspace: %w", err)
	}
	w.logger.Info("Watching workspace", zap.String("dir", w.workspace.Dir))

	var deliver sync.Mutex
	flush := func() {
		deliver.Lock()
		defer deliver.Unlock()
		if changes := w.collect(); !changes.Empty() {
			onChange(changes)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			w.handle(ctx, event)
			w.debounce.Trigger(flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

// handle records the file of event, watching new directories as they appear
func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	name, ok := relativeName(w.workspace.Dir, event.Name)
	if !ok || name == "." {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !excludedDir(w.workspace.Manifest, name) {
				if err := w.addDirectory(ctx, event.Name); err != nil {
					w.logger.Warn("Failed to watch directory", zap.String("dir", name), zap.Error(err))
				}
			}
			return
		}
	}

	if !w.workspace.Manifest.Matches(name) && !w.workspace.Manifest.IsSupport(name) {
		return
	}

	w.logger.Debug("File event detected", zap.String("file", name), zap.String("op", event.Op.String()))
	w.mu.Lock()
	w.pending[name] = struct{}{}
	w.mu.Unlock()
}

// collect reads every pending file. Files that no longer exist are removed.
func (w *Watcher) collect() Changes {
	w.mu.Lock()
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()
	sort.Strings(names)

	changes := Changes{Edited: make(map[string]string)}
	for _, name := range names {
		if w.workspace.Manifest.IsSupport(name) {
			changes.Support = append(changes.Support, name)
			continue
		}
		code, _, err := w.workspace.ReadFile(name)
		switch {
		case errors.Is(err, os.ErrNotExist):
			changes.Removed = append(changes.Removed, name)
		case err != nil:
			w.logger.Warn("Failed to read changed file", zap.String("file", name), zap.Error(err))
		default:
			changes.Edited[name] = code
		}
	}
	return changes
}

// addDirectory watches dir and every directory below it that is not
// excluded
func (w *Watcher) addDirectory(ctx context.Context, dir string) error {
	return walk(ctx, w.workspace.Dir, dir, w.workspace.Manifest, func(p, _ string, d os.DirEntry) error {
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(p)
	})
}

// Debouncer runs the last triggered callback once no trigger arrived for
// the interval
type Debouncer struct {
	interval time.Duration
	timer    *time.Timer
	mu       sync.Mutex
	callback func()
	stopped  bool
}

// NewDebouncer creates a new debouncer
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger (re)starts the quiet period
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop cancels any pending callback
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
