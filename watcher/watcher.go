// Package watcher turns raw filesystem notifications into governed
// file-change events. Watches are registered per directory and follow
// new directories as they appear; noisy paths are filtered by glob
// before anything reaches a callback.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/khoregos/k6s/boundary"
	"github.com/khoregos/k6s/types"
)

// DefaultIgnorePatterns filters tool and VCS noise out of the stream.
var DefaultIgnorePatterns = []string{
	".git/**",
	".khoregos/**",
	"__pycache__/**",
	"*.pyc",
	".DS_Store",
	"*.swp",
	"*.swo",
	"*~",
	"node_modules/**",
	".venv/**",
	"venv/**",
	"vendor/**",
}

// renamePairWindow is how long a rename waits for its matching create
// before it is reported as a plain delete.
const renamePairWindow = 100 * time.Millisecond

// Event is one observed file change, with paths relative to the
// project root.
type Event struct {
	Type        types.EventType
	Path        string
	OldPath     string
	IsDirectory bool
}

// Callback receives events in arrival order. Panics are swallowed.
type Callback func(event Event)

// Config holds configuration for the watcher.
type Config struct {
	// IgnorePatterns replace DefaultIgnorePatterns when set.
	IgnorePatterns []string

	// QueueSize is the event queue capacity. Overflow drops events.
	// Default: 1024
	QueueSize int

	// OnError is called for watch backend errors.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		IgnorePatterns: DefaultIgnorePatterns,
		QueueSize:      1024,
	}
}

// Watcher observes a project tree and fans changes out to callbacks.
type Watcher struct {
	projectRoot string
	config      *Config

	mu        sync.Mutex
	callbacks map[int64]Callback
	nextCBID  int64
	dirs      map[string]bool
	pending   *pendingRename

	fsw     *fsnotify.Watcher
	queue   chan Event
	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

type pendingRename struct {
	path  string
	isDir bool
	timer *time.Timer
}

// New creates a watcher rooted at projectRoot. A nil config uses
// defaults.
func New(projectRoot string, config *Config) *Watcher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = DefaultIgnorePatterns
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	return &Watcher{
		projectRoot: projectRoot,
		config:      config,
		callbacks:   make(map[int64]Callback),
		dirs:        make(map[string]bool),
	}
}

// Register adds a callback. Returns a function to unregister it.
func (w *Watcher) Register(cb Callback) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextCBID
	w.nextCBID++
	w.callbacks[id] = cb

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.callbacks, id)
	}
}

// Start begins watching the project tree recursively.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.started.Store(false)
		return err
	}
	w.fsw = fsw

	if err := w.watchTree(w.projectRoot); err != nil {
		_ = fsw.Close()
		w.started.Store(false)
		return err
	}

	w.queue = make(chan Event, w.config.QueueSize)
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)

	go w.consume()
	go w.run(ctx)

	return nil
}

// Stop stops watching and waits for in-flight events to be delivered.
func (w *Watcher) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return ErrNotStarted
	}

	w.cancel()
	err := w.fsw.Close()
	<-w.done

	w.started.Store(false)
	return err
}

// IsRunning returns true if the watcher is running.
func (w *Watcher) IsRunning() bool {
	return w.started.Load()
}

// watchTree registers the directory and every non-ignored subdirectory.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel := w.relPath(path)
		if rel != "." && w.ignored(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		w.mu.Lock()
		w.dirs[rel] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.projectRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) ignored(rel string) bool {
	for _, pattern := range w.config.IgnorePatterns {
		if boundary.Match(pattern, rel) {
			return true
		}
	}
	return false
}

// run translates raw notifications until the backend closes.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.queue)

	for {
		select {
		case raw, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(raw)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.config.OnError != nil {
				w.config.OnError(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// handle maps one fsnotify event onto the governed event model.
func (w *Watcher) handle(raw fsnotify.Event) {
	rel := w.relPath(raw.Name)
	if rel == "." || w.ignored(rel) {
		return
	}

	switch {
	case raw.Has(fsnotify.Create):
		info, err := os.Stat(raw.Name)
		isDir := err == nil && info.IsDir()
		if isDir {
			// Follow new directories so nested changes are seen.
			_ = w.watchTree(raw.Name)
		}

		if old, wasDir := w.takePendingRename(); old != "" {
			w.emit(Event{Type: types.EventFileDelete, Path: old, IsDirectory: wasDir})
			w.emit(Event{Type: types.EventFileCreate, Path: rel, OldPath: old, IsDirectory: isDir})
			return
		}
		w.emit(Event{Type: types.EventFileCreate, Path: rel, IsDirectory: isDir})

	case raw.Has(fsnotify.Write):
		w.mu.Lock()
		isDir := w.dirs[rel]
		w.mu.Unlock()
		if isDir {
			// Directory content churn is reported via the children.
			return
		}
		w.emit(Event{Type: types.EventFileModify, Path: rel})

	case raw.Has(fsnotify.Remove):
		w.emit(Event{Type: types.EventFileDelete, Path: rel, IsDirectory: w.forgetDir(rel)})

	case raw.Has(fsnotify.Rename):
		// The matching create on the new name may follow shortly.
		w.setPendingRename(rel, w.forgetDir(rel))
	}
}

func (w *Watcher) forgetDir(rel string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[rel] {
		delete(w.dirs, rel)
		return true
	}
	return false
}

func (w *Watcher) setPendingRename(rel string, isDir bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.timer.Stop()
		w.emit(Event{Type: types.EventFileDelete, Path: w.pending.path, IsDirectory: w.pending.isDir})
	}

	p := &pendingRename{path: rel, isDir: isDir}
	p.timer = time.AfterFunc(renamePairWindow, func() {
		w.mu.Lock()
		expired := w.pending == p
		if expired {
			w.pending = nil
		}
		w.mu.Unlock()
		if expired {
			w.emit(Event{Type: types.EventFileDelete, Path: rel, IsDirectory: isDir})
		}
	})
	w.pending = p
}

func (w *Watcher) takePendingRename() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == nil {
		return "", false
	}
	p := w.pending
	p.timer.Stop()
	w.pending = nil
	return p.path, p.isDir
}

// emit enqueues an event, dropping it when the queue is full.
func (w *Watcher) emit(event Event) {
	select {
	case w.queue <- event:
	default:
	}
}

// consume delivers queued events to callbacks until the queue closes.
func (w *Watcher) consume() {
	defer close(w.done)

	for event := range w.queue {
		w.mu.Lock()
		cbs := make([]Callback, 0, len(w.callbacks))
		for _, cb := range w.callbacks {
			cbs = append(cbs, cb)
		}
		w.mu.Unlock()

		for _, cb := range cbs {
			w.safeCall(cb, event)
		}
	}
}

func (w *Watcher) safeCall(cb Callback, event Event) {
	defer func() {
		_ = recover()
	}()
	cb(event)
}

// Roots returns the watched directory count, for diagnostics.
func (w *Watcher) Roots() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}
