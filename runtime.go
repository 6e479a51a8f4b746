package k6s

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/boundary"
	"github.com/khoregos/k6s/bus"
	"github.com/khoregos/k6s/lock"
	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
	"github.com/khoregos/k6s/watcher"
)

// RuntimeConfig holds configuration for the runtime.
type RuntimeConfig struct {
	// Logger receives operational messages. Default: slog.Default()
	Logger *slog.Logger

	// WatchFilesystem controls the project tree watcher.
	// Default: true
	WatchFilesystem bool
}

// DefaultRuntimeConfig returns the default configuration.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Logger:          slog.Default(),
		WatchFilesystem: true,
	}
}

// Runtime composes the governance components over one session: store,
// event bus, state, audit log, boundaries, locks, and the filesystem
// watcher. Start brings them up in dependency order; Stop tears them
// down in reverse.
type Runtime struct {
	config      *RuntimeConfig
	projectRoot string
	sessionID   string
	boundaries  []types.BoundaryConfig

	db       *store.DB
	events   *bus.Bus
	state    *state.Manager
	audit    *audit.Logger
	enforcer *boundary.Enforcer
	locks    *lock.Manager
	watcher  *watcher.Watcher

	started atomic.Bool
	unwatch func()
}

// NewRuntime creates a runtime for an existing session.
func NewRuntime(projectRoot, sessionID string, boundaries []types.BoundaryConfig, config *RuntimeConfig) *Runtime {
	if config == nil {
		config = DefaultRuntimeConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Runtime{
		config:      config,
		projectRoot: projectRoot,
		sessionID:   sessionID,
		boundaries:  boundaries,
	}
}

// SessionID returns the governed session.
func (r *Runtime) SessionID() string { return r.sessionID }

// DB returns the shared store once started.
func (r *Runtime) DB() *store.DB { return r.db }

// State returns the state manager once started.
func (r *Runtime) State() *state.Manager { return r.state }

// Audit returns the audit logger once started.
func (r *Runtime) Audit() *audit.Logger { return r.audit }

// Locks returns the lock manager once started.
func (r *Runtime) Locks() *lock.Manager { return r.locks }

// Enforcer returns the boundary enforcer once started.
func (r *Runtime) Enforcer() *boundary.Enforcer { return r.enforcer }

// Bus returns the event bus once started.
func (r *Runtime) Bus() *bus.Bus { return r.events }

// IsRunning returns true if the runtime is running.
func (r *Runtime) IsRunning() bool { return r.started.Load() }

// Start brings the governance stack up. It refuses to start when
// another instance already holds the project's daemon marker.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if IsRunning(r.projectRoot) {
		r.started.Store(false)
		return fmt.Errorf("%w: daemon marker exists, run stop first", ErrAlreadyRunning)
	}

	log := r.config.Logger

	db, err := store.Open(filepath.Join(r.projectRoot, StateDirName, DatabaseFileName))
	if err != nil {
		r.started.Store(false)
		return NewGovernanceError("runtime.start", err)
	}
	r.db = db

	r.events = bus.New(&bus.Config{
		OnError: func(err error) { log.Warn("event bus", "err", err) },
	})
	if err := r.events.Start(ctx); err != nil {
		r.teardown(ctx)
		return NewGovernanceError("runtime.start", err)
	}

	r.state = state.NewManager(db, r.projectRoot)

	r.audit = audit.NewLogger(db, r.sessionID, r.events, &audit.Config{
		OnError: func(err error) { log.Error("audit flush", "err", err) },
	})
	if err := r.audit.Start(ctx); err != nil {
		r.teardown(ctx)
		return NewGovernanceErrorWithSession("runtime.start", r.sessionID, err)
	}

	r.enforcer = boundary.NewEnforcer(db, r.sessionID, r.projectRoot, r.boundaries)
	r.locks = lock.NewManager(db, r.sessionID)

	if r.config.WatchFilesystem {
		r.watcher = watcher.New(r.projectRoot, &watcher.Config{
			OnError: func(err error) { log.Warn("watcher", "err", err) },
		})
		r.unwatch = r.watcher.Register(r.onFileChange)
		if err := r.watcher.Start(ctx); err != nil {
			r.teardown(ctx)
			return NewGovernanceErrorWithSession("runtime.start", r.sessionID, err)
		}
	}

	if _, err := r.audit.LogSessionEvent(ctx, types.EventSessionStart,
		fmt.Sprintf("Session %s started", r.sessionID),
		map[string]any{"project_root": r.projectRoot}); err != nil {
		r.teardown(ctx)
		return NewGovernanceErrorWithSession("runtime.start", r.sessionID, err)
	}

	if err := WriteMarker(r.projectRoot, NewMarker(r.sessionID, r.projectRoot)); err != nil {
		r.teardown(ctx)
		return NewGovernanceErrorWithSession("runtime.start", r.sessionID, err)
	}

	log.Info("governance started", "session", r.sessionID, "root", r.projectRoot)
	return nil
}

// Stop tears the stack down in reverse order and removes the marker.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.started.Load() {
		return ErrNotRunning
	}

	if r.audit != nil && r.audit.IsRunning() {
		if _, err := r.audit.LogSessionEvent(ctx, types.EventSessionComplete,
			fmt.Sprintf("Session %s stopped", r.sessionID), nil); err != nil {
			r.config.Logger.Error("final audit event", "err", err)
		}
	}

	r.teardown(ctx)
	r.started.Store(false)

	r.config.Logger.Info("governance stopped", "session", r.sessionID)
	return nil
}

// teardown releases whatever Start managed to bring up.
func (r *Runtime) teardown(ctx context.Context) {
	log := r.config.Logger

	if r.watcher != nil && r.watcher.IsRunning() {
		if err := r.watcher.Stop(ctx); err != nil {
			log.Warn("watcher stop", "err", err)
		}
	}
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
	if r.locks != nil {
		if _, err := r.locks.ReleaseAll(ctx); err != nil {
			log.Warn("release locks", "err", err)
		}
	}
	if r.audit != nil && r.audit.IsRunning() {
		if err := r.audit.Stop(ctx); err != nil {
			log.Warn("audit stop", "err", err)
		}
	}
	if r.events != nil && r.events.IsRunning() {
		if err := r.events.Stop(ctx); err != nil {
			log.Warn("bus stop", "err", err)
		}
	}
	if err := RemoveMarker(r.projectRoot); err != nil {
		log.Warn("remove marker", "err", err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			log.Warn("close store", "err", err)
		}
		r.db = nil
	}
}

// onFileChange records observed file changes and runs them through the
// wildcard boundary.
func (r *Runtime) onFileChange(event watcher.Event) {
	ctx := context.Background()

	details := map[string]any{"is_directory": event.IsDirectory}
	if event.OldPath != "" {
		details["old_path"] = event.OldPath
	}
	if _, err := r.audit.LogFileChange(ctx, "", event.Type, event.Path, details); err != nil {
		r.config.Logger.Error("log file change", "err", err)
		return
	}

	if event.Type == types.EventFileDelete {
		return
	}
	if _, _, err := r.enforcer.Enforce(ctx, "", "*", event.Path); err != nil {
		r.config.Logger.Error("boundary enforce", "err", err)
	}
}

// Run starts the runtime and blocks until the context is cancelled or
// an interrupt arrives, then stops it.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return r.Stop(context.Background())
}
