package k6s

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/khoregos/k6s/audit"
	"github.com/khoregos/k6s/state"
	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

// newTestSession creates a project root with a session in its store and
// returns both.
func newTestSession(t *testing.T) (string, string) {
	t.Helper()

	root := t.TempDir()
	db, err := store.Open(filepath.Join(root, StateDirName, DatabaseFileName))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	st := state.NewManager(db, root)
	session, err := st.CreateSession(context.Background(), "runtime test", state.CreateSessionParams{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return root, session.ID
}

func TestRuntimeStartStop(t *testing.T) {
	root, sessionID := newTestSession(t)
	ctx := context.Background()

	rt := NewRuntime(root, sessionID, nil, nil)
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !rt.IsRunning() {
		t.Error("Expected runtime running")
	}
	if !IsRunning(root) {
		t.Error("Expected daemon marker after start")
	}

	// A second runtime must refuse while the marker exists.
	other := NewRuntime(root, sessionID, nil, nil)
	if err := other.Start(ctx); err == nil {
		t.Error("Expected second Start() to fail")
		_ = other.Stop(ctx)
	}

	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if rt.IsRunning() {
		t.Error("Expected runtime stopped")
	}
	if IsRunning(root) {
		t.Error("Expected marker removed after stop")
	}
}

func TestRuntimeLogsSessionLifecycle(t *testing.T) {
	root, sessionID := newTestSession(t)
	ctx := context.Background()

	rt := NewRuntime(root, sessionID, nil, &RuntimeConfig{WatchFilesystem: false})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	db, err := store.Open(filepath.Join(root, StateDirName, DatabaseFileName))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	rows, err := db.FetchAll(ctx,
		"SELECT event_type FROM audit_events WHERE session_id = ? ORDER BY sequence", sessionID)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Got %d events, want 2", len(rows))
	}
	if rows[0]["event_type"] != "session_start" || rows[1]["event_type"] != "session_complete" {
		t.Errorf("events = %v, %v", rows[0]["event_type"], rows[1]["event_type"])
	}
}

func TestRuntimeRecordsFileChanges(t *testing.T) {
	root, sessionID := newTestSession(t)
	ctx := context.Background()

	rt := NewRuntime(root, sessionID, []types.BoundaryConfig{
		{Pattern: "*", ForbiddenPaths: []string{".env*"}, Enforcement: types.EnforcementAdvisory},
	}, nil)
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		if rt.IsRunning() {
			_ = rt.Stop(ctx)
		}
	}()

	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	// Wait for the change to land in the audit log.
	deadline := time.Now().Add(2 * time.Second)
	var found bool
	for time.Now().Before(deadline) && !found {
		events, err := rt.Audit().GetEvents(ctx, audit.QueryParams{EventType: types.EventFileCreate})
		if err != nil {
			t.Fatalf("GetEvents() error = %v", err)
		}
		for _, event := range events {
			if len(event.FilesAffected) == 1 && event.FilesAffected[0] == ".env" {
				found = true
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !found {
		t.Fatal("File create event never recorded")
	}

	violations, err := rt.Enforcer().GetViolations(ctx, "", 10)
	if err != nil {
		t.Fatalf("GetViolations() error = %v", err)
	}
	if len(violations) == 0 {
		t.Fatal("Expected boundary violation for .env")
	}
	if violations[0].FilePath != ".env" {
		t.Errorf("FilePath = %q, want .env", violations[0].FilePath)
	}
}

func TestRuntimeReleasesLocksOnStop(t *testing.T) {
	root, sessionID := newTestSession(t)
	ctx := context.Background()

	rt := NewRuntime(root, sessionID, nil, &RuntimeConfig{WatchFilesystem: false})
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := rt.Locks().Acquire(ctx, "src/main.go", "agent-a", 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	db, err := store.Open(filepath.Join(root, StateDirName, DatabaseFileName))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	row, err := db.FetchOne(ctx, "SELECT COUNT(*) AS n FROM file_locks WHERE session_id = ?", sessionID)
	if err != nil {
		t.Fatalf("FetchOne() error = %v", err)
	}
	if n, _ := row["n"].(int64); n != 0 {
		t.Errorf("Leftover locks = %d, want 0", n)
	}
}

func TestRuntimeStopNotStarted(t *testing.T) {
	root, sessionID := newTestSession(t)

	rt := NewRuntime(root, sessionID, nil, nil)
	if err := rt.Stop(context.Background()); err != ErrNotRunning {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotRunning)
	}
}
