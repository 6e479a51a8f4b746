package k6s

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMarkerRoundTrip(t *testing.T) {
	root := t.TempDir()

	if IsRunning(root) {
		t.Fatal("Expected no marker in fresh project")
	}

	m := NewMarker("session-1", root)
	if m.InstanceID == "" {
		t.Fatal("Expected instance ID")
	}

	if err := WriteMarker(root, m); err != nil {
		t.Fatalf("WriteMarker() error = %v", err)
	}
	if !IsRunning(root) {
		t.Error("Expected IsRunning after write")
	}

	got, err := ReadMarker(root)
	if err != nil {
		t.Fatalf("ReadMarker() error = %v", err)
	}
	if got.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want session-1", got.SessionID)
	}
	if got.InstanceID != m.InstanceID {
		t.Errorf("InstanceID = %q, want %q", got.InstanceID, m.InstanceID)
	}
	if got.StartedAt.IsZero() {
		t.Error("Expected StartedAt to round-trip")
	}

	if err := RemoveMarker(root); err != nil {
		t.Fatalf("RemoveMarker() error = %v", err)
	}
	if IsRunning(root) {
		t.Error("Expected marker gone after remove")
	}
	// Idempotent.
	if err := RemoveMarker(root); err != nil {
		t.Errorf("second RemoveMarker() error = %v", err)
	}
}

func TestReadMarkerMissing(t *testing.T) {
	_, err := ReadMarker(t.TempDir())
	if !errors.Is(err, ErrMarkerNotFound) {
		t.Fatalf("ReadMarker() error = %v, want %v", err, ErrMarkerNotFound)
	}
}

func TestMarkerPermissions(t *testing.T) {
	root := t.TempDir()
	if err := WriteMarker(root, NewMarker("s", root)); err != nil {
		t.Fatalf("WriteMarker() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(root, StateDirName, MarkerFileName))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("marker perm = %o, want 600", perm)
	}
}
