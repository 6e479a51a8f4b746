// Package testutil provides test utilities for k6s
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

// NewTestDB opens a fresh migrated database under t.TempDir. The
// database is closed automatically when the test finishes.
func NewTestDB(t *testing.T) *store.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".khoregos", "k6s.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// SetupTestSession inserts a session row and returns its ID.
func SetupTestSession(ctx context.Context, t *testing.T, db *store.DB) string {
	t.Helper()

	session := types.NewSession("test objective")
	if err := db.Insert(ctx, "sessions", session.Row()); err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	return session.ID
}

// SetupTestAgent inserts an agent row into the given session and
// returns its ID.
func SetupTestAgent(ctx context.Context, t *testing.T, db *store.DB, sessionID, name string) string {
	t.Helper()

	agent := types.NewAgent(sessionID, name, types.RoleTeammate)
	if err := db.Insert(ctx, "agents", agent.Row()); err != nil {
		t.Fatalf("Failed to create test agent: %v", err)
	}

	return agent.ID
}
