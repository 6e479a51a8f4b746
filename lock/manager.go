// Package lock hands out exclusive per-file reservations so two agents
// never edit the same file at once. Locks are scoped to a session,
// expire after a lease, and every transition runs in one immediate
// transaction so checks and grants cannot interleave.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

// DefaultLockDuration is the lease granted when the caller does not ask
// for one.
const DefaultLockDuration = 300 * time.Second

// Result is the outcome of an acquire or release attempt.
type Result struct {
	Success   bool
	Path      string
	ExpiresAt *time.Time
	Reason    string
}

// ToMap renders the result in the shape served to tools.
func (r *Result) ToMap() map[string]any {
	out := map[string]any{
		"success":    r.Success,
		"lock_token": r.Path,
	}
	if r.ExpiresAt != nil {
		out["expires_at"] = types.FormatTime(*r.ExpiresAt)
	} else {
		out["expires_at"] = nil
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	return out
}

// Manager grants and releases file locks for one session.
type Manager struct {
	db        *store.DB
	sessionID string
}

// NewManager creates a lock manager for a session.
func NewManager(db *store.DB, sessionID string) *Manager {
	return &Manager{db: db, sessionID: sessionID}
}

// Acquire attempts to lock a path for an agent. Re-acquiring a lock the
// agent already holds extends the lease; an expired lock held by anyone
// is replaced.
func (m *Manager) Acquire(ctx context.Context, path, agentID string, duration time.Duration) (*Result, error) {
	if duration <= 0 {
		duration = DefaultLockDuration
	}

	var result *Result
	err := m.db.Transaction(ctx, func(tx *store.Tx) error {
		row, err := tx.FetchOne(ctx,
			"SELECT * FROM file_locks WHERE path = ? AND session_id = ?", path, m.sessionID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		expiresAt := now.Add(duration)

		if row != nil {
			existing := types.FileLockFromRow(row)
			switch {
			case existing.IsExpired():
				if _, err := tx.Delete(ctx, "file_locks",
					"path = ? AND session_id = ?", path, m.sessionID); err != nil {
					return err
				}
			case existing.AgentID != agentID:
				result = &Result{
					Success: false,
					Path:    path,
					Reason:  fmt.Sprintf("File locked by agent %s", existing.AgentID),
				}
				return nil
			default:
				// Holder re-acquiring: extend the lease.
				if _, err := tx.Update(ctx, "file_locks",
					map[string]any{"expires_at": types.FormatTime(expiresAt)},
					"path = ? AND session_id = ?", path, m.sessionID); err != nil {
					return err
				}
				result = &Result{Success: true, Path: path, ExpiresAt: &expiresAt}
				return nil
			}
		}

		grant := &types.FileLock{
			Path:       path,
			SessionID:  m.sessionID,
			AgentID:    agentID,
			AcquiredAt: now,
			ExpiresAt:  &expiresAt,
		}
		if err := tx.Upsert(ctx, "file_locks", grant.Row()); err != nil {
			return err
		}
		result = &Result{Success: true, Path: path, ExpiresAt: &expiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release gives up a lock. Releasing a lock that does not exist
// succeeds; releasing another agent's lock does not.
func (m *Manager) Release(ctx context.Context, path, agentID string) (*Result, error) {
	var result *Result
	err := m.db.Transaction(ctx, func(tx *store.Tx) error {
		row, err := tx.FetchOne(ctx,
			"SELECT * FROM file_locks WHERE path = ? AND session_id = ?", path, m.sessionID)
		if err != nil {
			return err
		}

		if row == nil {
			result = &Result{
				Success: true,
				Path:    path,
				Reason:  "Lock not found (already released)",
			}
			return nil
		}

		existing := types.FileLockFromRow(row)
		if existing.AgentID != agentID && !existing.IsExpired() {
			result = &Result{
				Success: false,
				Path:    path,
				Reason:  fmt.Sprintf("Lock held by different agent: %s", existing.AgentID),
			}
			return nil
		}

		if _, err := tx.Delete(ctx, "file_locks",
			"path = ? AND session_id = ?", path, m.sessionID); err != nil {
			return err
		}
		result = &Result{Success: true, Path: path}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Check returns the live lock on a path, or nil. An expired lock is
// swept on the way through.
func (m *Manager) Check(ctx context.Context, path string) (*types.FileLock, error) {
	row, err := m.db.FetchOne(ctx,
		"SELECT * FROM file_locks WHERE path = ? AND session_id = ?", path, m.sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	existing := types.FileLockFromRow(row)
	if existing.IsExpired() {
		if _, err := m.db.Delete(ctx, "file_locks",
			"path = ? AND session_id = ?", path, m.sessionID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return existing, nil
}

// IsLocked reports whether a live lock exists on a path.
func (m *Manager) IsLocked(ctx context.Context, path string) (bool, error) {
	existing, err := m.Check(ctx, path)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Holder returns the agent holding a live lock on a path, or "".
func (m *Manager) Holder(ctx context.Context, path string) (string, error) {
	existing, err := m.Check(ctx, path)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", nil
	}
	return existing.AgentID, nil
}

// ListLocks returns the session's live locks, sweeping expired ones.
// An agent ID narrows the listing to that agent's locks.
func (m *Manager) ListLocks(ctx context.Context, agentID string) ([]*types.FileLock, error) {
	query := "SELECT * FROM file_locks WHERE session_id = ?"
	queryArgs := []any{m.sessionID}
	if agentID != "" {
		query += " AND agent_id = ?"
		queryArgs = append(queryArgs, agentID)
	}
	query += " ORDER BY acquired_at"

	rows, err := m.db.FetchAll(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}

	var locks []*types.FileLock
	for _, row := range rows {
		existing := types.FileLockFromRow(row)
		if existing.IsExpired() {
			if _, err := m.db.Delete(ctx, "file_locks",
				"path = ? AND session_id = ?", existing.Path, m.sessionID); err != nil {
				return nil, err
			}
			continue
		}
		locks = append(locks, existing)
	}
	return locks, nil
}

// ReleaseAllForAgent drops every lock an agent holds. Returns the count.
func (m *Manager) ReleaseAllForAgent(ctx context.Context, agentID string) (int64, error) {
	return m.db.Delete(ctx, "file_locks",
		"session_id = ? AND agent_id = ?", m.sessionID, agentID)
}

// ReleaseAll drops every lock in the session. Returns the count.
func (m *Manager) ReleaseAll(ctx context.Context) (int64, error) {
	return m.db.Delete(ctx, "file_locks", "session_id = ?", m.sessionID)
}
