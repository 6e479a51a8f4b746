// Package boundary decides which paths each agent may touch. Rules are
// declarative glob lists bound to agent name patterns; enforcement is
// advisory, so a denied check is recorded and reported but never blocks
// the write itself.
package boundary

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

// RevertFunc undoes a change to a path. Wired in only when a boundary
// runs in strict enforcement with reverts enabled.
type RevertFunc func(ctx context.Context, path string) error

// Enforcer evaluates path access against configured boundaries and
// records violations.
type Enforcer struct {
	db          *store.DB
	sessionID   string
	projectRoot string
	boundaries  []types.BoundaryConfig
	revert      RevertFunc
}

// NewEnforcer creates an enforcer for a session. Boundaries keep their
// configured order; the first matching rule wins.
func NewEnforcer(db *store.DB, sessionID, projectRoot string, boundaries []types.BoundaryConfig) *Enforcer {
	return &Enforcer{
		db:          db,
		sessionID:   sessionID,
		projectRoot: projectRoot,
		boundaries:  boundaries,
	}
}

// SetRevertFunc installs the revert hook used for strict boundaries.
func (e *Enforcer) SetRevertFunc(fn RevertFunc) {
	e.revert = fn
}

// FindBoundary returns the boundary governing an agent: the first rule
// whose pattern matches the agent name, falling back to a wildcard
// rule, or nil when the agent is unbounded.
func (e *Enforcer) FindBoundary(agentName string) *types.BoundaryConfig {
	for i := range e.boundaries {
		if e.boundaries[i].Pattern == "*" {
			continue
		}
		if Match(e.boundaries[i].Pattern, agentName) {
			return &e.boundaries[i]
		}
	}
	for i := range e.boundaries {
		if e.boundaries[i].Pattern == "*" {
			return &e.boundaries[i]
		}
	}
	return nil
}

// CheckResult is the outcome of a single path check.
type CheckResult struct {
	Allowed       bool
	Reason        string
	ViolationType string
}

// CheckPath evaluates whether an agent may touch a path. Paths are
// normalized relative to the project root; forbidden patterns are
// checked before allowed ones.
func (e *Enforcer) CheckPath(agentName, path string) CheckResult {
	boundary := e.FindBoundary(agentName)
	if boundary == nil {
		return CheckResult{Allowed: true}
	}

	rel := filepath.ToSlash(path)
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(e.projectRoot, path)
		if err != nil || strings.HasPrefix(r, "..") {
			return CheckResult{
				Allowed:       false,
				Reason:        fmt.Sprintf("Path %s is outside project root", path),
				ViolationType: types.ViolationOutsideAllowed,
			}
		}
		rel = filepath.ToSlash(r)
	}

	for _, pattern := range boundary.ForbiddenPaths {
		if Match(pattern, rel) {
			return CheckResult{
				Allowed:       false,
				Reason:        fmt.Sprintf("Path matches forbidden pattern: %s", pattern),
				ViolationType: types.ViolationForbiddenPath,
			}
		}
	}

	if len(boundary.AllowedPaths) > 0 {
		for _, pattern := range boundary.AllowedPaths {
			if Match(pattern, rel) {
				return CheckResult{Allowed: true}
			}
		}
		return CheckResult{
			Allowed:       false,
			Reason:        fmt.Sprintf("Path does not match any allowed patterns for %s", agentName),
			ViolationType: types.ViolationOutsideAllowed,
		}
	}

	return CheckResult{Allowed: true}
}

// Enforce runs CheckPath and, on denial, records the violation and
// applies the boundary's enforcement action. Returns the action taken.
func (e *Enforcer) Enforce(ctx context.Context, agentID, agentName, path string) (CheckResult, string, error) {
	result := e.CheckPath(agentName, path)
	if result.Allowed {
		return result, "", nil
	}

	action := types.EnforcementLogged
	boundary := e.FindBoundary(agentName)
	if boundary != nil && boundary.Enforcement == types.EnforcementStrict && e.revert != nil {
		if err := e.revert(ctx, path); err == nil {
			action = types.EnforcementReverted
		}
	}

	violation := &types.BoundaryViolation{
		ID:                types.NewID(),
		SessionID:         e.sessionID,
		AgentID:           agentID,
		Timestamp:         time.Now().UTC(),
		FilePath:          path,
		ViolationType:     result.ViolationType,
		EnforcementAction: action,
		Details:           map[string]any{"reason": result.Reason},
	}
	if err := e.RecordViolation(ctx, violation); err != nil {
		return result, action, err
	}
	return result, action, nil
}

// RecordViolation persists a boundary violation.
func (e *Enforcer) RecordViolation(ctx context.Context, violation *types.BoundaryViolation) error {
	if violation.ID == "" {
		violation.ID = types.NewID()
	}
	if violation.Timestamp.IsZero() {
		violation.Timestamp = time.Now().UTC()
	}
	violation.SessionID = e.sessionID
	return e.db.Insert(ctx, "boundary_violations", violation.Row())
}

// GetViolations returns the session's violations newest-first,
// optionally filtered to one agent.
func (e *Enforcer) GetViolations(ctx context.Context, agentID string, limit int) ([]*types.BoundaryViolation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT * FROM boundary_violations WHERE session_id = ?"
	queryArgs := []any{e.sessionID}
	if agentID != "" {
		query += " AND agent_id = ?"
		queryArgs = append(queryArgs, agentID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	queryArgs = append(queryArgs, limit)

	rows, err := e.db.FetchAll(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}

	violations := make([]*types.BoundaryViolation, len(rows))
	for i, row := range rows {
		violations[i] = types.BoundaryViolationFromRow(row)
	}
	return violations, nil
}

// Summary describes the effective boundary for an agent in the shape
// served to tools.
func (e *Enforcer) Summary(agentName string) map[string]any {
	boundary := e.FindBoundary(agentName)
	if boundary == nil {
		return map[string]any{
			"agent":           agentName,
			"has_boundary":    false,
			"allowed_paths":   []string{},
			"forbidden_paths": []string{},
			"enforcement":     "none",
		}
	}

	summary := map[string]any{
		"agent":           agentName,
		"has_boundary":    true,
		"allowed_paths":   boundary.AllowedPaths,
		"forbidden_paths": boundary.ForbiddenPaths,
		"enforcement":     boundary.Enforcement,
	}
	if boundary.MaxTokensPerHr != nil {
		summary["max_tokens_per_hour"] = *boundary.MaxTokensPerHr
	}
	if boundary.MaxCostPerHr != nil {
		summary["max_cost_per_hour"] = *boundary.MaxCostPerHr
	}
	return summary
}
