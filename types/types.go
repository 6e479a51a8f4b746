// Package types defines the persisted domain model shared by every
// engine component: sessions, agents, audit events, context entries,
// file locks, and boundary rules.
package types

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new lexicographically sortable 26-character identifier.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

// SessionState represents the lifecycle state of a session.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// AgentRole represents an agent's role within a team.
type AgentRole string

const (
	RoleLead     AgentRole = "lead"
	RoleTeammate AgentRole = "teammate"
)

// AgentState represents the lifecycle state of an agent.
type AgentState string

const (
	AgentActive    AgentState = "active"
	AgentIdle      AgentState = "idle"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// EventType classifies audit events. The set is closed; unknown types
// received over the tool API fall back to EventLog.
type EventType string

const (
	EventFileCreate EventType = "file_create"
	EventFileModify EventType = "file_modify"
	EventFileDelete EventType = "file_delete"

	EventSessionStart    EventType = "session_start"
	EventSessionPause    EventType = "session_pause"
	EventSessionResume   EventType = "session_resume"
	EventSessionComplete EventType = "session_complete"
	EventSessionFail     EventType = "session_fail"

	EventAgentSpawn    EventType = "agent_spawn"
	EventAgentComplete EventType = "agent_complete"
	EventAgentFail     EventType = "agent_fail"

	EventTaskCreate   EventType = "task_create"
	EventTaskUpdate   EventType = "task_update"
	EventTaskComplete EventType = "task_complete"

	EventGateTriggered EventType = "gate_triggered"
	EventGateApproved  EventType = "gate_approved"
	EventGateDenied    EventType = "gate_denied"
	EventGateExpired   EventType = "gate_expired"

	EventBoundaryViolation EventType = "boundary_violation"
	EventBoundaryCheck     EventType = "boundary_check"

	EventLockAcquired EventType = "lock_acquired"
	EventLockReleased EventType = "lock_released"
	EventLockDenied   EventType = "lock_denied"

	EventContextSaved  EventType = "context_saved"
	EventContextLoaded EventType = "context_loaded"

	EventCostReported   EventType = "cost_reported"
	EventBudgetWarning  EventType = "budget_warning"
	EventBudgetExceeded EventType = "budget_exceeded"

	EventLog     EventType = "log"
	EventSystem  EventType = "system"
	EventToolUse EventType = "tool_use"
)

var validEventTypes = map[EventType]bool{
	EventFileCreate: true, EventFileModify: true, EventFileDelete: true,
	EventSessionStart: true, EventSessionPause: true, EventSessionResume: true,
	EventSessionComplete: true, EventSessionFail: true,
	EventAgentSpawn: true, EventAgentComplete: true, EventAgentFail: true,
	EventTaskCreate: true, EventTaskUpdate: true, EventTaskComplete: true,
	EventGateTriggered: true, EventGateApproved: true, EventGateDenied: true, EventGateExpired: true,
	EventBoundaryViolation: true, EventBoundaryCheck: true,
	EventLockAcquired: true, EventLockReleased: true, EventLockDenied: true,
	EventContextSaved: true, EventContextLoaded: true,
	EventCostReported: true, EventBudgetWarning: true, EventBudgetExceeded: true,
	EventLog: true, EventSystem: true, EventToolUse: true,
}

// ParseEventType maps a string to an EventType, falling back to EventLog
// for values outside the closed set.
func ParseEventType(s string) EventType {
	et := EventType(s)
	if validEventTypes[et] {
		return et
	}
	return EventLog
}

// Session is one governance episode from setup to teardown.
type Session struct {
	ID                string
	Objective         string
	State             SessionState
	StartedAt         time.Time
	EndedAt           *time.Time
	ParentSessionID   string
	ConfigSnapshot    map[string]any
	ContextSummary    string
	TotalCostUSD      float64
	TotalInputTokens  int64
	TotalOutputTokens int64
	Metadata          map[string]any
}

// NewSession creates a session in the created state.
func NewSession(objective string) *Session {
	return &Session{
		ID:        NewID(),
		Objective: objective,
		State:     SessionCreated,
		StartedAt: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// IsActive reports whether the session is in a non-terminal, runnable state.
func (s *Session) IsActive() bool {
	return s.State == SessionCreated || s.State == SessionActive
}

// Duration returns the elapsed time for a finished session, or zero if
// the session has not ended.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Agent is a named actor within a session.
type Agent struct {
	ID             string
	SessionID      string
	Name           string
	Role           AgentRole
	Specialization string
	State          AgentState
	SpawnedAt      time.Time
	BoundaryConfig map[string]any
	Metadata       map[string]any
}

// NewAgent creates an agent in the active state.
func NewAgent(sessionID, name string, role AgentRole) *Agent {
	if role == "" {
		role = RoleTeammate
	}
	return &Agent{
		ID:        NewID(),
		SessionID: sessionID,
		Name:      name,
		Role:      role,
		State:     AgentActive,
		SpawnedAt: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// AuditEvent is one row in the monotonic per-session log.
type AuditEvent struct {
	ID            string
	Sequence      int64
	SessionID     string
	AgentID       string
	Timestamp     time.Time
	Type          EventType
	Action        string
	Details       map[string]any
	FilesAffected []string
	GateID        string
	// HMAC is reserved for tamper-evidence and is never populated.
	HMAC string
}

// ShortSummary returns a one-line rendering for terminal display.
func (e *AuditEvent) ShortSummary() string {
	actor := "system"
	if e.AgentID != "" {
		actor = e.AgentID
	}
	return e.Timestamp.Format("15:04:05") + " [" + actor + "] " + string(e.Type) + ": " + e.Action
}

// ContextEntry is a key-value record that persists across restarts.
// Value holds any JSON-serializable payload.
type ContextEntry struct {
	Key       string
	SessionID string
	AgentID   string
	Value     any
	UpdatedAt time.Time
}

// FileLock is a (session, path) exclusive reservation with optional expiry.
type FileLock struct {
	Path       string
	SessionID  string
	AgentID    string
	AcquiredAt time.Time
	ExpiresAt  *time.Time
}

// IsExpired reports whether the lock's expiry has passed. A lock with no
// expiry never expires.
func (l *FileLock) IsExpired() bool {
	if l.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*l.ExpiresAt)
}

// Violation types.
const (
	ViolationForbiddenPath  = "forbidden_path"
	ViolationOutsideAllowed = "outside_allowed"
	ViolationResourceLimit  = "resource_limit"
)

// Enforcement actions.
const (
	EnforcementLogged   = "logged"
	EnforcementReverted = "reverted"
	EnforcementBlocked  = "blocked"
)

// BoundaryViolation records an access outside an agent's boundary.
type BoundaryViolation struct {
	ID                string
	SessionID         string
	AgentID           string
	Timestamp         time.Time
	FilePath          string
	ViolationType     string
	EnforcementAction string
	Details           map[string]any
}

// Enforcement modes for a boundary.
const (
	EnforcementAdvisory = "advisory"
	EnforcementStrict   = "strict"
)

// BoundaryConfig maps an agent name pattern to path access rules.
type BoundaryConfig struct {
	Pattern         string   `yaml:"pattern" json:"pattern"`
	AllowedPaths    []string `yaml:"allowed_paths,omitempty" json:"allowed_paths"`
	ForbiddenPaths  []string `yaml:"forbidden_paths,omitempty" json:"forbidden_paths"`
	Enforcement     string   `yaml:"enforcement,omitempty" json:"enforcement"`
	MaxTokensPerHr  *int64   `yaml:"max_tokens_per_hour,omitempty" json:"max_tokens_per_hour,omitempty"`
	MaxCostPerHr    *float64 `yaml:"max_cost_per_hour,omitempty" json:"max_cost_per_hour,omitempty"`
}

// marshalJSON renders v as a JSON string, or "" for empty maps/slices.
func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
	case []string:
		if len(t) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
