// Package state persists sessions, agents, and key-value context so
// work survives restarts. Sessions are first-class entities with a
// linear lifecycle: created, active, paused, completed or failed.
package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

// Manager provides session, agent, and context CRUD over the store.
type Manager struct {
	db          *store.DB
	projectRoot string
}

// NewManager creates a state manager.
func NewManager(db *store.DB, projectRoot string) *Manager {
	return &Manager{db: db, projectRoot: projectRoot}
}

// CreateSessionParams holds the optional fields for CreateSession.
type CreateSessionParams struct {
	ConfigSnapshot  map[string]any
	ParentSessionID string
}

// CreateSession creates a session in the created state.
func (m *Manager) CreateSession(ctx context.Context, objective string, params CreateSessionParams) (*types.Session, error) {
	session := types.NewSession(objective)
	session.ConfigSnapshot = params.ConfigSnapshot
	session.ParentSessionID = params.ParentSessionID

	if err := m.db.Insert(ctx, "sessions", session.Row()); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session by ID, or ErrSessionNotFound.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row, err := m.db.FetchOne(ctx, "SELECT * FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSessionNotFound
	}
	return types.SessionFromRow(row), nil
}

// FindSession resolves a session by full ID or unique prefix, with the
// literal "latest" resolving to the most recent session.
func (m *Manager) FindSession(ctx context.Context, ref string) (*types.Session, error) {
	if strings.EqualFold(ref, "latest") {
		return m.GetLatestSession(ctx)
	}

	session, err := m.GetSession(ctx, ref)
	if err == nil {
		return session, nil
	}

	rows, err := m.db.FetchAll(ctx,
		"SELECT * FROM sessions WHERE id LIKE ? ORDER BY started_at DESC LIMIT 2", ref+"%")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return types.SessionFromRow(rows[0]), nil
}

// GetLatestSession returns the most recent session.
func (m *Manager) GetLatestSession(ctx context.Context) (*types.Session, error) {
	row, err := m.db.FetchOne(ctx, "SELECT * FROM sessions ORDER BY started_at DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSessionNotFound
	}
	return types.SessionFromRow(row), nil
}

// GetActiveSession returns the newest session in the created or active
// state, or ErrSessionNotFound if no session is runnable.
func (m *Manager) GetActiveSession(ctx context.Context) (*types.Session, error) {
	row, err := m.db.FetchOne(ctx,
		"SELECT * FROM sessions WHERE state IN ('created', 'active') ORDER BY started_at DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSessionNotFound
	}
	return types.SessionFromRow(row), nil
}

// ListSessionsParams filters ListSessions.
type ListSessionsParams struct {
	Limit  int
	Offset int
	State  types.SessionState
}

// ListSessions returns sessions newest-first.
func (m *Manager) ListSessions(ctx context.Context, params ListSessionsParams) ([]*types.Session, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows []map[string]any
	var err error
	if params.State != "" {
		rows, err = m.db.FetchAll(ctx,
			"SELECT * FROM sessions WHERE state = ? ORDER BY started_at DESC LIMIT ? OFFSET ?",
			string(params.State), limit, params.Offset)
	} else {
		rows, err = m.db.FetchAll(ctx,
			"SELECT * FROM sessions ORDER BY started_at DESC LIMIT ? OFFSET ?",
			limit, params.Offset)
	}
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, len(rows))
	for i, row := range rows {
		sessions[i] = types.SessionFromRow(row)
	}
	return sessions, nil
}

// MarkSessionActive transitions a session to active.
func (m *Manager) MarkSessionActive(ctx context.Context, sessionID string) error {
	return m.setSessionState(ctx, sessionID, map[string]any{
		"state": string(types.SessionActive),
	})
}

// MarkSessionPaused transitions a session to paused.
func (m *Manager) MarkSessionPaused(ctx context.Context, sessionID string) error {
	return m.setSessionState(ctx, sessionID, map[string]any{
		"state": string(types.SessionPaused),
	})
}

// MarkSessionCompleted transitions a session to completed, stamping
// ended_at. An optional summary is stored as the context summary.
func (m *Manager) MarkSessionCompleted(ctx context.Context, sessionID, summary string) error {
	data := map[string]any{
		"state":    string(types.SessionCompleted),
		"ended_at": types.FormatTime(time.Now().UTC()),
	}
	if summary != "" {
		data["context_summary"] = summary
	}
	return m.setSessionState(ctx, sessionID, data)
}

// MarkSessionFailed transitions a session to failed, stamping ended_at.
func (m *Manager) MarkSessionFailed(ctx context.Context, sessionID string) error {
	return m.setSessionState(ctx, sessionID, map[string]any{
		"state":    string(types.SessionFailed),
		"ended_at": types.FormatTime(time.Now().UTC()),
	})
}

func (m *Manager) setSessionState(ctx context.Context, sessionID string, data map[string]any) error {
	n, err := m.db.Update(ctx, "sessions", data, "id = ?", sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RegisterAgentParams holds the optional fields for RegisterAgent.
type RegisterAgentParams struct {
	Role           types.AgentRole
	Specialization string
	BoundaryConfig map[string]any
}

// RegisterAgent creates an agent in a session. Names are unique within
// a session; duplicates propagate the store's constraint error.
func (m *Manager) RegisterAgent(ctx context.Context, sessionID, name string, params RegisterAgentParams) (*types.Agent, error) {
	agent := types.NewAgent(sessionID, name, params.Role)
	agent.Specialization = params.Specialization
	agent.BoundaryConfig = params.BoundaryConfig

	if err := m.db.Insert(ctx, "agents", agent.Row()); err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	return agent, nil
}

// GetAgent returns an agent by ID, or ErrAgentNotFound.
func (m *Manager) GetAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	row, err := m.db.FetchOne(ctx, "SELECT * FROM agents WHERE id = ?", agentID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrAgentNotFound
	}
	return types.AgentFromRow(row), nil
}

// GetAgentByName returns an agent by name within a session, or
// ErrAgentNotFound.
func (m *Manager) GetAgentByName(ctx context.Context, sessionID, name string) (*types.Agent, error) {
	row, err := m.db.FetchOne(ctx,
		"SELECT * FROM agents WHERE session_id = ? AND name = ?", sessionID, name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrAgentNotFound
	}
	return types.AgentFromRow(row), nil
}

// ListAgents returns a session's agents in spawn order.
func (m *Manager) ListAgents(ctx context.Context, sessionID string) ([]*types.Agent, error) {
	rows, err := m.db.FetchAll(ctx,
		"SELECT * FROM agents WHERE session_id = ? ORDER BY spawned_at", sessionID)
	if err != nil {
		return nil, err
	}

	agents := make([]*types.Agent, len(rows))
	for i, row := range rows {
		agents[i] = types.AgentFromRow(row)
	}
	return agents, nil
}

// SetAgentState transitions an agent to the given state.
func (m *Manager) SetAgentState(ctx context.Context, agentID string, agentState types.AgentState) error {
	n, err := m.db.Update(ctx, "agents",
		map[string]any{"state": string(agentState)}, "id = ?", agentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// SaveContext upserts a context entry. The value may be any
// JSON-serializable payload.
func (m *Manager) SaveContext(ctx context.Context, sessionID, key string, value any, agentID string) (*types.ContextEntry, error) {
	entry := &types.ContextEntry{
		Key:       key,
		SessionID: sessionID,
		AgentID:   agentID,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.db.Upsert(ctx, "context_store", entry.Row()); err != nil {
		return nil, fmt.Errorf("save context: %w", err)
	}
	return entry, nil
}

// LoadContext returns a context entry, or ErrContextNotFound.
func (m *Manager) LoadContext(ctx context.Context, sessionID, key string) (*types.ContextEntry, error) {
	row, err := m.db.FetchOne(ctx,
		"SELECT * FROM context_store WHERE session_id = ? AND key = ?", sessionID, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrContextNotFound
	}
	return types.ContextEntryFromRow(row), nil
}

// LoadAllContext returns a session's context entries ordered by key,
// optionally filtered by agent.
func (m *Manager) LoadAllContext(ctx context.Context, sessionID, agentID string) ([]*types.ContextEntry, error) {
	var rows []map[string]any
	var err error
	if agentID != "" {
		rows, err = m.db.FetchAll(ctx,
			"SELECT * FROM context_store WHERE session_id = ? AND agent_id = ? ORDER BY key",
			sessionID, agentID)
	} else {
		rows, err = m.db.FetchAll(ctx,
			"SELECT * FROM context_store WHERE session_id = ? ORDER BY key", sessionID)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]*types.ContextEntry, len(rows))
	for i, row := range rows {
		entries[i] = types.ContextEntryFromRow(row)
	}
	return entries, nil
}

// DeleteContext removes a context entry. Missing keys are not an error.
func (m *Manager) DeleteContext(ctx context.Context, sessionID, key string) error {
	_, err := m.db.Delete(ctx, "context_store", "session_id = ? AND key = ?", sessionID, key)
	return err
}

// DeleteSession removes a session and everything scoped to it.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	// Children first to satisfy foreign keys.
	tables := []string{
		"audit_events", "agents", "context_store",
		"file_locks", "boundary_violations", "gates", "cost_records",
	}
	for _, table := range tables {
		if _, err := m.db.Delete(ctx, table, "session_id = ?", sessionID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	n, err := m.db.Delete(ctx, "sessions", "id = ?", sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GenerateResumeContext builds the markdown carry-over summary injected
// into a successor session. The section layout is part of the contract:
// the agent host parses nothing, but operators and prompts rely on the
// headings staying put.
func (m *Manager) GenerateResumeContext(ctx context.Context, sessionID string) (string, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	agents, err := m.ListAgents(ctx, sessionID)
	if err != nil {
		return "", err
	}

	entries, err := m.LoadAllContext(ctx, sessionID, "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("## Previous Session Context\n\n")
	fmt.Fprintf(&b, "**Objective**: %s\n", session.Objective)
	fmt.Fprintf(&b, "**Started**: %s\n\n", session.StartedAt.Format("2006-01-02 15:04"))

	if session.ContextSummary != "" {
		b.WriteString("### Session Summary\n")
		b.WriteString(session.ContextSummary)
		b.WriteString("\n\n")
	}

	if len(agents) > 0 {
		b.WriteString("### Active Agents\n")
		for _, agent := range agents {
			spec := ""
			if agent.Specialization != "" {
				spec = fmt.Sprintf(" (%s)", agent.Specialization)
			}
			fmt.Fprintf(&b, "- **%s**%s: %s\n", agent.Name, spec, agent.State)
		}
		b.WriteString("\n")
	}

	if len(entries) > 0 {
		b.WriteString("### Saved Context\n")
		if len(entries) > 10 {
			entries = entries[:10]
		}
		for _, entry := range entries {
			preview := valuePreview(entry.Value, 100)
			fmt.Fprintf(&b, "- **%s**: %s\n", entry.Key, preview)
		}
		b.WriteString("\n")
	}

	return b.String(), nil
}

// valuePreview renders a context value as text truncated to max runes.
func valuePreview(value any, max int) string {
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}
