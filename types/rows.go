package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamps are stored as ISO-8601 text. RFC3339Nano is written; a
// handful of laxer layouts are accepted on read so rows written by
// other tooling still parse.
const timeLayout = time.RFC3339Nano

var readLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// FormatTime renders t in the stored timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Row value accessors. The store returns generic rows whose values are
// driver types (string, int64, float64, []byte, nil).

func rowString(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func rowInt64(row map[string]any, key string) int64 {
	switch v := row[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func rowFloat64(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func rowTime(row map[string]any, key string) time.Time {
	s := rowString(row, key)
	if s == "" {
		return time.Time{}
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func rowTimePtr(row map[string]any, key string) *time.Time {
	s := rowString(row, key)
	if s == "" {
		return nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil
	}
	return &t
}

func rowMap(row map[string]any, key string) map[string]any {
	s := rowString(row, key)
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func rowStrings(row map[string]any, key string) []string {
	s := rowString(row, key)
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Row converts the session to its stored representation.
func (s *Session) Row() map[string]any {
	var endedAt any
	if s.EndedAt != nil {
		endedAt = FormatTime(*s.EndedAt)
	}
	return map[string]any{
		"id":                  s.ID,
		"objective":           s.Objective,
		"state":               string(s.State),
		"started_at":          FormatTime(s.StartedAt),
		"ended_at":            endedAt,
		"parent_session_id":   nullable(s.ParentSessionID),
		"config_snapshot":     nullable(marshalJSON(s.ConfigSnapshot)),
		"context_summary":     nullable(s.ContextSummary),
		"total_cost_usd":      s.TotalCostUSD,
		"total_input_tokens":  s.TotalInputTokens,
		"total_output_tokens": s.TotalOutputTokens,
		"metadata":            nullable(marshalJSON(s.Metadata)),
	}
}

// SessionFromRow builds a session from a stored row.
func SessionFromRow(row map[string]any) *Session {
	return &Session{
		ID:                rowString(row, "id"),
		Objective:         rowString(row, "objective"),
		State:             SessionState(rowString(row, "state")),
		StartedAt:         rowTime(row, "started_at"),
		EndedAt:           rowTimePtr(row, "ended_at"),
		ParentSessionID:   rowString(row, "parent_session_id"),
		ConfigSnapshot:    rowMap(row, "config_snapshot"),
		ContextSummary:    rowString(row, "context_summary"),
		TotalCostUSD:      rowFloat64(row, "total_cost_usd"),
		TotalInputTokens:  rowInt64(row, "total_input_tokens"),
		TotalOutputTokens: rowInt64(row, "total_output_tokens"),
		Metadata:          rowMap(row, "metadata"),
	}
}

// Row converts the agent to its stored representation.
func (a *Agent) Row() map[string]any {
	return map[string]any{
		"id":              a.ID,
		"session_id":      a.SessionID,
		"name":            a.Name,
		"role":            string(a.Role),
		"specialization":  nullable(a.Specialization),
		"state":           string(a.State),
		"spawned_at":      FormatTime(a.SpawnedAt),
		"boundary_config": nullable(marshalJSON(a.BoundaryConfig)),
		"metadata":        nullable(marshalJSON(a.Metadata)),
	}
}

// AgentFromRow builds an agent from a stored row.
func AgentFromRow(row map[string]any) *Agent {
	return &Agent{
		ID:             rowString(row, "id"),
		SessionID:      rowString(row, "session_id"),
		Name:           rowString(row, "name"),
		Role:           AgentRole(rowString(row, "role")),
		Specialization: rowString(row, "specialization"),
		State:          AgentState(rowString(row, "state")),
		SpawnedAt:      rowTime(row, "spawned_at"),
		BoundaryConfig: rowMap(row, "boundary_config"),
		Metadata:       rowMap(row, "metadata"),
	}
}

// Row converts the audit event to its stored representation.
func (e *AuditEvent) Row() map[string]any {
	return map[string]any{
		"id":             e.ID,
		"sequence":       e.Sequence,
		"session_id":     e.SessionID,
		"agent_id":       nullable(e.AgentID),
		"timestamp":      FormatTime(e.Timestamp),
		"event_type":     string(e.Type),
		"action":         e.Action,
		"details":        nullable(marshalJSON(e.Details)),
		"files_affected": nullable(marshalJSON(e.FilesAffected)),
		"gate_id":        nullable(e.GateID),
		"hmac":           nullable(e.HMAC),
	}
}

// AuditEventFromRow builds an audit event from a stored row.
func AuditEventFromRow(row map[string]any) *AuditEvent {
	return &AuditEvent{
		ID:            rowString(row, "id"),
		Sequence:      rowInt64(row, "sequence"),
		SessionID:     rowString(row, "session_id"),
		AgentID:       rowString(row, "agent_id"),
		Timestamp:     rowTime(row, "timestamp"),
		Type:          EventType(rowString(row, "event_type")),
		Action:        rowString(row, "action"),
		Details:       rowMap(row, "details"),
		FilesAffected: rowStrings(row, "files_affected"),
		GateID:        rowString(row, "gate_id"),
		HMAC:          rowString(row, "hmac"),
	}
}

// Row converts the context entry to its stored representation. The value
// is stored as JSON whatever its shape.
func (c *ContextEntry) Row() map[string]any {
	value, err := json.Marshal(c.Value)
	if err != nil {
		value = []byte("null")
	}
	return map[string]any{
		"key":        c.Key,
		"session_id": c.SessionID,
		"agent_id":   nullable(c.AgentID),
		"value":      string(value),
		"updated_at": FormatTime(c.UpdatedAt),
	}
}

// ContextEntryFromRow builds a context entry from a stored row.
func ContextEntryFromRow(row map[string]any) *ContextEntry {
	var value any
	if s := rowString(row, "value"); s != "" {
		_ = json.Unmarshal([]byte(s), &value)
	}
	return &ContextEntry{
		Key:       rowString(row, "key"),
		SessionID: rowString(row, "session_id"),
		AgentID:   rowString(row, "agent_id"),
		Value:     value,
		UpdatedAt: rowTime(row, "updated_at"),
	}
}

// Row converts the file lock to its stored representation.
func (l *FileLock) Row() map[string]any {
	var expiresAt any
	if l.ExpiresAt != nil {
		expiresAt = FormatTime(*l.ExpiresAt)
	}
	return map[string]any{
		"path":        l.Path,
		"session_id":  l.SessionID,
		"agent_id":    l.AgentID,
		"acquired_at": FormatTime(l.AcquiredAt),
		"expires_at":  expiresAt,
	}
}

// FileLockFromRow builds a file lock from a stored row.
func FileLockFromRow(row map[string]any) *FileLock {
	return &FileLock{
		Path:       rowString(row, "path"),
		SessionID:  rowString(row, "session_id"),
		AgentID:    rowString(row, "agent_id"),
		AcquiredAt: rowTime(row, "acquired_at"),
		ExpiresAt:  rowTimePtr(row, "expires_at"),
	}
}

// Row converts the violation to its stored representation.
func (v *BoundaryViolation) Row() map[string]any {
	return map[string]any{
		"id":                 v.ID,
		"session_id":         v.SessionID,
		"agent_id":           nullable(v.AgentID),
		"timestamp":          FormatTime(v.Timestamp),
		"file_path":          v.FilePath,
		"violation_type":     v.ViolationType,
		"enforcement_action": v.EnforcementAction,
		"details":            nullable(marshalJSON(v.Details)),
	}
}

// BoundaryViolationFromRow builds a violation from a stored row.
func BoundaryViolationFromRow(row map[string]any) *BoundaryViolation {
	return &BoundaryViolation{
		ID:                rowString(row, "id"),
		SessionID:         rowString(row, "session_id"),
		AgentID:           rowString(row, "agent_id"),
		Timestamp:         rowTime(row, "timestamp"),
		FilePath:          rowString(row, "file_path"),
		ViolationType:     rowString(row, "violation_type"),
		EnforcementAction: rowString(row, "enforcement_action"),
		Details:           rowMap(row, "details"),
	}
}
