package types

import (
	"strings"
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	if len(id1) != 26 {
		t.Errorf("NewID() length = %d, want 26", len(id1))
	}
	if id1 == id2 {
		t.Error("Expected distinct IDs")
	}
	if strings.ToUpper(id1) != id1 {
		t.Errorf("NewID() = %q, want upper-case Crockford base32", id1)
	}
}

func TestNewIDSortable(t *testing.T) {
	first := NewID()
	time.Sleep(2 * time.Millisecond)
	second := NewID()

	if !(first < second) {
		t.Errorf("IDs not time-ordered: %q >= %q", first, second)
	}
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		in   string
		want EventType
	}{
		{"file_create", EventFileCreate},
		{"lock_acquired", EventLockAcquired},
		{"tool_use", EventToolUse},
		{"log", EventLog},
		{"file_write", EventLog},
		{"", EventLog},
	}

	for _, tt := range tests {
		if got := ParseEventType(tt.in); got != tt.want {
			t.Errorf("ParseEventType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSessionRowRoundTrip(t *testing.T) {
	ended := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	s := &Session{
		ID:              NewID(),
		Objective:       "Build auth",
		State:           SessionCompleted,
		StartedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		EndedAt:         &ended,
		ParentSessionID: "01PARENT",
		ConfigSnapshot:  map[string]any{"version": "1"},
		ContextSummary:  "done",
		TotalCostUSD:    1.25,
		TotalInputTokens: 100,
		Metadata:        map[string]any{"k": "v"},
	}

	got := SessionFromRow(s.Row())

	if got.ID != s.ID {
		t.Errorf("ID = %q, want %q", got.ID, s.ID)
	}
	if got.State != SessionCompleted {
		t.Errorf("State = %v, want %v", got.State, SessionCompleted)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}
	if got.ParentSessionID != "01PARENT" {
		t.Errorf("ParentSessionID = %q, want 01PARENT", got.ParentSessionID)
	}
	if got.ConfigSnapshot["version"] != "1" {
		t.Errorf("ConfigSnapshot = %v, want version=1", got.ConfigSnapshot)
	}
	if got.TotalCostUSD != 1.25 {
		t.Errorf("TotalCostUSD = %v, want 1.25", got.TotalCostUSD)
	}
}

func TestSessionRowNilOptionals(t *testing.T) {
	s := NewSession("x")
	row := s.Row()

	if row["ended_at"] != nil {
		t.Errorf("ended_at = %v, want nil", row["ended_at"])
	}
	if row["parent_session_id"] != nil {
		t.Errorf("parent_session_id = %v, want nil", row["parent_session_id"])
	}

	got := SessionFromRow(row)
	if got.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", got.EndedAt)
	}
	if !got.IsActive() {
		t.Error("Expected new session to be active")
	}
}

func TestFileLockIsExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Minute)

	tests := []struct {
		name string
		lock FileLock
		want bool
	}{
		{"no expiry", FileLock{}, false},
		{"expired", FileLock{ExpiresAt: &past}, true},
		{"live", FileLock{ExpiresAt: &future}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lock.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextEntryRowArbitraryValue(t *testing.T) {
	entry := &ContextEntry{
		Key:       "plan",
		SessionID: "s1",
		Value:     map[string]any{"steps": []any{"a", "b"}},
		UpdatedAt: time.Now().UTC(),
	}

	got := ContextEntryFromRow(entry.Row())

	m, ok := got.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value type = %T, want map", got.Value)
	}
	steps, ok := m["steps"].([]any)
	if !ok || len(steps) != 2 {
		t.Errorf("Value steps = %v, want [a b]", m["steps"])
	}
}

func TestAuditEventShortSummary(t *testing.T) {
	e := &AuditEvent{
		Timestamp: time.Date(2026, 1, 1, 9, 15, 30, 0, time.UTC),
		Type:      EventFileModify,
		Action:    "file_modify: src/a.go",
	}

	got := e.ShortSummary()
	if !strings.Contains(got, "[system]") {
		t.Errorf("ShortSummary() = %q, want system actor", got)
	}
	if !strings.Contains(got, "09:15:30") {
		t.Errorf("ShortSummary() = %q, want timestamp", got)
	}
}
