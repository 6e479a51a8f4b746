package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khoregos/k6s/bus"
	"github.com/khoregos/k6s/internal/testutil"
	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

func newTestLogger(t *testing.T) (*Logger, *store.DB, string) {
	t.Helper()

	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	logger := NewLogger(db, sessionID, nil, nil)
	if err := logger.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if logger.IsRunning() {
			_ = logger.Stop(ctx)
		}
	})
	return logger, db, sessionID
}

func TestLogger_StartStop(t *testing.T) {
	logger, _, _ := newTestLogger(t)
	ctx := context.Background()

	if !logger.IsRunning() {
		t.Error("Expected logger to be running")
	}
	if err := logger.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	if err := logger.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := logger.Stop(ctx); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestLogger_SequencesAreMonotonic(t *testing.T) {
	logger, _, _ := newTestLogger(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		event, err := logger.Log(ctx, LogParams{Action: "step"})
		if err != nil {
			t.Fatalf("Log() error = %v", err)
		}
		if event.Sequence != int64(i) {
			t.Errorf("Sequence = %d, want %d", event.Sequence, i)
		}
	}
}

func TestLogger_ConcurrentLogsGetDistinctSequences(t *testing.T) {
	logger, _, _ := newTestLogger(t)
	ctx := context.Background()

	const n = 1000
	var wg sync.WaitGroup
	seqs := make(chan int64, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event, err := logger.Log(ctx, LogParams{Action: "concurrent"})
			if err != nil {
				t.Errorf("Log() error = %v", err)
				return
			}
			seqs <- event.Sequence
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool, n)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("Duplicate sequence %d", seq)
		}
		seen[seq] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("Missing sequence %d", i)
		}
	}

	count, err := logger.GetEventCount(ctx)
	if err != nil {
		t.Fatalf("GetEventCount() error = %v", err)
	}
	if count != n {
		t.Errorf("GetEventCount() = %d, want %d", count, n)
	}
}

func TestLogger_SequenceSurvivesRestart(t *testing.T) {
	logger, db, sessionID := newTestLogger(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := logger.Log(ctx, LogParams{Action: "before restart"}); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}
	if err := logger.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	restarted := NewLogger(db, sessionID, nil, nil)
	if err := restarted.Start(ctx); err != nil {
		t.Fatalf("restarted Start() error = %v", err)
	}
	defer restarted.Stop(ctx)

	event, err := restarted.Log(ctx, LogParams{Action: "after restart"})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if event.Sequence != 8 {
		t.Errorf("Sequence after restart = %d, want 8", event.Sequence)
	}
}

func TestLogger_PeriodicFlush(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	logger := NewLogger(db, sessionID, nil, &Config{FlushInterval: 20 * time.Millisecond})
	if err := logger.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer logger.Stop(ctx)

	if _, err := logger.Log(ctx, LogParams{Action: "buffered"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if logger.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after interval flush", logger.PendingCount())
	}
	row, err := db.FetchOne(ctx,
		"SELECT COUNT(*) AS n FROM audit_events WHERE session_id = ?", sessionID)
	if err != nil {
		t.Fatalf("FetchOne() error = %v", err)
	}
	if n, _ := row["n"].(int64); n != 1 {
		t.Errorf("persisted events = %d, want 1", n)
	}
}

func TestLogger_BatchSizeTriggersFlush(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	// Long interval so only the batch size can trigger the flush.
	logger := NewLogger(db, sessionID, nil, &Config{
		FlushInterval:  time.Hour,
		FlushBatchSize: 3,
	})
	if err := logger.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer logger.Stop(ctx)

	for i := 0; i < 3; i++ {
		if _, err := logger.Log(ctx, LogParams{Action: "fill"}); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	if logger.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0 after batch flush", logger.PendingCount())
	}
}

func TestLogger_GetEventsFiltersAndOrder(t *testing.T) {
	logger, _, _ := newTestLogger(t)
	ctx := context.Background()

	if _, err := logger.Log(ctx, LogParams{AgentID: "a1", Type: types.EventFileCreate, Action: "one"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if _, err := logger.Log(ctx, LogParams{AgentID: "a2", Type: types.EventLog, Action: "two"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if _, err := logger.Log(ctx, LogParams{AgentID: "a1", Type: types.EventLog, Action: "three"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	events, err := logger.GetEvents(ctx, QueryParams{})
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("GetEvents() returned %d, want 3", len(events))
	}
	// Newest first.
	if events[0].Action != "three" || events[2].Action != "one" {
		t.Errorf("order = %q..%q, want three..one", events[0].Action, events[2].Action)
	}

	byAgent, err := logger.GetEvents(ctx, QueryParams{AgentID: "a1"})
	if err != nil {
		t.Fatalf("GetEvents(agent) error = %v", err)
	}
	if len(byAgent) != 2 {
		t.Errorf("GetEvents(agent) returned %d, want 2", len(byAgent))
	}

	byType, err := logger.GetEvents(ctx, QueryParams{EventType: types.EventFileCreate})
	if err != nil {
		t.Fatalf("GetEvents(type) error = %v", err)
	}
	if len(byType) != 1 || byType[0].Action != "one" {
		t.Errorf("GetEvents(type) = %v, want single event one", byType)
	}

	limited, err := logger.GetEvents(ctx, QueryParams{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("GetEvents(limit) error = %v", err)
	}
	if len(limited) != 1 || limited[0].Action != "two" {
		t.Errorf("GetEvents(limit 1 offset 1) = %v, want two", limited)
	}
}

func TestLogger_LogFileChangeAction(t *testing.T) {
	logger, _, _ := newTestLogger(t)
	ctx := context.Background()

	event, err := logger.LogFileChange(ctx, "", types.EventFileCreate, "src/api.py", nil)
	if err != nil {
		t.Fatalf("LogFileChange() error = %v", err)
	}
	if event.Action != "File Create: src/api.py" {
		t.Errorf("Action = %q, want %q", event.Action, "File Create: src/api.py")
	}
	if len(event.FilesAffected) != 1 || event.FilesAffected[0] != "src/api.py" {
		t.Errorf("FilesAffected = %v, want [src/api.py]", event.FilesAffected)
	}
}

func TestLogger_PublishesToBus(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	sessionID := testutil.SetupTestSession(ctx, t, db)

	events := newTestBus(t)
	var mu sync.Mutex
	var received []*types.AuditEvent
	events.Subscribe(string(types.EventLockAcquired), func(event *types.AuditEvent) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})

	logger := NewLogger(db, sessionID, events, nil)
	if err := logger.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer logger.Stop(ctx)

	if _, err := logger.Log(ctx, LogParams{Type: types.EventLockAcquired, Action: "lock"}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Errorf("bus received %d events, want 1", len(received))
	}
}

func TestExportCSV(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []*types.AuditEvent{
		{
			Sequence:      1,
			SessionID:     "s1",
			AgentID:       "a1",
			Timestamp:     now,
			Type:          types.EventFileModify,
			Action:        "File Modify: a.go",
			FilesAffected: []string{"a.go", "b.go"},
		},
	}

	var buf bytes.Buffer
	if err := ExportCSV(&buf, events); err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("CSV has %d lines, want 2", len(lines))
	}
	if lines[0] != "timestamp,sequence,session_id,agent_id,event_type,action,files_affected" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "a.go;b.go") {
		t.Errorf("row = %q, want files joined with ;", lines[1])
	}
}

func TestExportJSON(t *testing.T) {
	events := []*types.AuditEvent{
		{ID: "e1", Sequence: 1, SessionID: "s1", Timestamp: time.Now().UTC(), Type: types.EventLog, Action: "hello"},
	}

	var buf bytes.Buffer
	if err := ExportJSON(&buf, events); err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Got %d records, want 1", len(out))
	}
	if out[0]["action"] != "hello" {
		t.Errorf("action = %v, want hello", out[0]["action"])
	}
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()

	b := bus.New(nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bus Start() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b
}
