// Package audit records what every agent did, in order. Events get a
// per-session monotonic sequence number assigned at log time and are
// written through a small buffer that flushes on size or interval, so
// hot paths never wait on disk.
package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khoregos/k6s/bus"
	"github.com/khoregos/k6s/store"
	"github.com/khoregos/k6s/types"
)

// Config holds configuration for the audit logger.
type Config struct {
	// FlushInterval is how often buffered events are written out.
	// Default: 100ms
	FlushInterval time.Duration

	// FlushBatchSize flushes the buffer early once it holds this many
	// events.
	// Default: 100
	FlushBatchSize int

	// OnError is called when a background flush fails.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		FlushInterval:  100 * time.Millisecond,
		FlushBatchSize: 100,
	}
}

// Logger is the buffered, sequenced audit log for one session.
type Logger struct {
	db        *store.DB
	events    *bus.Bus
	sessionID string
	config    *Config

	mu       sync.Mutex
	sequence int64
	buffer   []*types.AuditEvent

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewLogger creates an audit logger for a session. The bus may be nil;
// events are then persisted without being published.
func NewLogger(db *store.DB, sessionID string, events *bus.Bus, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if config.FlushBatchSize <= 0 {
		config.FlushBatchSize = DefaultConfig().FlushBatchSize
	}

	return &Logger{
		db:        db,
		events:    events,
		sessionID: sessionID,
		config:    config,
	}
}

// SessionID returns the session this logger writes to.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Start restores the sequence counter from storage and begins the
// periodic flush loop. Sequence numbers continue where a previous
// process left off.
func (l *Logger) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	row, err := l.db.FetchOne(ctx,
		"SELECT COALESCE(MAX(sequence), 0) AS seq FROM audit_events WHERE session_id = ?",
		l.sessionID)
	if err != nil {
		l.started.Store(false)
		return fmt.Errorf("restore sequence: %w", err)
	}
	if seq, ok := row["seq"].(int64); ok {
		l.sequence = seq
	}

	l.done = make(chan struct{})
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)

	return nil
}

// Stop flushes everything still buffered and stops the flush loop.
func (l *Logger) Stop(ctx context.Context) error {
	if !l.started.Load() {
		return ErrNotStarted
	}

	l.cancel()
	<-l.done

	err := l.Flush(ctx)
	l.started.Store(false)
	return err
}

// IsRunning returns true if the logger is running.
func (l *Logger) IsRunning() bool {
	return l.started.Load()
}

// LogParams describes one audit event to record.
type LogParams struct {
	AgentID       string
	Type          types.EventType
	Action        string
	Details       map[string]any
	FilesAffected []string
	GateID        string
}

// Log records an event, assigning it the next sequence number. The
// event is buffered; durability follows on the next flush.
func (l *Logger) Log(ctx context.Context, params LogParams) (*types.AuditEvent, error) {
	eventType := params.Type
	if eventType == "" {
		eventType = types.EventLog
	}

	l.mu.Lock()
	l.sequence++
	event := &types.AuditEvent{
		ID:            types.NewID(),
		Sequence:      l.sequence,
		SessionID:     l.sessionID,
		AgentID:       params.AgentID,
		Timestamp:     time.Now().UTC(),
		Type:          eventType,
		Action:        params.Action,
		Details:       params.Details,
		FilesAffected: params.FilesAffected,
		GateID:        params.GateID,
	}
	l.buffer = append(l.buffer, event)
	full := len(l.buffer) >= l.config.FlushBatchSize
	l.mu.Unlock()

	if full {
		if err := l.Flush(ctx); err != nil {
			return nil, err
		}
	}

	if l.events != nil {
		l.events.Publish(event)
	}
	return event, nil
}

// LogFileChange records a filesystem event against a path.
func (l *Logger) LogFileChange(ctx context.Context, agentID string, eventType types.EventType, path string, details map[string]any) (*types.AuditEvent, error) {
	return l.Log(ctx, LogParams{
		AgentID:       agentID,
		Type:          eventType,
		Action:        fmt.Sprintf("%s: %s", titleCase(string(eventType)), path),
		Details:       details,
		FilesAffected: []string{path},
	})
}

// LogSessionEvent records a session lifecycle event.
func (l *Logger) LogSessionEvent(ctx context.Context, eventType types.EventType, action string, details map[string]any) (*types.AuditEvent, error) {
	return l.Log(ctx, LogParams{Type: eventType, Action: action, Details: details})
}

// LogAgentEvent records an agent lifecycle event.
func (l *Logger) LogAgentEvent(ctx context.Context, agentID string, eventType types.EventType, action string, details map[string]any) (*types.AuditEvent, error) {
	return l.Log(ctx, LogParams{AgentID: agentID, Type: eventType, Action: action, Details: details})
}

// Flush writes all buffered events in one transaction.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	batch := l.buffer
	l.buffer = nil
	l.mu.Unlock()

	err := l.db.Transaction(ctx, func(tx *store.Tx) error {
		for _, event := range batch {
			if err := tx.Insert(ctx, "audit_events", event.Row()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Put the batch back so a later flush can retry.
		l.mu.Lock()
		l.buffer = append(batch, l.buffer...)
		l.mu.Unlock()
		return fmt.Errorf("flush audit events: %w", err)
	}
	return nil
}

// PendingCount returns the number of buffered, unflushed events.
func (l *Logger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// run flushes on the configured interval until cancellation.
func (l *Logger) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.Flush(context.WithoutCancel(ctx)); err != nil {
				if l.config.OnError != nil {
					l.config.OnError(err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// QueryParams filters GetEvents. Zero values mean no filter.
type QueryParams struct {
	EventType types.EventType
	AgentID   string
	Since     time.Time
	Limit     int
	Offset    int
}

// GetEvents returns the session's events newest-first. Buffered events
// are flushed first so reads always see the latest writes.
func (l *Logger) GetEvents(ctx context.Context, params QueryParams) ([]*types.AuditEvent, error) {
	if err := l.Flush(ctx); err != nil {
		return nil, err
	}

	query := "SELECT * FROM audit_events WHERE session_id = ?"
	args := []any{l.sessionID}

	if params.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(params.EventType))
	}
	if params.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, params.AgentID)
	}
	if !params.Since.IsZero() {
		query += " AND timestamp > ?"
		args = append(args, types.FormatTime(params.Since))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY sequence DESC LIMIT ? OFFSET ?"
	args = append(args, limit, params.Offset)

	rows, err := l.db.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	events := make([]*types.AuditEvent, len(rows))
	for i, row := range rows {
		events[i] = types.AuditEventFromRow(row)
	}
	return events, nil
}

// GetEventCount returns the number of persisted events for the session.
func (l *Logger) GetEventCount(ctx context.Context) (int64, error) {
	if err := l.Flush(ctx); err != nil {
		return 0, err
	}

	row, err := l.db.FetchOne(ctx,
		"SELECT COUNT(*) AS n FROM audit_events WHERE session_id = ?", l.sessionID)
	if err != nil {
		return 0, err
	}
	n, _ := row["n"].(int64)
	return n, nil
}

// titleCase turns an event type like "file_create" into "File Create".
func titleCase(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
