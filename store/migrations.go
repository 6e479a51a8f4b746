package store

import (
	"context"
	"fmt"
)

// SchemaVersion is the version a freshly migrated database reports.
const SchemaVersion = 2

type migration struct {
	version int
	sql     string
}

// Migrations are forward-only. Each runs in its own transaction together
// with its schema_migrations record.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE sessions (
	id TEXT PRIMARY KEY,
	objective TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'created',
	started_at TEXT NOT NULL,
	ended_at TEXT,
	parent_session_id TEXT REFERENCES sessions(id),
	config_snapshot TEXT,
	context_summary TEXT,
	total_cost_usd REAL NOT NULL DEFAULT 0,
	total_input_tokens INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0,
	metadata TEXT
);

CREATE TABLE agents (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	name TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'teammate',
	specialization TEXT,
	state TEXT NOT NULL DEFAULT 'active',
	spawned_at TEXT NOT NULL,
	boundary_config TEXT,
	metadata TEXT,
	UNIQUE (session_id, name)
);

CREATE TABLE audit_events (
	id TEXT PRIMARY KEY,
	sequence INTEGER NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	agent_id TEXT REFERENCES agents(id),
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	action TEXT NOT NULL,
	details TEXT,
	files_affected TEXT,
	gate_id TEXT,
	hmac TEXT,
	UNIQUE (session_id, sequence)
);
CREATE INDEX idx_audit_events_session ON audit_events(session_id, sequence);
CREATE INDEX idx_audit_events_type ON audit_events(session_id, event_type);

CREATE TABLE context_store (
	key TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	agent_id TEXT,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (session_id, key)
);

CREATE TABLE file_locks (
	path TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	agent_id TEXT NOT NULL,
	acquired_at TEXT NOT NULL,
	expires_at TEXT,
	PRIMARY KEY (path, session_id)
);

CREATE TABLE boundary_violations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	agent_id TEXT,
	timestamp TEXT NOT NULL,
	file_path TEXT NOT NULL,
	violation_type TEXT NOT NULL,
	enforcement_action TEXT NOT NULL,
	details TEXT
);
CREATE INDEX idx_violations_session ON boundary_violations(session_id, timestamp);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE gates (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	gate_config_id TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	triggered_at TEXT NOT NULL,
	resolved_at TEXT,
	resolution TEXT,
	details TEXT
);

CREATE TABLE cost_records (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	agent_id TEXT,
	timestamp TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0
);
CREATE INDEX idx_cost_records_session ON cost_records(session_id, timestamp);
`,
	},
}

// migrate creates the schema_migrations table and applies all pending
// migrations in ascending order.
func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (datetime('now'))
)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := d.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Version returns the applied schema version.
func (d *DB) Version(ctx context.Context) (int, error) {
	var v int
	row := d.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
