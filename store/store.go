// Package store provides the embedded SQLite database shared by every
// engine component. All writes are linearized through one mutex and one
// pooled connection; transactions open in immediate mode so writers
// reserve the database lock up front.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the embedded database.
type DB struct {
	path string
	db   *sql.DB

	// writeMu linearizes all writers. SQLite allows one writer at a
	// time; serializing in-process avoids SQLITE_BUSY churn.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database at path, applies the
// connection pragmas, and runs any pending migrations. The database
// file and its directory are created with owner-only permissions.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("restrict store directory: %w", err)
	}

	dsn := "file:" + url.PathEscape(path) + "?" + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(ON)",
		"_txlock=immediate",
	}, "&")

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps every statement on the same WAL session.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{path: path, db: sqlDB}

	if err := db.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0o600); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("restrict store file: %w", err)
	}

	return db, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Execute runs a single statement and returns the number of affected rows.
func (d *DB) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// FetchOne returns the first matching row as a column map, or nil if no
// row matches.
func (d *DB) FetchOne(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := d.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FetchAll returns all matching rows as column maps.
func (d *DB) FetchAll(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Insert inserts one row into table.
func (d *DB) Insert(ctx context.Context, table string, data map[string]any) error {
	query, args := insertQuery("INSERT", table, data)
	_, err := d.Execute(ctx, query, args...)
	return err
}

// Upsert inserts a row, replacing any existing row with the same
// primary key.
func (d *DB) Upsert(ctx context.Context, table string, data map[string]any) error {
	query, args := insertQuery("INSERT OR REPLACE", table, data)
	_, err := d.Execute(ctx, query, args...)
	return err
}

// Update sets the given columns on rows matching the where clause and
// returns the number of rows changed.
func (d *DB) Update(ctx context.Context, table string, data map[string]any, where string, whereArgs ...any) (int64, error) {
	cols := sortedKeys(data)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(whereArgs))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, data[col])
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	return d.Execute(ctx, query, args...)
}

// Delete removes rows matching the where clause and returns the number
// of rows removed.
func (d *DB) Delete(ctx context.Context, table string, where string, whereArgs ...any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	return d.Execute(ctx, query, whereArgs...)
}

// Tx is the handle passed to Transaction callbacks.
type Tx struct {
	tx *sql.Tx
}

// Execute runs a statement inside the transaction.
func (t *Tx) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// FetchOne returns the first matching row inside the transaction.
func (t *Tx) FetchOne(ctx context.Context, query string, args ...any) (map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

// Insert inserts one row inside the transaction.
func (t *Tx) Insert(ctx context.Context, table string, data map[string]any) error {
	query, args := insertQuery("INSERT", table, data)
	_, err := t.Execute(ctx, query, args...)
	return err
}

// Upsert inserts or replaces one row inside the transaction.
func (t *Tx) Upsert(ctx context.Context, table string, data map[string]any) error {
	query, args := insertQuery("INSERT OR REPLACE", table, data)
	_, err := t.Execute(ctx, query, args...)
	return err
}

// Update sets columns inside the transaction.
func (t *Tx) Update(ctx context.Context, table string, data map[string]any, where string, whereArgs ...any) (int64, error) {
	cols := sortedKeys(data)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(whereArgs))
	for i, col := range cols {
		sets[i] = col + " = ?"
		args = append(args, data[col])
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	return t.Execute(ctx, query, args...)
}

// Delete removes rows inside the transaction.
func (t *Tx) Delete(ctx context.Context, table string, where string, whereArgs ...any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	return t.Execute(ctx, query, whereArgs...)
}

// Transaction runs fn inside an immediate (write-reserved) transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
// Immediate mode takes the database write lock at BEGIN, which closes
// the read-then-insert race the lock manager depends on.
func (d *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	// The DSN carries _txlock=immediate, so BeginTx issues BEGIN IMMEDIATE.
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// insertQuery builds an INSERT statement with deterministic column order.
func insertQuery(verb, table string, data map[string]any) (string, []any) {
	cols := sortedKeys(data)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = data[col]
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb, table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return query, args
}

func sortedKeys(data map[string]any) []string {
	cols := make([]string, 0, len(data))
	for col := range data {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// scanRows converts sql.Rows into column maps. []byte values are
// converted to string so callers see text, not driver buffers.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
