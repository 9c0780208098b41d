// Package sqlitekv implements the storage.Adapter contract over a local
// SQLite database. It is the local store of the persistence core: a single
// kv_entries table holding raw JSON values per logical key.
package sqlitekv

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"planstore/storage"
)

// Adapter implements storage.Adapter using SQLite.
type Adapter struct {
	db *sql.DB
}

// New opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for an ephemeral database in tests.
func New(path string) (*Adapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	a := &Adapter{db: db}
	if err := a.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return a, nil
}

// initSchema creates the key-value table if it doesn't exist.
func (a *Adapter) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Get returns the value stored under key, or (nil, nil) when absent.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := a.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE key = ?", key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set upserts value under key. The single-statement upsert keeps the write
// atomic: a failure leaves the previous row untouched.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	return err
}

// Remove deletes the row for key. The local store keeps no soft-delete
// state; record keys and collection keys are treated alike.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	_, err := a.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key)
	return err
}

// Keys returns all stored keys.
func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SELECT key FROM kv_entries")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if keys == nil {
		keys = []string{}
	}
	return keys, rows.Err()
}

// Close closes the database connection.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Verify interface compliance at compile time
var _ storage.Adapter = (*Adapter)(nil)
