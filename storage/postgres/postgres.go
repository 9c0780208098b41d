// Package postgres implements the storage.Adapter contract over a remote
// PostgreSQL database.
//
// Collections live as JSONB blobs in kv_entries. Removing a record key
// ("<collection>:<id>") does not rewrite the collection blob; it writes a
// tombstone row into kv_records so the relational side can soft-delete the
// individual record. Every write emits pg_notify so other processes can
// observe changes through Watch.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"planstore/internal/utils"
	"planstore/storage"
)

// notifyChannel is the pg_notify channel carrying changed keys.
const notifyChannel = "planstore_changes"

// Adapter implements storage.Adapter using PostgreSQL.
type Adapter struct {
	db  *sql.DB
	dsn string
}

// New connects to the database at dsn and initializes the schema.
func New(dsn string) (*Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	a := &Adapter{db: db, dsn: dsn}
	if err := a.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return a, nil
}

// initSchema creates the storage tables if they don't exist.
func (a *Adapter) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS kv_records (
			collection TEXT NOT NULL,
			record_id TEXT NOT NULL,
			deleted_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, record_id)
		);

		CREATE INDEX IF NOT EXISTS idx_kv_records_deleted ON kv_records(collection, deleted_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Get returns the value stored under key, or (nil, nil) when absent.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := a.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE key = $1", key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set upserts value under key and notifies listeners.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return err
	}

	a.markRecordsLive(ctx, key, value)
	a.notify(ctx, key)
	return nil
}

// Remove deletes a key. A record key ("<collection>:<id>") becomes a
// soft delete of that individual record; a plain collection key drops the
// collection blob.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if collection, id, ok := storage.SplitRecordKey(key); ok {
		_, err := a.db.ExecContext(ctx,
			`INSERT INTO kv_records (collection, record_id, deleted_at, updated_at)
			 VALUES ($1, $2, now(), now())
			 ON CONFLICT (collection, record_id)
			 DO UPDATE SET deleted_at = now(), updated_at = now()`,
			collection, id,
		)
		if err != nil {
			return err
		}
		a.notify(ctx, key)
		return nil
	}

	_, err := a.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = $1", key)
	if err != nil {
		return err
	}
	a.notify(ctx, key)
	return nil
}

// Keys returns all collection keys.
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

// DeletedRecords returns the soft-deleted record ids of a collection.
// Operational tooling uses this to reconcile tombstones.
func (a *Adapter) DeletedRecords(ctx context.Context, collection string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT record_id FROM kv_records WHERE collection = $1 AND deleted_at IS NOT NULL",
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if ids == nil {
		ids = []string{}
	}
	return ids, rows.Err()
}

// markRecordsLive clears tombstones for ids present in a freshly written
// collection blob, so a re-created entity is no longer considered deleted.
func (a *Adapter) markRecordsLive(ctx context.Context, key string, value []byte) {
	if _, _, isRecord := storage.SplitRecordKey(key); isRecord {
		return
	}

	var records []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(value, &records); err != nil {
		return // not a collection array, nothing to reconcile
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	_, err := a.db.ExecContext(ctx,
		`UPDATE kv_records SET deleted_at = NULL, updated_at = now()
		 WHERE collection = $1 AND record_id = ANY($2) AND deleted_at IS NOT NULL`,
		key, pq.Array(ids),
	)
	if err != nil {
		utils.Warnf("postgres: tombstone reconcile for %q failed: %v", key, err)
	}
}

// notify emits the changed key on the pg_notify channel. Best effort: a
// failed notify never fails the write it describes.
func (a *Adapter) notify(ctx context.Context, key string) {
	if _, err := a.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, key); err != nil {
		utils.Debugf("postgres: notify for %q failed: %v", key, err)
	}
}

// Watch subscribes to cross-process change notifications via LISTEN/NOTIFY.
// An empty key watches every key. Events carry the key and, best effort,
// the current value.
func (a *Adapter) Watch(key string, fn func(storage.Event)) (stop func()) {
	listener := pq.NewListener(a.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			utils.Warnf("postgres: listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		utils.Warnf("postgres: LISTEN failed, change watch disabled: %v", err)
		_ = listener.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					continue // reconnect ping
				}
				changed := n.Extra
				if key != "" && changed != key {
					continue
				}
				value, _ := a.Get(context.Background(), changed)
				fn(storage.Event{
					Key:       changed,
					Value:     value,
					Operation: storage.OpSet,
					Time:      time.Now(),
				})
			}
		}
	}()

	return func() {
		close(done)
		_ = listener.Close()
	}
}

// Verify interface compliance at compile time
var _ storage.Adapter = (*Adapter)(nil)
var _ storage.Watcher = (*Adapter)(nil)
