// Package storage defines the adapter contract shared by all physical
// stores and the Manager facade that the repository layer talks to.
//
// Values crossing the adapter boundary are raw JSON bytes; encoding and
// decoding happen in the Manager so every adapter stays a dumb key-value
// store.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Adapter is the contract any concrete storage backend must implement.
//
// Get returns (nil, nil) when the key is absent. Set must be atomic from
// the caller's point of view: a failed write leaves the prior value
// observable, never a partial one. Remove of a record key (see RecordKey)
// is a per-record deletion signal; a remote adapter translates it into a
// soft delete of that individual record.
type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Watcher is an optional interface for adapters that can observe changes
// made by other processes. The Manager hooks it when present; adapters
// without it rely on Manager-local fan-out only.
type Watcher interface {
	Watch(key string, fn func(Event)) (stop func())
}

// Operation identifies what kind of mutation produced an Event.
type Operation string

const (
	OpSet    Operation = "set"
	OpRemove Operation = "remove"
	OpClear  Operation = "clear"
	OpSwap   Operation = "swap"
)

// Event describes a storage mutation delivered to subscribers.
type Event struct {
	Key       string
	Value     json.RawMessage
	OldValue  json.RawMessage
	Operation Operation
	Time      time.Time
}

// Error wraps a storage failure with the operation and key it occurred on.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RecordKey builds the per-record composite key for one entity inside a
// collection, e.g. RecordKey("tasks", id) -> "tasks:<id>".
func RecordKey(collection, id string) string {
	return collection + ":" + id
}

// SplitRecordKey splits a composite key into collection and record id.
// ok is false for plain collection keys.
func SplitRecordKey(key string) (collection, id string, ok bool) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return key, "", false
	}
	return key[:i], key[i+1:], true
}

// Collection keys. Each entity type occupies a single logical key holding
// a JSON array of that type's entities.
const (
	KeyTasks        = "tasks"
	KeyEvents       = "events"
	KeyActivityLogs = "activity_logs"
	KeyTodoSections = "todo_sections"
)

// CollectionKeys lists every collection key, in the order transitions copy
// them between stores.
func CollectionKeys() []string {
	return []string{KeyTasks, KeyEvents, KeyActivityLogs, KeyTodoSections}
}
