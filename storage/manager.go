package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"planstore/internal/utils"
)

// Subscriber receives storage events for a key it subscribed to.
type Subscriber func(Event)

// Manager is a thin facade over one active Adapter. It adds JSON
// encoding/decoding, a key-scoped subscription system, and the ability to
// swap the active adapter at runtime. The Manager holds no domain
// knowledge; only the transition controller may call SwapAdapter.
type Manager struct {
	mu      sync.RWMutex
	adapter Adapter

	subMu     sync.Mutex
	subs      map[string]map[int]Subscriber
	nextSubID int

	watchStop func()
}

// NewManager creates a Manager using the given adapter.
func NewManager(adapter Adapter) *Manager {
	m := &Manager{
		adapter: adapter,
		subs:    make(map[string]map[int]Subscriber),
	}
	m.hookWatcher(adapter)
	return m
}

// Adapter returns the currently active adapter.
func (m *Manager) Adapter() Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapter
}

// Get reads key and JSON-decodes it into out. It returns false when the
// key is absent; out is left untouched in that case.
func (m *Manager) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := m.Adapter().Get(ctx, key)
	if err != nil {
		return false, &Error{Op: "get", Key: key, Err: err}
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, &Error{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

// Set JSON-encodes value, persists it under key and notifies subscribers.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &Error{Op: "encode", Key: key, Err: err}
	}

	adapter := m.Adapter()

	// Old value is only read when someone is listening for it.
	var old []byte
	if m.hasSubscribers(key) {
		old, _ = adapter.Get(ctx, key)
	}

	if err := adapter.Set(ctx, key, raw); err != nil {
		return &Error{Op: "set", Key: key, Err: err}
	}

	m.notify(Event{Key: key, Value: raw, OldValue: old, Operation: OpSet, Time: time.Now()})
	return nil
}

// Remove deletes key and notifies subscribers.
func (m *Manager) Remove(ctx context.Context, key string) error {
	adapter := m.Adapter()

	var old []byte
	if m.hasSubscribers(key) {
		old, _ = adapter.Get(ctx, key)
	}

	if err := adapter.Remove(ctx, key); err != nil {
		return &Error{Op: "remove", Key: key, Err: err}
	}

	m.notify(Event{Key: key, OldValue: old, Operation: OpRemove, Time: time.Now()})
	return nil
}

// Keys returns all keys of the active adapter.
func (m *Manager) Keys(ctx context.Context) ([]string, error) {
	keys, err := m.Adapter().Keys(ctx)
	if err != nil {
		return nil, &Error{Op: "keys", Err: err}
	}
	return keys, nil
}

// Subscribe registers fn for events on key and returns an unsubscribe
// function. Callbacks run synchronously on the mutation path; a slow
// subscriber delays later notifications and should enqueue its own work.
func (m *Manager) Subscribe(key string, fn Subscriber) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++

	if m.subs[key] == nil {
		m.subs[key] = make(map[int]Subscriber)
	}
	m.subs[key][id] = fn

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs[key], id)
		if len(m.subs[key]) == 0 {
			delete(m.subs, key)
		}
	}
}

// SwapAdapter replaces the active adapter and re-emits a swap event on
// every subscribed key so consumers re-read fresh state from the new
// store. The previous adapter is returned to the caller, who owns closing
// it.
func (m *Manager) SwapAdapter(adapter Adapter) Adapter {
	m.mu.Lock()
	prev := m.adapter
	m.adapter = adapter
	m.mu.Unlock()

	if m.watchStop != nil {
		m.watchStop()
		m.watchStop = nil
	}
	m.hookWatcher(adapter)

	m.subMu.Lock()
	keys := make([]string, 0, len(m.subs))
	for key := range m.subs {
		keys = append(keys, key)
	}
	m.subMu.Unlock()

	now := time.Now()
	for _, key := range keys {
		raw, _ := adapter.Get(context.Background(), key)
		m.notify(Event{Key: key, Value: raw, Operation: OpSwap, Time: now})
	}
	return prev
}

// hasSubscribers reports whether anyone listens on key.
func (m *Manager) hasSubscribers(key string) bool {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	return len(m.subs[key]) > 0
}

// notify delivers ev to all subscribers of ev.Key. A panicking subscriber
// is logged and skipped so it cannot break the mutation path.
func (m *Manager) notify(ev Event) {
	m.subMu.Lock()
	fns := make([]Subscriber, 0, len(m.subs[ev.Key]))
	for _, fn := range m.subs[ev.Key] {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					utils.GetLogger().Error("storage subscriber for %q panicked: %v", ev.Key, r)
				}
			}()
			fn(ev)
		}()
	}
}

// hookWatcher forwards adapter-level change notifications (changes made by
// other processes) into the local subscription system.
func (m *Manager) hookWatcher(adapter Adapter) {
	w, ok := adapter.(Watcher)
	if !ok {
		return
	}
	m.watchStop = w.Watch("", func(ev Event) {
		m.notify(ev)
	})
}
