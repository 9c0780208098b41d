// Package dualwrite implements the composite storage adapter used while
// migrating between the local and remote stores.
//
// Reads come from the local adapter (source of truth). Writes go to the
// local adapter first and fail the call on error; the remote write is
// queued and applied in the background. A failed remote write never fails
// the local write: it is recorded, retried with exponential backoff, and
// surfaced through Stats and the pollable Errors queue.
package dualwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"planstore/internal/utils"
	"planstore/storage"
)

// queueKey is the reserved local key persisting the retry queue across
// restarts. It never reaches the remote adapter.
const queueKey = "__dualwrite_queue__"

// Config holds dual-write adapter options.
type Config struct {
	Local  storage.Adapter
	Remote storage.Adapter

	// SyncInterval between background queue sweeps. Default 5s.
	SyncInterval time.Duration
	// MaxRetries per queued operation before it is dropped. Default 3.
	MaxRetries int
	// MaxQueueSize bounds the retry queue; the oldest entry is evicted
	// when full. Default 1000.
	MaxQueueSize int
	// MaxErrors bounds the pollable error queue. Default 100.
	MaxErrors int
	// DisableWorker skips starting the background sweeper (tests drive
	// the queue with SyncAll instead).
	DisableWorker bool
}

// queueEntry is one pending remote operation.
type queueEntry struct {
	Key        string    `json:"key"`
	Value      []byte    `json:"value,omitempty"`
	Op         string    `json:"op"` // "set" or "remove"
	QueuedAt   time.Time `json:"queuedAt"`
	RetryCount int       `json:"retryCount"`

	nextAttempt time.Time
}

// SyncError is one recorded remote-write failure.
type SyncError struct {
	Key  string
	Op   string
	Time time.Time
	Err  error
}

// Stats reports aggregate sync health.
type Stats struct {
	TotalAttempts int        `json:"totalAttempts"`
	SuccessCount  int        `json:"successCount"`
	FailureCount  int        `json:"failureCount"`
	QueueSize     int        `json:"queueSize"`
	PendingCount  int        `json:"pendingCount"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
}

// Adapter implements storage.Adapter over a local/remote pair.
type Adapter struct {
	local  storage.Adapter
	remote storage.Adapter

	syncInterval time.Duration
	maxRetries   int
	maxQueueSize int
	maxErrors    int

	mu      sync.Mutex
	queue   map[string]*queueEntry
	order   []string // queue keys in insertion order, for eviction
	pending map[string]bool
	errs    []SyncError
	stats   Stats

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a dual-write adapter and starts its background sync worker
// unless cfg.DisableWorker is set.
func New(cfg Config) *Adapter {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 100
	}

	a := &Adapter{
		local:        cfg.Local,
		remote:       cfg.Remote,
		syncInterval: cfg.SyncInterval,
		maxRetries:   cfg.MaxRetries,
		maxQueueSize: cfg.MaxQueueSize,
		maxErrors:    cfg.MaxErrors,
		queue:        make(map[string]*queueEntry),
		pending:      make(map[string]bool),
		stopCh:       make(chan struct{}),
	}

	a.loadQueue()

	if !cfg.DisableWorker {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

// Get reads from the local adapter, the source of truth.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	return a.local.Get(ctx, key)
}

// Set writes locally (blocking, failure fails the call), then mirrors to
// the remote adapter in the background.
func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	if err := a.local.Set(ctx, key, value); err != nil {
		return err
	}
	a.enqueue(key, value, "set")
	go a.syncOne(key)
	return nil
}

// Remove deletes locally, then mirrors the removal in the background so a
// remote adapter can soft-delete the individual record.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := a.local.Remove(ctx, key); err != nil {
		return err
	}
	a.enqueue(key, nil, "remove")
	go a.syncOne(key)
	return nil
}

// Keys returns the local adapter's keys.
func (a *Adapter) Keys(ctx context.Context) ([]string, error) {
	return a.local.Keys(ctx)
}

// Close stops the worker. It does not close the wrapped adapters; the
// transition controller owns their lifecycles.
func (a *Adapter) Close() error {
	a.Stop()
	return nil
}

// Stop halts the background sync worker. Idempotent.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// Stats returns a snapshot of sync statistics.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.QueueSize = len(a.queue)
	s.PendingCount = len(a.pending)
	return s
}

// Errors drains and returns the recorded remote-write failures, oldest
// first. Polling this queue is the supported way to learn that the remote
// mirror fell behind.
func (a *Adapter) Errors() []SyncError {
	a.mu.Lock()
	defer a.mu.Unlock()
	errs := a.errs
	a.errs = nil
	return errs
}

// SyncAll synchronously processes every queued operation that is due.
func (a *Adapter) SyncAll(ctx context.Context) {
	for _, key := range a.dueKeys(time.Now()) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.syncOne(key)
	}
}

// worker sweeps the queue on a fixed interval.
func (a *Adapter) worker() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.SyncAll(context.Background())
		}
	}
}

// enqueue records a pending remote operation, evicting the oldest entry
// when the queue is full.
func (a *Adapter) enqueue(key string, value []byte, op string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.queue[key]; !exists {
		if len(a.queue) >= a.maxQueueSize && len(a.order) > 0 {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.queue, oldest)
			utils.Warnf("dualwrite: queue full, dropped oldest entry %q", oldest)
		}
		a.order = append(a.order, key)
	}

	a.queue[key] = &queueEntry{
		Key:      key,
		Value:    value,
		Op:       op,
		QueuedAt: time.Now(),
	}
	a.persistQueue()
}

// dueKeys returns queued keys whose backoff window has elapsed.
func (a *Adapter) dueKeys(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.queue))
	for _, key := range a.order {
		entry, ok := a.queue[key]
		if !ok {
			continue
		}
		if entry.nextAttempt.After(now) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// syncOne pushes a single queued operation to the remote adapter.
func (a *Adapter) syncOne(key string) {
	a.mu.Lock()
	entry, ok := a.queue[key]
	if !ok || a.pending[key] {
		a.mu.Unlock()
		return
	}
	a.pending[key] = true
	a.stats.TotalAttempts++
	op, value := entry.Op, entry.Value
	a.mu.Unlock()

	var err error
	if op == "set" {
		err = a.remote.Set(context.Background(), key, value)
	} else {
		err = a.remote.Remove(context.Background(), key)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, key)

	if err == nil {
		a.removeFromQueue(key)
		a.stats.SuccessCount++
		now := time.Now()
		a.stats.LastSyncAt = &now
		a.persistQueue()
		return
	}

	a.stats.FailureCount++
	a.recordError(SyncError{Key: key, Op: op, Time: time.Now(), Err: err})

	// The entry may have been replaced by a newer write while in flight.
	if entry, ok = a.queue[key]; !ok {
		return
	}
	entry.RetryCount++
	if entry.RetryCount >= a.maxRetries {
		utils.Errorf("dualwrite: max retries exceeded for %q, dropping: %v", key, err)
		a.removeFromQueue(key)
		a.recordError(SyncError{
			Key: key, Op: op, Time: time.Now(),
			Err: fmt.Errorf("dropped after %d retries: %w", a.maxRetries, err),
		})
	} else {
		entry.nextAttempt = time.Now().Add(backoffDelay(entry.RetryCount - 1))
		utils.Warnf("dualwrite: remote sync failed for %q (attempt %d/%d): %v",
			key, entry.RetryCount, a.maxRetries, err)
	}
	a.persistQueue()
}

// backoffDelay is the exponential delay before retry n (0-based): 1s, 2s, 4s...
func backoffDelay(retry int) time.Duration {
	return time.Second << uint(retry)
}

// removeFromQueue deletes key from queue and order. Caller holds a.mu.
func (a *Adapter) removeFromQueue(key string) {
	delete(a.queue, key)
	for i, k := range a.order {
		if k == key {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// recordError appends to the bounded error queue. Caller holds a.mu.
func (a *Adapter) recordError(se SyncError) {
	a.errs = append(a.errs, se)
	if len(a.errs) > a.maxErrors {
		a.errs = a.errs[len(a.errs)-a.maxErrors:]
	}
}

// persistQueue saves the queue to the local adapter so pending syncs
// survive a restart. Caller holds a.mu.
func (a *Adapter) persistQueue() {
	entries := make([]*queueEntry, 0, len(a.queue))
	for _, key := range a.order {
		if entry, ok := a.queue[key]; ok {
			entries = append(entries, entry)
		}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := a.local.Set(context.Background(), queueKey, raw); err != nil {
		utils.Debugf("dualwrite: persisting queue failed: %v", err)
	}
}

// loadQueue restores a persisted queue from the local adapter.
func (a *Adapter) loadQueue() {
	raw, err := a.local.Get(context.Background(), queueKey)
	if err != nil || raw == nil {
		return
	}
	var entries []*queueEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		utils.Warnf("dualwrite: discarding corrupt persisted queue: %v", err)
		return
	}
	for _, entry := range entries {
		a.queue[entry.Key] = entry
		a.order = append(a.order, entry.Key)
	}
	if len(entries) > 0 {
		utils.Infof("dualwrite: restored %d queued sync operations", len(entries))
	}
}

// Verify interface compliance at compile time
var _ storage.Adapter = (*Adapter)(nil)
