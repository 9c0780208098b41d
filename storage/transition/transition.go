// Package transition owns the storage mode state machine. It is the only
// component allowed to swap the Manager's active adapter at runtime.
//
//	localStorage --(enable sync)--> dualwrite
//	dualwrite    --(cut over)-----> remote
//	remote       --(rollback)-----> dualwrite
//	dualwrite    --(emergency)----> localStorage
package transition

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"planstore/internal/utils"
	"planstore/storage"
	"planstore/storage/dualwrite"
)

// Mode is an operating mode of the storage core. The string values are
// the wire names used by the admin control surface.
type Mode string

const (
	ModeLocalOnly  Mode = "localStorage"
	ModeDualWrite  Mode = "dualwrite"
	ModeRemoteOnly Mode = "remote"
)

// Result reports the outcome of a transition. Partial failures are
// reported via Errors and never panic or throw; callers must check
// Success explicitly.
type Result struct {
	Success   bool      `json:"success"`
	Mode      Mode      `json:"mode"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Errors    []string  `json:"errors,omitempty"`
}

// Controller switches the Manager between storage modes.
type Controller struct {
	mu      sync.Mutex
	manager *storage.Manager
	local   storage.Adapter
	remote  storage.Adapter // nil when no remote is configured
	dual    *dualwrite.Adapter
	dualCfg dualwrite.Config
	mode    Mode
}

// New creates a controller starting in the given mode. The remote adapter
// may be nil, in which case only local-only mode is reachable. dualCfg's
// Local/Remote fields are filled in by the controller.
func New(manager *storage.Manager, local, remote storage.Adapter, mode Mode, dualCfg dualwrite.Config) (*Controller, error) {
	c := &Controller{
		manager: manager,
		local:   local,
		remote:  remote,
		dualCfg: dualCfg,
		mode:    ModeLocalOnly,
	}

	switch mode {
	case ModeLocalOnly, "":
		manager.SwapAdapter(local)
	case ModeDualWrite:
		if remote == nil {
			return nil, fmt.Errorf("transition: dualwrite mode requires a remote adapter")
		}
		c.dual = c.newDual()
		manager.SwapAdapter(c.dual)
		c.mode = ModeDualWrite
	case ModeRemoteOnly:
		if remote == nil {
			return nil, fmt.Errorf("transition: remote mode requires a remote adapter")
		}
		manager.SwapAdapter(remote)
		c.mode = ModeRemoteOnly
	default:
		return nil, fmt.Errorf("transition: unknown mode %q", mode)
	}
	return c, nil
}

// CurrentMode returns the mode the Manager is actually using, plus
// mode-specific details (dual-write sync stats in dualwrite mode).
func (c *Controller) CurrentMode() (Mode, map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	details := map[string]any{}
	switch c.mode {
	case ModeDualWrite:
		if c.dual != nil {
			details["syncEnabled"] = true
			raw, _ := json.Marshal(c.dual.Stats())
			_ = json.Unmarshal(raw, &details)
		}
	case ModeLocalOnly:
		details["message"] = "using local storage adapter"
	case ModeRemoteOnly:
		details["message"] = "using remote adapter"
	}
	return c.mode, details
}

// DualWrite returns the active dual-write adapter, or nil outside
// dualwrite mode. Monitoring reads sync stats through it.
func (c *Controller) DualWrite() *dualwrite.Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dual
}

// EnableDualWrite transitions localStorage -> dualwrite.
func (c *Controller) EnableDualWrite(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeDualWrite {
		return c.done(true, "already in dual-write mode", nil)
	}
	if c.remote == nil {
		return c.done(false, "no remote adapter configured", []string{"remote adapter unavailable"})
	}

	c.dual = c.newDual()
	c.manager.SwapAdapter(c.dual)
	c.mode = ModeDualWrite
	utils.Infof("transition: dual-write mode enabled")
	return c.done(true, "dual-write mode enabled", nil)
}

// CutOverToRemote transitions dualwrite -> remote. Before swapping it
// flushes the sync queue and validates that every collection holds the
// same number of records on both sides; a mismatch aborts the cut-over.
func (c *Controller) CutOverToRemote(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeRemoteOnly {
		return c.done(true, "already in remote-only mode", nil)
	}
	if c.mode != ModeDualWrite || c.dual == nil {
		return c.done(false, "cut-over requires dual-write mode", []string{
			fmt.Sprintf("current mode is %s", c.mode),
		})
	}

	c.dual.SyncAll(ctx)
	if errs := c.validateParity(ctx); len(errs) > 0 {
		return c.done(false, "data validation failed, staying in dual-write mode", errs)
	}

	c.dual.Stop()
	c.manager.SwapAdapter(c.remote)
	c.dual = nil
	c.mode = ModeRemoteOnly
	utils.Infof("transition: cut over to remote-only mode")
	return c.done(true, "cut over to remote-only mode", nil)
}

// RollbackToDualWrite transitions remote -> dualwrite. Idempotent: asking
// for the mode already active succeeds without side effects.
func (c *Controller) RollbackToDualWrite(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeDualWrite {
		return c.done(true, "already in dual-write mode", nil)
	}
	if c.remote == nil {
		return c.done(false, "no remote adapter configured", []string{"remote adapter unavailable"})
	}

	var errs []string
	if c.mode == ModeRemoteOnly {
		// Re-seed the local copy so dual-write reads see current data.
		errs = c.copyCollections(ctx, c.remote, c.local)
	}

	c.dual = c.newDual()
	c.manager.SwapAdapter(c.dual)
	c.mode = ModeDualWrite
	utils.Infof("transition: rolled back to dual-write mode")
	return c.done(true, "rolled back to dual-write mode", errs)
}

// EmergencyFallbackToLocal transitions any mode -> localStorage. The
// remote copy is pulled down best-effort first. After this transition the
// remote adapter is no longer authoritative, so per-user metrics are
// unavailable; that is a deliberate, documented limitation.
func (c *Controller) EmergencyFallbackToLocal(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == ModeLocalOnly {
		return c.done(true, "already in local-only mode", nil)
	}

	utils.Warnf("transition: emergency fallback to local-only mode")

	var errs []string
	if c.remote != nil {
		errs = c.copyCollections(ctx, c.remote, c.local)
	}

	if c.dual != nil {
		c.dual.Stop()
		c.dual = nil
	}

	c.manager.SwapAdapter(c.local)
	c.mode = ModeLocalOnly
	return c.done(true, "emergency fallback to local-only mode complete", errs)
}

// newDual builds a fresh dual-write adapter from the configured pair.
func (c *Controller) newDual() *dualwrite.Adapter {
	cfg := c.dualCfg
	cfg.Local = c.local
	cfg.Remote = c.remote
	return dualwrite.New(cfg)
}

// copyCollections copies every collection key from src to dst, best
// effort. Individual failures are collected, not fatal.
func (c *Controller) copyCollections(ctx context.Context, src, dst storage.Adapter) []string {
	var errs []string
	for _, key := range storage.CollectionKeys() {
		raw, err := src.Get(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Sprintf("read %q: %v", key, err))
			continue
		}
		if raw == nil {
			continue
		}
		if err := dst.Set(ctx, key, raw); err != nil {
			errs = append(errs, fmt.Sprintf("write %q: %v", key, err))
		}
	}
	return errs
}

// validateParity compares record counts per collection between local and
// remote stores.
func (c *Controller) validateParity(ctx context.Context) []string {
	var errs []string
	for _, key := range storage.CollectionKeys() {
		localCount, err := countRecords(ctx, c.local, key)
		if err != nil {
			errs = append(errs, fmt.Sprintf("local %q: %v", key, err))
			continue
		}
		remoteCount, err := countRecords(ctx, c.remote, key)
		if err != nil {
			errs = append(errs, fmt.Sprintf("remote %q: %v", key, err))
			continue
		}
		if localCount != remoteCount {
			errs = append(errs, fmt.Sprintf("%s: local(%d) vs remote(%d)", key, localCount, remoteCount))
		}
	}
	return errs
}

// countRecords counts the entities of a collection blob.
func countRecords(ctx context.Context, a storage.Adapter, key string) (int, error) {
	raw, err := a.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// done builds a Result stamped with now. Caller holds c.mu.
func (c *Controller) done(success bool, message string, errs []string) Result {
	return Result{
		Success:   success,
		Mode:      c.mode,
		Message:   message,
		Timestamp: time.Now(),
		Errors:    errs,
	}
}
