package transition

import (
	"context"
	"testing"

	"planstore/storage"
	"planstore/storage/dualwrite"
)

func mustController(t *testing.T, mode Mode) (*Controller, *storage.Manager, *storage.MemoryAdapter, *storage.MemoryAdapter) {
	t.Helper()
	local := storage.NewMemoryAdapter()
	remote := storage.NewMemoryAdapter()
	manager := storage.NewManager(local)
	ctrl, err := New(manager, local, remote, mode, dualwrite.Config{DisableWorker: true})
	if err != nil {
		t.Fatalf("New controller error: %v", err)
	}
	return ctrl, manager, local, remote
}

// TestInitialMode verifies the controller starts in the requested mode
// and the accessor reflects it.
func TestInitialMode(t *testing.T) {
	for _, mode := range []Mode{ModeLocalOnly, ModeDualWrite, ModeRemoteOnly} {
		ctrl, _, _, _ := mustController(t, mode)
		if got, _ := ctrl.CurrentMode(); got != mode {
			t.Errorf("CurrentMode = %s, want %s", got, mode)
		}
	}
}

// TestDualWriteRequiresRemote verifies modes needing a remote adapter
// fail construction without one.
func TestDualWriteRequiresRemote(t *testing.T) {
	local := storage.NewMemoryAdapter()
	manager := storage.NewManager(local)
	if _, err := New(manager, local, nil, ModeDualWrite, dualwrite.Config{}); err == nil {
		t.Error("dualwrite mode accepted without a remote adapter")
	}
	if _, err := New(manager, local, nil, ModeRemoteOnly, dualwrite.Config{}); err == nil {
		t.Error("remote mode accepted without a remote adapter")
	}
}

// TestTransitionsAreIdempotent verifies asking for the active mode
// succeeds without side effects.
func TestTransitionsAreIdempotent(t *testing.T) {
	ctx := context.Background()

	ctrl, _, _, _ := mustController(t, ModeDualWrite)
	before := ctrl.DualWrite()
	res := ctrl.EnableDualWrite(ctx)
	if !res.Success {
		t.Errorf("EnableDualWrite on dualwrite mode failed: %+v", res)
	}
	if ctrl.DualWrite() != before {
		t.Error("idempotent transition rebuilt the dual-write adapter")
	}

	ctrl2, _, _, _ := mustController(t, ModeLocalOnly)
	res = ctrl2.EmergencyFallbackToLocal(ctx)
	if !res.Success {
		t.Errorf("EmergencyFallbackToLocal on local mode failed: %+v", res)
	}
}

// TestEnableDualWriteSwapsAdapter verifies local -> dualwrite swaps the
// manager's active adapter.
func TestEnableDualWriteSwapsAdapter(t *testing.T) {
	ctrl, manager, _, _ := mustController(t, ModeLocalOnly)

	res := ctrl.EnableDualWrite(context.Background())
	if !res.Success || res.Mode != ModeDualWrite {
		t.Fatalf("EnableDualWrite = %+v", res)
	}
	if _, ok := manager.Adapter().(*dualwrite.Adapter); !ok {
		t.Errorf("active adapter is %T, want *dualwrite.Adapter", manager.Adapter())
	}
}

// TestCutOverValidatesParity verifies a record count mismatch aborts the
// cut-over and keeps dual-write mode.
func TestCutOverValidatesParity(t *testing.T) {
	ctx := context.Background()
	ctrl, _, local, remote := mustController(t, ModeDualWrite)

	if err := local.Set(ctx, storage.KeyTasks, []byte(`[{"id":"1"},{"id":"2"}]`)); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	if err := remote.Set(ctx, storage.KeyTasks, []byte(`[{"id":"1"}]`)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	res := ctrl.CutOverToRemote(ctx)
	if res.Success {
		t.Fatal("cut-over succeeded despite count mismatch")
	}
	if len(res.Errors) == 0 {
		t.Error("cut-over result carries no validation errors")
	}
	if mode, _ := ctrl.CurrentMode(); mode != ModeDualWrite {
		t.Errorf("mode = %s after aborted cut-over, want dualwrite", mode)
	}
}

// TestCutOverSucceedsOnParity verifies a matching pair cuts over to the
// remote adapter.
func TestCutOverSucceedsOnParity(t *testing.T) {
	ctx := context.Background()
	ctrl, manager, local, remote := mustController(t, ModeDualWrite)

	blob := []byte(`[{"id":"1"}]`)
	if err := local.Set(ctx, storage.KeyTasks, blob); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	if err := remote.Set(ctx, storage.KeyTasks, blob); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	res := ctrl.CutOverToRemote(ctx)
	if !res.Success || res.Mode != ModeRemoteOnly {
		t.Fatalf("CutOverToRemote = %+v", res)
	}
	if manager.Adapter() != remote {
		t.Error("active adapter is not the remote after cut-over")
	}
	if ctrl.DualWrite() != nil {
		t.Error("dual-write adapter still present after cut-over")
	}
}

// TestRollbackReseedsLocal verifies remote -> dualwrite copies the remote
// collections down before swapping.
func TestRollbackReseedsLocal(t *testing.T) {
	ctx := context.Background()
	ctrl, _, local, remote := mustController(t, ModeRemoteOnly)

	if err := remote.Set(ctx, storage.KeyTasks, []byte(`[{"id":"r1"}]`)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	res := ctrl.RollbackToDualWrite(ctx)
	if !res.Success || res.Mode != ModeDualWrite {
		t.Fatalf("RollbackToDualWrite = %+v", res)
	}

	got, err := local.Get(ctx, storage.KeyTasks)
	if err != nil || string(got) != `[{"id":"r1"}]` {
		t.Errorf("local tasks = %s (err %v), want remote copy", got, err)
	}
}

// TestEmergencyFallbackCopiesBestEffort verifies the fallback pulls the
// remote data down and lands in local-only mode even when some reads
// fail.
func TestEmergencyFallbackCopiesBestEffort(t *testing.T) {
	ctx := context.Background()
	ctrl, manager, local, remote := mustController(t, ModeDualWrite)

	if err := remote.Set(ctx, storage.KeyEvents, []byte(`[{"id":"e1"}]`)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	res := ctrl.EmergencyFallbackToLocal(ctx)
	if !res.Success || res.Mode != ModeLocalOnly {
		t.Fatalf("EmergencyFallbackToLocal = %+v", res)
	}
	if manager.Adapter() != local {
		t.Error("active adapter is not the local store after fallback")
	}

	got, err := local.Get(ctx, storage.KeyEvents)
	if err != nil || string(got) != `[{"id":"e1"}]` {
		t.Errorf("local events = %s (err %v), want remote copy", got, err)
	}
}
