package monitoring

import (
	"testing"
	"time"

	"planstore/storage"
	"planstore/storage/dualwrite"
	"planstore/storage/transition"
)

func newTestService(t *testing.T, mode transition.Mode) *Service {
	t.Helper()
	local := storage.NewMemoryAdapter()
	remote := storage.NewMemoryAdapter()
	ctrl, err := transition.New(storage.NewManager(local), local, remote, mode, dualwrite.Config{DisableWorker: true})
	if err != nil {
		t.Fatalf("controller error: %v", err)
	}
	return New(ctrl)
}

// TestSummaryOutsideDualWrite verifies there is nothing to degrade
// without sync machinery.
func TestSummaryOutsideDualWrite(t *testing.T) {
	for _, mode := range []transition.Mode{transition.ModeLocalOnly, transition.ModeRemoteOnly} {
		s := newTestService(t, mode)
		h := s.Summary()
		if h.Score != 100 || h.Status != StatusHealthy || len(h.Issues) != 0 {
			t.Errorf("mode %s: health = %+v, want a clean 100", mode, h)
		}
	}
}

// TestScoring walks the deduction table and the status thresholds.
func TestScoring(t *testing.T) {
	s := newTestService(t, transition.ModeDualWrite)
	syncedAt := time.Now()

	tests := []struct {
		name       string
		stats      dualwrite.Stats
		wantScore  int
		wantStatus string
	}{
		{
			name:       "clean",
			stats:      dualwrite.Stats{TotalAttempts: 10, SuccessCount: 10, LastSyncAt: &syncedAt},
			wantScore:  100,
			wantStatus: StatusHealthy,
		},
		{
			name:       "low success rate",
			stats:      dualwrite.Stats{TotalAttempts: 10, SuccessCount: 5, FailureCount: 5, LastSyncAt: &syncedAt},
			wantScore:  80,
			wantStatus: StatusHealthy,
		},
		{
			name:       "low rate and large queue",
			stats:      dualwrite.Stats{TotalAttempts: 10, SuccessCount: 5, FailureCount: 5, QueueSize: 150, LastSyncAt: &syncedAt},
			wantScore:  70,
			wantStatus: StatusWarning,
		},
		{
			name:       "never synced with failures",
			stats:      dualwrite.Stats{TotalAttempts: 10, FailureCount: 10},
			wantScore:  35,
			wantStatus: StatusCritical,
		},
		{
			name:       "everything wrong",
			stats:      dualwrite.Stats{TotalAttempts: 10, FailureCount: 10, QueueSize: 1500},
			wantScore:  15,
			wantStatus: StatusCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := s.fromStats(tt.stats)
			if h.Score != tt.wantScore || h.Status != tt.wantStatus {
				t.Errorf("health = %d/%s, want %d/%s (issues: %v)",
					h.Score, h.Status, tt.wantScore, tt.wantStatus, h.Issues)
			}
		})
	}
}

// TestRecommendations verifies each issue maps to an action and that
// computed critical health carries the fallback advice.
func TestRecommendations(t *testing.T) {
	s := newTestService(t, transition.ModeDualWrite)

	h := s.fromStats(dualwrite.Stats{TotalAttempts: 10, FailureCount: 10, QueueSize: 150})
	if h.Status != StatusCritical {
		t.Fatalf("status = %s, want critical", h.Status)
	}

	recs := s.Recommendations(h)
	if len(recs) != len(h.Issues)+1 {
		t.Errorf("recommendations = %v, want one per issue plus the fallback advice", recs)
	}
	found := false
	for _, r := range recs {
		if r == "Consider emergency fallback to local-only mode" {
			found = true
		}
	}
	if !found {
		t.Errorf("critical health missing fallback advice: %v", recs)
	}

	if got := s.Recommendations(Health{Status: StatusHealthy}); len(got) != 0 {
		t.Errorf("healthy recommendations = %v, want none", got)
	}
}
