// Package monitoring derives storage health from dual-write sync
// statistics. The admin control surface uses it to decide which rollback
// targets to recommend.
package monitoring

import (
	"fmt"
	"strings"

	"planstore/storage/dualwrite"
	"planstore/storage/transition"
)

// Health status levels, healthiest first.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusError    = "error"
	StatusCritical = "critical"
)

// Health is a scored summary of storage sync health.
type Health struct {
	Status string   `json:"status"`
	Score  int      `json:"score"`
	Issues []string `json:"issues"`
}

// Service computes health summaries over the transition controller's
// current state.
type Service struct {
	ctrl *transition.Controller

	// Thresholds, overridable in tests.
	MinSuccessRate float64 // percent, default 90
	MaxQueueSize   int     // default 100
}

// New creates a monitoring service over the given controller.
func New(ctrl *transition.Controller) *Service {
	return &Service{ctrl: ctrl, MinSuccessRate: 90, MaxQueueSize: 100}
}

// Summary computes the current health score. Outside dual-write mode
// there is no sync machinery to degrade, so the score stays 100.
func (s *Service) Summary() Health {
	h := Health{Status: StatusHealthy, Score: 100, Issues: []string{}}

	dual := s.ctrl.DualWrite()
	if dual == nil {
		return h
	}
	return s.fromStats(dual.Stats())
}

// fromStats scores a dual-write stats snapshot.
func (s *Service) fromStats(stats dualwrite.Stats) Health {
	h := Health{Score: 100, Issues: []string{}}

	if stats.TotalAttempts > 0 {
		rate := float64(stats.SuccessCount) / float64(stats.TotalAttempts) * 100
		if rate < s.MinSuccessRate {
			h.Issues = append(h.Issues, fmt.Sprintf("Low sync success rate: %.1f%%", rate))
			h.Score -= 20
		}
	}
	if stats.FailureCount > stats.SuccessCount {
		h.Issues = append(h.Issues, "Sync failures outnumber successes")
		h.Score -= 15
	}
	if stats.QueueSize > s.MaxQueueSize {
		h.Issues = append(h.Issues, fmt.Sprintf("Large sync queue: %d operations", stats.QueueSize))
		h.Score -= 10
	}
	if stats.QueueSize > 10*s.MaxQueueSize {
		h.Issues = append(h.Issues, fmt.Sprintf("Sync queue saturated: %d operations", stats.QueueSize))
		h.Score -= 10
	}
	if stats.FailureCount > 0 && stats.LastSyncAt == nil {
		h.Issues = append(h.Issues, "No successful sync since startup")
		h.Score -= 30
	}

	h.Status = statusFor(h.Score)
	return h
}

// Recommendations maps current issues to operator actions.
func (s *Service) Recommendations(h Health) []string {
	recs := []string{}
	for _, issue := range h.Issues {
		switch {
		case strings.Contains(issue, "success rate"):
			recs = append(recs, "Review error logs and check remote availability")
		case strings.Contains(issue, "outnumber"):
			recs = append(recs, "Remote writes are failing persistently; investigate before the queue fills")
		case strings.Contains(issue, "saturated"):
			recs = append(recs, "Sync queue is saturated and evicting operations; roll back to avoid data divergence")
		case strings.Contains(issue, "sync queue"):
			recs = append(recs, "Check remote write throughput; consider rollback if the queue keeps growing")
		case strings.Contains(issue, "successful sync"):
			recs = append(recs, "Verify remote connectivity and credentials")
		}
	}
	if h.Status == StatusCritical {
		recs = append(recs, "Consider emergency fallback to local-only mode")
	}
	return recs
}

func statusFor(score int) string {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 60:
		return StatusWarning
	case score >= 40:
		return StatusError
	default:
		return StatusCritical
	}
}
