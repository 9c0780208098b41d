package service

import (
	"context"
	"testing"
	"time"

	"planstore/entity"
	"planstore/storage"
)

// logFixture builds an activity log service with a controllable clock.
func logFixture(t *testing.T) (*ActivityLogService, *time.Time, context.Context) {
	t.Helper()
	mgr := storage.NewManager(storage.NewMemoryAdapter())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rt := Runtime{
		DeviceID: "device-test",
		Now:      func() time.Time { return now },
	}
	lookup := UserLookupFunc(func(userID string) (UserInfo, bool) {
		if userID == "u1" {
			return UserInfo{Name: "Jang Hana", Initials: "JH"}, true
		}
		return UserInfo{}, false
	})
	return NewActivityLogService(mgr, rt, lookup), &now, context.Background()
}

func mustLog(t *testing.T, s *ActivityLogService, ctx context.Context, in LogInput) *entity.ActivityLog {
	t.Helper()
	if in.Type == "" {
		in.Type = entity.ActivityCreate
	}
	if in.Action == "" {
		in.Action = "created"
	}
	if in.EntityType == "" {
		in.EntityType = entity.KindTask
	}
	if in.EntityID == "" {
		in.EntityID = "e1"
	}
	if in.UserID == "" {
		in.UserID = "u1"
	}
	entry, err := s.Log(ctx, in)
	if err != nil {
		t.Fatalf("Log error: %v", err)
	}
	return entry
}

// TestLogResolvesUserIdentity verifies display identity comes from the
// lookup, with a raw-id fallback for unknown users.
func TestLogResolvesUserIdentity(t *testing.T) {
	s, _, ctx := logFixture(t)

	known := mustLog(t, s, ctx, LogInput{UserID: "u1"})
	if known.UserName != "Jang Hana" || known.UserInitials != "JH" {
		t.Errorf("known user identity = %q/%q", known.UserName, known.UserInitials)
	}

	unknown := mustLog(t, s, ctx, LogInput{UserID: "stranger"})
	if unknown.UserName != "stranger" {
		t.Errorf("unknown user name = %q, want raw id", unknown.UserName)
	}
}

// TestQueryFiltersAndSort verifies filter fields combine and the default
// sort is timestamp descending.
func TestQueryFiltersAndSort(t *testing.T) {
	s, now, ctx := logFixture(t)

	mustLog(t, s, ctx, LogInput{Type: entity.ActivityCreate, EntityID: "a"})
	*now = now.Add(time.Hour)
	mustLog(t, s, ctx, LogInput{Type: entity.ActivityUpdate, EntityID: "a"})
	*now = now.Add(time.Hour)
	mustLog(t, s, ctx, LogInput{Type: entity.ActivityDelete, EntityID: "b", UserID: "u2"})

	// Default sort: newest first.
	all, err := s.Query(ctx, LogFilter{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(all) != 3 || all[0].Type != entity.ActivityDelete {
		t.Errorf("default sort returned %+v", typesOf(all))
	}

	// Entity filter.
	forA, _ := s.Query(ctx, LogFilter{EntityID: "a"})
	if len(forA) != 2 {
		t.Errorf("EntityID filter returned %d, want 2", len(forA))
	}

	// Type + user filter combine.
	got, _ := s.Query(ctx, LogFilter{
		Types:  []entity.ActivityType{entity.ActivityDelete},
		UserID: "u2",
	})
	if len(got) != 1 {
		t.Errorf("combined filter returned %d, want 1", len(got))
	}

	// Time window.
	start := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	windowed, _ := s.Query(ctx, LogFilter{Start: &start})
	if len(windowed) != 2 {
		t.Errorf("time window returned %d, want 2", len(windowed))
	}

	// Offset and limit page through the sorted result.
	paged, _ := s.Query(ctx, LogFilter{Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0].Type != entity.ActivityUpdate {
		t.Errorf("paged result = %v", typesOf(paged))
	}
}

func typesOf(logs []entity.ActivityLog) []entity.ActivityType {
	out := make([]entity.ActivityType, 0, len(logs))
	for i := range logs {
		out = append(out, logs[i].Type)
	}
	return out
}

// TestCountsByType verifies the per-type aggregation.
func TestCountsByType(t *testing.T) {
	s, _, ctx := logFixture(t)

	mustLog(t, s, ctx, LogInput{Type: entity.ActivityCreate})
	mustLog(t, s, ctx, LogInput{Type: entity.ActivityCreate})
	mustLog(t, s, ctx, LogInput{Type: entity.ActivityDelete})

	counts, err := s.CountsByType(ctx, nil, nil)
	if err != nil {
		t.Fatalf("CountsByType error: %v", err)
	}
	if counts[entity.ActivityCreate] != 2 || counts[entity.ActivityDelete] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

// TestCleanupPrunesByAge verifies old entries are removed and counted.
func TestCleanupPrunesByAge(t *testing.T) {
	s, now, ctx := logFixture(t)

	mustLog(t, s, ctx, LogInput{EntityID: "old"})
	*now = now.AddDate(0, 0, 40)
	mustLog(t, s, ctx, LogInput{EntityID: "fresh"})

	removed, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	remaining, _ := s.GetAll(ctx)
	if len(remaining) != 1 || remaining[0].EntityID != "fresh" {
		t.Errorf("remaining = %+v, want only the fresh entry", remaining)
	}
}
