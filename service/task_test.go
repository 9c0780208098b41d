package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"planstore/entity"
	"planstore/storage"
)

// taskFixture builds a task service with logging wired to a real
// activity log service over the same manager.
func taskFixture(t *testing.T) (*TaskService, *ActivityLogService, context.Context) {
	t.Helper()
	mgr := storage.NewManager(storage.NewMemoryAdapter())
	rt := testRuntime()
	logs := NewActivityLogService(mgr, rt, nil)
	return NewTaskService(mgr, rt, logs), logs, context.Background()
}

func mustCreateTask(t *testing.T, s *TaskService, ctx context.Context, task entity.Task) *entity.Task {
	t.Helper()
	if task.Status == "" {
		task.Status = entity.TaskPending
	}
	if task.Priority == "" {
		task.Priority = entity.PriorityMedium
	}
	created, err := s.CreateTask(ctx, task)
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	return created
}

// TestSelfDependencyRejected verifies a task cannot depend on itself.
func TestSelfDependencyRejected(t *testing.T) {
	s, _, ctx := taskFixture(t)
	a := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "a"})

	_, err := s.AddDependency(ctx, a.ID, a.ID)
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("err = %v, want ErrSelfDependency", err)
	}
}

// TestTransitiveCycleRejected verifies the BFS catches cycles through
// intermediate tasks: with A -> B -> C, adding C -> A must fail before
// any write.
func TestTransitiveCycleRejected(t *testing.T) {
	s, _, ctx := taskFixture(t)
	a := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "a"})
	b := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "b"})
	c := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "c"})

	if _, err := s.AddDependency(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if _, err := s.AddDependency(ctx, b.ID, c.ID); err != nil {
		t.Fatalf("b->c: %v", err)
	}

	_, err := s.AddDependency(ctx, c.ID, a.ID)
	if !errors.Is(err, ErrCircularDep) {
		t.Fatalf("err = %v, want ErrCircularDep", err)
	}

	// The rejected edge must not have been written.
	got, _ := s.GetByID(ctx, c.ID)
	if len(got.Dependencies) != 0 {
		t.Errorf("c.Dependencies = %v after rejected add", got.Dependencies)
	}
}

// TestSubtaskCycleRejected verifies the subtask tree stays acyclic.
func TestSubtaskCycleRejected(t *testing.T) {
	s, _, ctx := taskFixture(t)
	parent := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "parent"})
	child := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "child"})

	if _, err := s.AddSubtask(ctx, parent.ID, child.ID); err != nil {
		t.Fatalf("AddSubtask error: %v", err)
	}

	// Attaching the parent under its own child closes a cycle.
	if _, err := s.AddSubtask(ctx, child.ID, parent.ID); !errors.Is(err, ErrCircularSubtask) {
		t.Errorf("err = %v, want ErrCircularSubtask", err)
	}

	got, _ := s.GetByID(ctx, child.ID)
	if got.ParentTaskID != parent.ID {
		t.Errorf("child parent = %q, want %q", got.ParentTaskID, parent.ID)
	}
}

// TestCanStart verifies readiness requires every dependency completed.
func TestCanStart(t *testing.T) {
	s, _, ctx := taskFixture(t)
	dep := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "dep"})
	task := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "main"})

	if _, err := s.AddDependency(ctx, task.ID, dep.ID); err != nil {
		t.Fatalf("AddDependency error: %v", err)
	}

	ready, err := s.CanStart(ctx, task.ID)
	if err != nil {
		t.Fatalf("CanStart error: %v", err)
	}
	if ready {
		t.Error("CanStart = true with pending dependency")
	}

	if _, err := s.CompleteTask(ctx, dep.ID); err != nil {
		t.Fatalf("CompleteTask error: %v", err)
	}
	ready, err = s.CanStart(ctx, task.ID)
	if err != nil {
		t.Fatalf("CanStart error: %v", err)
	}
	if !ready {
		t.Error("CanStart = false after completing dependency")
	}
}

// TestCompleteStampsCompletedAt verifies completion side effects.
func TestCompleteStampsCompletedAt(t *testing.T) {
	s, _, ctx := taskFixture(t)
	task := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "t"})

	done, err := s.CompleteTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("CompleteTask error: %v", err)
	}
	if done.Status != entity.TaskCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
}

// TestStartIsIdempotent verifies the start date is stamped only once.
func TestStartIsIdempotent(t *testing.T) {
	s, _, ctx := taskFixture(t)
	task := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "t"})

	first, err := s.StartTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("StartTask error: %v", err)
	}
	if first.StartDate == nil {
		t.Fatal("startDate not stamped on first start")
	}

	second, err := s.StartTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("StartTask error: %v", err)
	}
	if !second.StartDate.Equal(*first.StartDate) {
		t.Errorf("startDate changed on repeated start: %v vs %v", second.StartDate, first.StartDate)
	}
}

// TestGenerateNextRecurringDaily verifies recurrence produces a fresh
// pending sibling with an advanced due date.
func TestGenerateNextRecurringDaily(t *testing.T) {
	s, _, ctx := taskFixture(t)
	due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	completedAt := due.Add(-time.Hour)
	task := mustCreateTask(t, s, ctx, entity.Task{
		UserID:      "u1",
		Title:       "daily standup notes",
		Status:      entity.TaskCompleted,
		DueDate:     &due,
		CompletedAt: &completedAt,
		Recurring:   &entity.Recurring{Pattern: entity.Daily, Interval: 2},
	})

	next, err := s.GenerateNextRecurring(ctx, task.ID)
	if err != nil {
		t.Fatalf("GenerateNextRecurring error: %v", err)
	}
	if next == nil {
		t.Fatal("no sibling generated")
	}
	if next.ID == task.ID {
		t.Error("recurrence mutated the original instead of creating a sibling")
	}
	if next.Status != entity.TaskPending {
		t.Errorf("sibling status = %s, want pending", next.Status)
	}
	if next.CompletedAt != nil || next.StartDate != nil {
		t.Error("sibling carries completion or start stamps")
	}
	want := due.AddDate(0, 0, 2)
	if next.DueDate == nil || !next.DueDate.Equal(want) {
		t.Errorf("sibling due = %v, want %v", next.DueDate, want)
	}

	// The original task is untouched.
	orig, _ := s.GetByID(ctx, task.ID)
	if orig.Status != entity.TaskCompleted {
		t.Errorf("original status = %s after generation", orig.Status)
	}
}

// TestGenerateNextRecurringStopsAtEndDate verifies no sibling is created
// past the recurrence end date.
func TestGenerateNextRecurringStopsAtEndDate(t *testing.T) {
	s, _, ctx := taskFixture(t)
	due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := due.AddDate(0, 0, 1)
	task := mustCreateTask(t, s, ctx, entity.Task{
		UserID:    "u1",
		Title:     "expiring",
		DueDate:   &due,
		Recurring: &entity.Recurring{Pattern: entity.Weekly, Interval: 1, EndDate: &end},
	})

	next, err := s.GenerateNextRecurring(ctx, task.ID)
	if err != nil {
		t.Fatalf("GenerateNextRecurring error: %v", err)
	}
	if next != nil {
		t.Errorf("sibling generated past end date: %+v", next)
	}
}

// TestWeeklyDaysOfWeekAdvance verifies the weekly day-of-week selection:
// from a Monday with {Mon, Wed} the next occurrence is Wednesday, and
// from that Wednesday it wraps to the following Monday.
func TestWeeklyDaysOfWeekAdvance(t *testing.T) {
	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday
	r := entity.Recurring{Pattern: entity.Weekly, Interval: 1, DaysOfWeek: []int{1, 3}}

	next := nextOccurrence(monday, r)
	if next.Weekday() != time.Wednesday || !next.Equal(monday.AddDate(0, 0, 2)) {
		t.Fatalf("next from Monday = %v (%s), want the Wednesday after", next, next.Weekday())
	}

	wrapped := nextOccurrence(next, r)
	if wrapped.Weekday() != time.Monday || !wrapped.Equal(monday.AddDate(0, 0, 7)) {
		t.Errorf("next from Wednesday = %v (%s), want the following Monday", wrapped, wrapped.Weekday())
	}
}

// TestActivityLoggingAndSuppression verifies user-facing mutations emit
// log entries while internal graph bookkeeping stays silent.
func TestActivityLoggingAndSuppression(t *testing.T) {
	s, logs, ctx := taskFixture(t)

	a := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "a"})
	b := mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "b"})

	entriesAfterCreate, err := logs.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll error: %v", err)
	}
	if len(entriesAfterCreate) != 2 {
		t.Fatalf("got %d entries after 2 creates, want 2", len(entriesAfterCreate))
	}

	// Graph bookkeeping is suppressed.
	if _, err := s.AddDependency(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("AddDependency error: %v", err)
	}
	entries, _ := logs.GetAll(ctx)
	if len(entries) != 2 {
		t.Errorf("dependency bookkeeping logged: %d entries, want 2", len(entries))
	}

	// Tracked-field updates are logged with diffs.
	if _, err := s.UpdateTask(ctx, a.ID, func(task *entity.Task) {
		task.Title = "a2"
		task.Priority = entity.PriorityHigh
	}); err != nil {
		t.Fatalf("UpdateTask error: %v", err)
	}
	entries, _ = logs.GetAll(ctx)
	if len(entries) != 3 {
		t.Fatalf("got %d entries after update, want 3", len(entries))
	}
	last := entries[len(entries)-1]
	if last.Type != entity.ActivityUpdate || len(last.Changes) != 2 {
		t.Errorf("update entry = type %s with %d changes, want update with 2", last.Type, len(last.Changes))
	}

	// Deletion is logged.
	if _, err := s.DeleteTask(ctx, b.ID); err != nil {
		t.Fatalf("DeleteTask error: %v", err)
	}
	entries, _ = logs.GetAll(ctx)
	if len(entries) != 4 {
		t.Errorf("got %d entries after delete, want 4", len(entries))
	}
}

// TestLoggingFailureDoesNotFailMutation verifies audit logging stays
// best effort when its own writes break.
func TestLoggingFailureDoesNotFailMutation(t *testing.T) {
	// Reject writes to the activity log collection only.
	rec := newOpRecorder()
	mgr := storage.NewManager(&failKeyAdapter{Adapter: rec, key: storage.KeyActivityLogs})
	rt := testRuntime()
	logs := NewActivityLogService(mgr, rt, nil)
	s := NewTaskService(mgr, rt, logs)
	ctx := context.Background()

	created, err := s.CreateTask(ctx, entity.Task{
		UserID: "u1", Title: "t",
		Status: entity.TaskPending, Priority: entity.PriorityLow,
	})
	if err != nil {
		t.Fatalf("CreateTask failed because logging failed: %v", err)
	}
	if created == nil {
		t.Fatal("CreateTask returned nil")
	}
}

// failKeyAdapter fails writes to a single key.
type failKeyAdapter struct {
	storage.Adapter
	key string
}

func (f *failKeyAdapter) Set(ctx context.Context, key string, value []byte) error {
	if key == f.key {
		return errors.New("injected failure")
	}
	return f.Adapter.Set(ctx, key, value)
}

// TestDueDateQueries verifies due-today, due-this-week and date-range
// filtering. The fixture clock is Sunday 2026-03-01 12:00 UTC.
func TestDueDateQueries(t *testing.T) {
	s, _, ctx := taskFixture(t)
	due := func(day, hour int) *time.Time {
		d := time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
		return &d
	}

	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "tonight", DueDate: due(1, 18)})
	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "thursday", DueDate: due(5, 9)})
	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "next sunday", DueDate: due(8, 9)})
	mustCreateTask(t, s, ctx, entity.Task{
		UserID: "u1", Title: "done today", DueDate: due(1, 9),
		Status: entity.TaskCompleted,
	})

	today, err := s.GetDueToday(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDueToday error: %v", err)
	}
	if len(today) != 1 || today[0].Title != "tonight" {
		t.Errorf("GetDueToday = %v", titlesOf(today))
	}

	week, err := s.GetDueThisWeek(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDueThisWeek error: %v", err)
	}
	if len(week) != 2 {
		t.Errorf("GetDueThisWeek = %v, want tonight and thursday", titlesOf(week))
	}

	ranged, err := s.GetInDateRange(ctx, "u1", *due(4, 0), *due(9, 0))
	if err != nil {
		t.Fatalf("GetInDateRange error: %v", err)
	}
	if len(ranged) != 2 {
		t.Errorf("GetInDateRange = %v, want thursday and next sunday", titlesOf(ranged))
	}
}

// TestPriorityAndStatusQueries verifies the urgent, active and priority
// filters.
func TestPriorityAndStatusQueries(t *testing.T) {
	s, _, ctx := taskFixture(t)

	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "fire", Priority: entity.PriorityUrgent})
	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "soon", Priority: entity.PriorityHigh, Status: entity.TaskInProgress})
	mustCreateTask(t, s, ctx, entity.Task{
		UserID: "u1", Title: "done fire", Priority: entity.PriorityUrgent,
		Status: entity.TaskCompleted,
	})
	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "someday", Priority: entity.PriorityLow})

	urgent, err := s.GetUrgent(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUrgent error: %v", err)
	}
	if len(urgent) != 2 {
		t.Errorf("GetUrgent = %v, want fire and soon", titlesOf(urgent))
	}

	active, err := s.GetActive(ctx, "u1")
	if err != nil {
		t.Fatalf("GetActive error: %v", err)
	}
	if len(active) != 3 {
		t.Errorf("GetActive = %v, want the three unfinished tasks", titlesOf(active))
	}

	low, err := s.GetByPriority(ctx, "u1", entity.PriorityLow)
	if err != nil {
		t.Fatalf("GetByPriority error: %v", err)
	}
	if len(low) != 1 || low[0].Title != "someday" {
		t.Errorf("GetByPriority = %v", titlesOf(low))
	}
}

// TestGetByAssignee verifies assignment lookup is independent of the
// owning user.
func TestGetByAssignee(t *testing.T) {
	s, _, ctx := taskFixture(t)

	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "delegated", AssigneeID: "u2"})
	mustCreateTask(t, s, ctx, entity.Task{UserID: "u1", Title: "own"})

	got, err := s.GetByAssignee(ctx, "u2")
	if err != nil {
		t.Fatalf("GetByAssignee error: %v", err)
	}
	if len(got) != 1 || got[0].Title != "delegated" {
		t.Errorf("GetByAssignee = %v", titlesOf(got))
	}
}

func titlesOf(tasks []entity.Task) []string {
	out := make([]string, 0, len(tasks))
	for i := range tasks {
		out = append(out, tasks[i].Title)
	}
	return out
}
