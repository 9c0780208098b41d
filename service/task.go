package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"planstore/entity"
	"planstore/internal/utils"
	"planstore/storage"
)

// Dependency and subtask graph errors.
var (
	ErrSelfDependency  = errors.New("task cannot depend on itself")
	ErrCircularDep     = errors.New("circular dependency detected")
	ErrCircularSubtask = errors.New("circular subtask relationship detected")
	ErrTaskNotFound    = errors.New("task not found")
)

// TaskService manages tasks: CRUD with audit logging, the cycle-safe
// dependency and subtask graphs, readiness queries and recurrence
// generation.
type TaskService struct {
	*Base[entity.Task, *entity.Task]
	rt   Runtime
	logs *ActivityLogService
}

// NewTaskService creates the service. logs may be nil to disable audit
// logging entirely (tests, migrations).
func NewTaskService(mgr *storage.Manager, rt Runtime, logs *ActivityLogService) *TaskService {
	return &TaskService{
		Base: NewBase[entity.Task](mgr, storage.KeyTasks, rt),
		rt:   rt.normalized(),
		logs: logs,
	}
}

// logActivity appends an audit entry best effort. A failed log write is
// reported to the process log and never fails the mutation it describes.
func (s *TaskService) logActivity(ctx context.Context, in LogInput) {
	if s.logs == nil {
		return
	}
	if _, err := s.logs.Log(ctx, in); err != nil {
		utils.Warnf("task activity log failed: %v", err)
	}
}

// CreateTask creates a task and logs the creation.
func (s *TaskService) CreateTask(ctx context.Context, task entity.Task) (*entity.Task, error) {
	created, err := s.Create(ctx, task)
	if err != nil {
		return nil, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityCreate,
		Action:     "task created",
		EntityType: entity.KindTask,
		EntityID:   created.ID,
		EntityName: created.Title,
		UserID:     created.UserID,
	})
	return created, nil
}

// UpdateTask applies mutate and logs the update with field-level diffs
// for the tracked fields (title, status, priority, due date). Internal
// bookkeeping rewrites go through updateInternal instead and stay out of
// the audit trail.
func (s *TaskService) UpdateTask(ctx context.Context, id string, mutate func(*entity.Task)) (*entity.Task, error) {
	before, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.Update(ctx, id, mutate)
	if err != nil || updated == nil {
		return updated, err
	}

	changes := taskDiffs(before, updated)
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityUpdate,
		Action:     "task updated",
		EntityType: entity.KindTask,
		EntityID:   updated.ID,
		EntityName: updated.Title,
		UserID:     updated.UserID,
		Changes:    changes,
	})
	return updated, nil
}

// updateInternal mutates a task without emitting an activity entry.
// Subtask and dependency array rewrites use it so the audit trail only
// carries user-facing changes.
func (s *TaskService) updateInternal(ctx context.Context, id string, mutate func(*entity.Task)) (*entity.Task, error) {
	return s.Update(ctx, id, mutate)
}

// DeleteTask removes a task and logs the deletion.
func (s *TaskService) DeleteTask(ctx context.Context, id string) (bool, error) {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	ok, err := s.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityDelete,
		Action:     "task deleted",
		EntityType: entity.KindTask,
		EntityID:   task.ID,
		EntityName: task.Title,
		UserID:     task.UserID,
	})
	return true, nil
}

// CompleteTask marks a task completed, stamps completedAt and logs it.
func (s *TaskService) CompleteTask(ctx context.Context, id string) (*entity.Task, error) {
	now := s.rt.Now()
	updated, err := s.updateInternal(ctx, id, func(t *entity.Task) {
		t.Status = entity.TaskCompleted
		t.CompletedAt = &now
	})
	if err != nil || updated == nil {
		return updated, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityComplete,
		Action:     "task completed",
		EntityType: entity.KindTask,
		EntityID:   updated.ID,
		EntityName: updated.Title,
		UserID:     updated.UserID,
	})
	return updated, nil
}

// StartTask marks a task in progress. The start date is stamped only if
// unset so repeated starts stay idempotent.
func (s *TaskService) StartTask(ctx context.Context, id string) (*entity.Task, error) {
	now := s.rt.Now()
	return s.updateInternal(ctx, id, func(t *entity.Task) {
		t.Status = entity.TaskInProgress
		if t.StartDate == nil {
			t.StartDate = &now
		}
	})
}

// GetByUser returns all of a user's tasks.
func (s *TaskService) GetByUser(ctx context.Context, userID string) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool { return t.UserID == userID })
}

// GetByProject returns all tasks of a project.
func (s *TaskService) GetByProject(ctx context.Context, projectID string) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool { return t.ProjectID == projectID })
}

// GetByStatus returns a user's tasks with the given status.
func (s *TaskService) GetByStatus(ctx context.Context, userID string, status entity.TaskStatus) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID && t.Status == status
	})
}

// GetOverdue returns a user's unfinished tasks whose due date has passed.
func (s *TaskService) GetOverdue(ctx context.Context, userID string) ([]entity.Task, error) {
	now := s.rt.Now()
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID &&
			t.DueDate != nil && t.DueDate.Before(now) &&
			t.Status != entity.TaskCompleted && t.Status != entity.TaskCancelled
	})
}

// GetByAssignee returns all tasks assigned to a user.
func (s *TaskService) GetByAssignee(ctx context.Context, assigneeID string) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool { return t.AssigneeID == assigneeID })
}

// GetByPriority returns a user's tasks with the given priority.
func (s *TaskService) GetByPriority(ctx context.Context, userID string, priority entity.TaskPriority) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID && t.Priority == priority
	})
}

// GetDueToday returns a user's unfinished tasks due on the current
// calendar day.
func (s *TaskService) GetDueToday(ctx context.Context, userID string) ([]entity.Task, error) {
	now := s.rt.Now()
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID &&
			t.DueDate != nil && sameDay(*t.DueDate, now) &&
			t.Status != entity.TaskCompleted
	})
}

// GetDueThisWeek returns a user's unfinished tasks due within the next
// seven days, today included.
func (s *TaskService) GetDueThisWeek(ctx context.Context, userID string) ([]entity.Task, error) {
	today := startOfDay(s.rt.Now())
	nextWeek := today.AddDate(0, 0, 7)
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID &&
			t.DueDate != nil && !t.DueDate.Before(today) && t.DueDate.Before(nextWeek) &&
			t.Status != entity.TaskCompleted
	})
}

// GetInDateRange returns a user's tasks due within [start, end).
func (s *TaskService) GetInDateRange(ctx context.Context, userID string, start, end time.Time) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID &&
			t.DueDate != nil && !t.DueDate.Before(start) && t.DueDate.Before(end)
	})
}

// GetActive returns a user's pending and in-progress tasks.
func (s *TaskService) GetActive(ctx context.Context, userID string) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool {
		return t.UserID == userID &&
			(t.Status == entity.TaskPending || t.Status == entity.TaskInProgress)
	})
}

// GetCompleted returns a user's completed tasks.
func (s *TaskService) GetCompleted(ctx context.Context, userID string) ([]entity.Task, error) {
	return s.GetByStatus(ctx, userID, entity.TaskCompleted)
}

// GetUrgent returns a user's unfinished high and urgent priority tasks.
func (s *TaskService) GetUrgent(ctx context.Context, userID string) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool {
		urgent := t.Priority == entity.PriorityHigh || t.Priority == entity.PriorityUrgent
		return t.UserID == userID && urgent &&
			t.Status != entity.TaskCompleted && t.Status != entity.TaskCancelled
	})
}

// GetSubtasks returns the direct children of a parent task.
func (s *TaskService) GetSubtasks(ctx context.Context, parentID string) ([]entity.Task, error) {
	return s.Find(ctx, func(t *entity.Task) bool { return t.ParentTaskID == parentID })
}

// AddDependency records that task depends on dependency. Self references
// and any edge that would close a cycle in the dependency graph are
// rejected before anything is written.
func (s *TaskService) AddDependency(ctx context.Context, taskID, dependencyID string) (*entity.Task, error) {
	if taskID == dependencyID {
		return nil, ErrSelfDependency
	}

	tasks, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := indexTasks(tasks)
	if byID[taskID] == nil || byID[dependencyID] == nil {
		return nil, ErrTaskNotFound
	}

	// Walk the existing dependency edges from the new dependency. If the
	// walk reaches the dependent task, the new edge would close a cycle.
	if reaches(byID, dependencyID, taskID, func(t *entity.Task) []string { return t.Dependencies }) {
		return nil, ErrCircularDep
	}

	return s.updateInternal(ctx, taskID, func(t *entity.Task) {
		if !contains(t.Dependencies, dependencyID) {
			t.Dependencies = append(t.Dependencies, dependencyID)
		}
	})
}

// RemoveDependency deletes a dependency edge.
func (s *TaskService) RemoveDependency(ctx context.Context, taskID, dependencyID string) (*entity.Task, error) {
	return s.updateInternal(ctx, taskID, func(t *entity.Task) {
		t.Dependencies = remove(t.Dependencies, dependencyID)
	})
}

// AddSubtask attaches child under parent. The subtask tree is kept
// acyclic the same way the dependency graph is: an edge that would let a
// task become its own ancestor is rejected before any write.
func (s *TaskService) AddSubtask(ctx context.Context, parentID, childID string) (*entity.Task, error) {
	if parentID == childID {
		return nil, ErrCircularSubtask
	}

	tasks, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := indexTasks(tasks)
	if byID[parentID] == nil || byID[childID] == nil {
		return nil, ErrTaskNotFound
	}

	if reaches(byID, childID, parentID, func(t *entity.Task) []string { return t.Subtasks }) {
		return nil, ErrCircularSubtask
	}

	if _, err := s.updateInternal(ctx, childID, func(t *entity.Task) {
		t.ParentTaskID = parentID
	}); err != nil {
		return nil, err
	}
	return s.updateInternal(ctx, parentID, func(t *entity.Task) {
		if !contains(t.Subtasks, childID) {
			t.Subtasks = append(t.Subtasks, childID)
		}
	})
}

// RemoveSubtask detaches child from parent.
func (s *TaskService) RemoveSubtask(ctx context.Context, parentID, childID string) (*entity.Task, error) {
	if _, err := s.updateInternal(ctx, childID, func(t *entity.Task) {
		if t.ParentTaskID == parentID {
			t.ParentTaskID = ""
		}
	}); err != nil {
		return nil, err
	}
	return s.updateInternal(ctx, parentID, func(t *entity.Task) {
		t.Subtasks = remove(t.Subtasks, childID)
	})
}

// CanStart reports whether every dependency of a task is completed.
func (s *TaskService) CanStart(ctx context.Context, taskID string) (bool, error) {
	tasks, err := s.GetAll(ctx)
	if err != nil {
		return false, err
	}
	byID := indexTasks(tasks)
	task := byID[taskID]
	if task == nil {
		return false, ErrTaskNotFound
	}
	for _, depID := range task.Dependencies {
		dep := byID[depID]
		if dep == nil || dep.Status != entity.TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}

// GenerateNextRecurring creates the next occurrence of a recurring task
// as a fresh sibling: new id, pending status, cleared completion and
// start stamps. Returns (nil, nil) when the task is not recurring, has no
// due date, or the next occurrence would pass the recurrence end date.
func (s *TaskService) GenerateNextRecurring(ctx context.Context, taskID string) (*entity.Task, error) {
	task, err := s.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.Recurring == nil || task.DueDate == nil {
		return nil, nil
	}

	next := nextOccurrence(*task.DueDate, *task.Recurring)
	if task.Recurring.EndDate != nil && next.After(*task.Recurring.EndDate) {
		return nil, nil
	}

	sibling := *task
	sibling.ID = ""
	sibling.Status = entity.TaskPending
	sibling.DueDate = &next
	sibling.CompletedAt = nil
	sibling.StartDate = nil
	return s.CreateTask(ctx, sibling)
}

// taskDiffs compares the tracked fields of a task before and after an
// update.
func taskDiffs(before, after *entity.Task) []entity.FieldChange {
	if before == nil {
		return nil
	}
	var changes []entity.FieldChange
	if before.Title != after.Title {
		changes = append(changes, entity.FieldChange{Field: "title", OldValue: before.Title, NewValue: after.Title})
	}
	if before.Status != after.Status {
		changes = append(changes, entity.FieldChange{Field: "status", OldValue: string(before.Status), NewValue: string(after.Status)})
	}
	if before.Priority != after.Priority {
		changes = append(changes, entity.FieldChange{Field: "priority", OldValue: string(before.Priority), NewValue: string(after.Priority)})
	}
	if !equalTimePtr(before.DueDate, after.DueDate) {
		changes = append(changes, entity.FieldChange{Field: "dueDate", OldValue: formatTimePtr(before.DueDate), NewValue: formatTimePtr(after.DueDate)})
	}
	return changes
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// indexTasks builds an id lookup over a loaded collection.
func indexTasks(tasks []entity.Task) map[string]*entity.Task {
	byID := make(map[string]*entity.Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}
	return byID
}

// reaches walks the graph from start along edges and reports whether
// target is reachable. Breadth first, visited-set guarded, so it
// terminates even on already-corrupt cyclic data.
func reaches(byID map[string]*entity.Task, start, target string, edges func(*entity.Task) []string) bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == target {
			return true
		}
		node := byID[id]
		if node == nil {
			continue
		}
		for _, next := range edges(node) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// nextOccurrence advances a date by one recurrence step.
func nextOccurrence(from time.Time, r entity.Recurring) time.Time {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Pattern {
	case entity.Daily:
		return from.AddDate(0, 0, interval)
	case entity.Weekly:
		if len(r.DaysOfWeek) > 0 {
			return nextWeekday(from, r.DaysOfWeek, interval)
		}
		return from.AddDate(0, 0, 7*interval)
	case entity.Monthly:
		return from.AddDate(0, interval, 0)
	case entity.Yearly:
		return from.AddDate(interval, 0, 0)
	}
	return from.AddDate(0, 0, interval)
}

// nextWeekday finds the next matching day of week (0-6, Sunday 0) after
// from: first a later day inside the current week, otherwise the first
// matching day after skipping interval-1 whole weeks.
func nextWeekday(from time.Time, daysOfWeek []int, interval int) time.Time {
	days := append([]int(nil), daysOfWeek...)
	sort.Ints(days)

	current := int(from.Weekday())
	for _, d := range days {
		if d > current {
			return from.AddDate(0, 0, d-current)
		}
	}
	wrap := 7 - current + days[0]
	return from.AddDate(0, 0, wrap+7*(interval-1))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
