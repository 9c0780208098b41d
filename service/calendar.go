package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"planstore/entity"
	"planstore/internal/utils"
	"planstore/storage"
)

// ErrEventNotFound is returned by operations that require an existing event.
var ErrEventNotFound = errors.New("event not found")

// CalendarService manages calendar events: CRUD with audit logging,
// interval queries, status transitions and recurrence generation.
type CalendarService struct {
	*Base[entity.CalendarEvent, *entity.CalendarEvent]
	rt   Runtime
	logs *ActivityLogService
}

// NewCalendarService creates the service. logs may be nil to disable
// audit logging.
func NewCalendarService(mgr *storage.Manager, rt Runtime, logs *ActivityLogService) *CalendarService {
	return &CalendarService{
		Base: NewBase[entity.CalendarEvent](mgr, storage.KeyEvents, rt),
		rt:   rt.normalized(),
		logs: logs,
	}
}

func (s *CalendarService) logActivity(ctx context.Context, in LogInput) {
	if s.logs == nil {
		return
	}
	if _, err := s.logs.Log(ctx, in); err != nil {
		utils.Warnf("calendar activity log failed: %v", err)
	}
}

// CreateEvent creates an event and logs the creation.
func (s *CalendarService) CreateEvent(ctx context.Context, ev entity.CalendarEvent) (*entity.CalendarEvent, error) {
	created, err := s.Create(ctx, ev)
	if err != nil {
		return nil, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityCreate,
		Action:     "event created",
		EntityType: entity.KindEvent,
		EntityID:   created.ID,
		EntityName: created.Title,
		UserID:     created.UserID,
	})
	return created, nil
}

// UpdateEvent applies mutate and logs the update.
func (s *CalendarService) UpdateEvent(ctx context.Context, id string, mutate func(*entity.CalendarEvent)) (*entity.CalendarEvent, error) {
	updated, err := s.Update(ctx, id, mutate)
	if err != nil || updated == nil {
		return updated, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityUpdate,
		Action:     "event updated",
		EntityType: entity.KindEvent,
		EntityID:   updated.ID,
		EntityName: updated.Title,
		UserID:     updated.UserID,
	})
	return updated, nil
}

// DeleteEvent removes an event and logs the deletion. The base delete
// issues the per-record removal before rewriting the collection, which is
// what a remote adapter's soft-delete hook listens for.
func (s *CalendarService) DeleteEvent(ctx context.Context, id string) (bool, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}

	ok, err := s.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityDelete,
		Action:     "event deleted",
		EntityType: entity.KindEvent,
		EntityID:   ev.ID,
		EntityName: ev.Title,
		UserID:     ev.UserID,
	})
	return true, nil
}

// GetByUser returns all of a user's events.
func (s *CalendarService) GetByUser(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool { return e.UserID == userID })
}

// GetByProject returns all events of a project.
func (s *CalendarService) GetByProject(ctx context.Context, projectID string) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool { return e.ProjectID == projectID })
}

// GetInRange returns a user's events overlapping [start, end). The test
// is half-open overlap, not containment, so an event partially inside the
// window is included.
func (s *CalendarService) GetInRange(ctx context.Context, userID string, start, end time.Time) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.StartDate.Before(end) && e.EndDate.After(start)
	})
}

// GetByType returns a user's events of one type.
func (s *CalendarService) GetByType(ctx context.Context, userID string, typ entity.EventType) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.Type == typ
	})
}

// GetByStatus returns a user's events with the given status.
func (s *CalendarService) GetByStatus(ctx context.Context, userID string, status entity.EventStatus) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.Status == status
	})
}

// GetToday returns a user's events overlapping the current calendar day.
func (s *CalendarService) GetToday(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	today := startOfDay(s.rt.Now())
	return s.GetInRange(ctx, userID, today, today.AddDate(0, 0, 1))
}

// GetThisWeek returns a user's events overlapping the current week.
// Weeks start on Sunday.
func (s *CalendarService) GetThisWeek(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	today := startOfDay(s.rt.Now())
	weekStart := today.AddDate(0, 0, -int(today.Weekday()))
	return s.GetInRange(ctx, userID, weekStart, weekStart.AddDate(0, 0, 7))
}

// GetThisMonth returns a user's events overlapping the current month.
func (s *CalendarService) GetThisMonth(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	now := s.rt.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return s.GetInRange(ctx, userID, monthStart, monthStart.AddDate(0, 1, 0))
}

// GetUpcoming returns a user's non-cancelled events starting after now,
// soonest first, up to limit (0 for all).
func (s *CalendarService) GetUpcoming(ctx context.Context, userID string, limit int) ([]entity.CalendarEvent, error) {
	now := s.rt.Now()
	events, err := s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.StartDate.After(now) && e.Status != entity.EventCancelled
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartDate.Before(events[j].StartDate)
	})
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

// GetPast returns a user's events that already ended, most recent first,
// up to limit (0 for all).
func (s *CalendarService) GetPast(ctx context.Context, userID string, limit int) ([]entity.CalendarEvent, error) {
	now := s.rt.Now()
	events, err := s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.EndDate.Before(now)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[j].StartDate.Before(events[i].StartDate)
	})
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

// GetMeetings returns a user's non-cancelled meetings.
func (s *CalendarService) GetMeetings(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.Type == entity.EventMeeting && e.Status != entity.EventCancelled
	})
}

// GetDeadlines returns a user's deadline events.
func (s *CalendarService) GetDeadlines(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	return s.GetByType(ctx, userID, entity.EventDeadline)
}

// GetUpcomingDeadlines returns a user's deadlines that have not started
// yet, soonest first.
func (s *CalendarService) GetUpcomingDeadlines(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	now := s.rt.Now()
	events, err := s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.Type == entity.EventDeadline &&
			e.StartDate.After(now) && e.Status != entity.EventCancelled
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StartDate.Before(events[j].StartDate)
	})
	return events, nil
}

// GetOverdueDeadlines returns a user's deadlines that passed without
// being cancelled.
func (s *CalendarService) GetOverdueDeadlines(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	now := s.rt.Now()
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID && e.Type == entity.EventDeadline &&
			e.EndDate.Before(now) && e.Status != entity.EventCancelled
	})
}

// Search returns a user's events whose title, description or location
// contains the query, case insensitive.
func (s *CalendarService) Search(ctx context.Context, userID, query string) ([]entity.CalendarEvent, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []entity.CalendarEvent{}, nil
	}
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		if e.UserID != userID {
			return false
		}
		return strings.Contains(strings.ToLower(e.Title), q) ||
			strings.Contains(strings.ToLower(e.Description), q) ||
			strings.Contains(strings.ToLower(e.Location), q)
	})
}

// GetByAttendee returns events that include an attendee with the given
// email address.
func (s *CalendarService) GetByAttendee(ctx context.Context, email string) ([]entity.CalendarEvent, error) {
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		for _, a := range e.Attendees {
			if a.Email == email {
				return true
			}
		}
		return false
	})
}

// Confirm marks an event confirmed.
func (s *CalendarService) Confirm(ctx context.Context, id string) (*entity.CalendarEvent, error) {
	return s.setStatus(ctx, id, entity.EventConfirmed, "event confirmed")
}

// MarkTentative marks an event tentative.
func (s *CalendarService) MarkTentative(ctx context.Context, id string) (*entity.CalendarEvent, error) {
	return s.setStatus(ctx, id, entity.EventTentative, "event marked tentative")
}

// Cancel marks an event cancelled without deleting it.
func (s *CalendarService) Cancel(ctx context.Context, id string) (*entity.CalendarEvent, error) {
	return s.setStatus(ctx, id, entity.EventCancelled, "event cancelled")
}

func (s *CalendarService) setStatus(ctx context.Context, id string, status entity.EventStatus, action string) (*entity.CalendarEvent, error) {
	updated, err := s.Update(ctx, id, func(e *entity.CalendarEvent) {
		e.Status = status
	})
	if err != nil || updated == nil {
		return updated, err
	}
	s.logActivity(ctx, LogInput{
		Type:       entity.ActivityUpdate,
		Action:     action,
		EntityType: entity.KindEvent,
		EntityID:   updated.ID,
		EntityName: updated.Title,
		UserID:     updated.UserID,
	})
	return updated, nil
}

// GenerateNextRecurring creates the next occurrence of a recurring event
// as a fresh sibling preserving the original duration. The sibling is
// always created confirmed regardless of the template's status. Returns
// (nil, nil) when the event is not recurring, the next candidate passes
// the recurrence end date, or the candidate falls on an exception date:
// excluded occurrences produce no entity.
func (s *CalendarService) GenerateNextRecurring(ctx context.Context, id string) (*entity.CalendarEvent, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrEventNotFound
	}
	if ev.Recurring == nil {
		return nil, nil
	}

	start := nextOccurrence(ev.StartDate, ev.Recurring.Recurring)
	if ev.Recurring.EndDate != nil && start.After(*ev.Recurring.EndDate) {
		return nil, nil
	}
	if isException(start, ev.Recurring.Exceptions) {
		return nil, nil
	}

	duration := ev.EndDate.Sub(ev.StartDate)
	sibling := *ev
	sibling.ID = ""
	sibling.Status = entity.EventConfirmed
	sibling.StartDate = start
	sibling.EndDate = start.Add(duration)
	return s.CreateEvent(ctx, sibling)
}

// AddRecurringException excludes one occurrence date from a recurring
// event's schedule. Returns (nil, nil) when the event is not recurring.
func (s *CalendarService) AddRecurringException(ctx context.Context, id string, date time.Time) (*entity.CalendarEvent, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrEventNotFound
	}
	if ev.Recurring == nil {
		return nil, nil
	}
	return s.Update(ctx, id, func(e *entity.CalendarEvent) {
		if e.Recurring == nil || isException(date, e.Recurring.Exceptions) {
			return
		}
		e.Recurring.Exceptions = append(e.Recurring.Exceptions, date)
	})
}

// IsHappeningNow reports whether an event is currently in progress.
func (s *CalendarService) IsHappeningNow(ctx context.Context, id string) (bool, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, ErrEventNotFound
	}
	now := s.rt.Now()
	return !ev.StartDate.After(now) && ev.EndDate.After(now) &&
		ev.Status != entity.EventCancelled, nil
}

// Duration returns the length of an event.
func (s *CalendarService) Duration(ctx context.Context, id string) (time.Duration, error) {
	ev, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if ev == nil {
		return 0, ErrEventNotFound
	}
	return ev.EndDate.Sub(ev.StartDate), nil
}

// GetCurrent returns a user's events in progress right now.
func (s *CalendarService) GetCurrent(ctx context.Context, userID string) ([]entity.CalendarEvent, error) {
	now := s.rt.Now()
	return s.Find(ctx, func(e *entity.CalendarEvent) bool {
		return e.UserID == userID &&
			!e.StartDate.After(now) && e.EndDate.After(now) &&
			e.Status != entity.EventCancelled
	})
}

// RemoveDuplicates collapses entries sharing an id, keeping the last
// occurrence of each so the most recent write wins. Returns the number of
// duplicates dropped. Guards against duplicate appends from retried
// writes.
func (s *CalendarService) RemoveDuplicates(ctx context.Context) (int, error) {
	events, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	last := make(map[string]int, len(events))
	for i := range events {
		last[events[i].ID] = i
	}
	if len(last) == len(events) {
		return 0, nil
	}

	deduped := make([]entity.CalendarEvent, 0, len(last))
	for i := range events {
		if last[events[i].ID] == i {
			deduped = append(deduped, events[i])
		}
	}

	if err := s.mgr.Set(ctx, s.Key(), deduped); err != nil {
		return 0, err
	}
	return len(events) - len(deduped), nil
}

// isException reports whether a candidate start falls on one of the
// recurrence exception dates. Comparison is by calendar day.
func isException(t time.Time, exceptions []time.Time) bool {
	y, m, d := t.Date()
	for _, ex := range exceptions {
		ey, em, ed := ex.Date()
		if y == ey && m == em && d == ed {
			return true
		}
	}
	return false
}
