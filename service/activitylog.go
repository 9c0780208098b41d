package service

import (
	"context"
	"sort"
	"time"

	"planstore/entity"
	"planstore/storage"
)

// LogInput is the payload for appending one activity log entry.
type LogInput struct {
	Type        entity.ActivityType
	Action      string
	EntityType  entity.EntityKind
	EntityID    string
	EntityName  string
	UserID      string
	Description string
	Metadata    map[string]any
	Changes     []entity.FieldChange
}

// LogFilter selects activity log entries. Zero fields match everything.
type LogFilter struct {
	Types       []entity.ActivityType
	EntityTypes []entity.EntityKind
	UserID      string
	EntityID    string
	Start       *time.Time
	End         *time.Time

	SortBy    string // "timestamp" (default), "type" or "entityType"
	SortOrder string // "desc" (default) or "asc"
	Limit     int
	Offset    int
}

// ActivityLogService is the append-only audit trail. Entries are created
// by domain services as mutation side effects; the only removal path is
// age-based cleanup.
type ActivityLogService struct {
	*Base[entity.ActivityLog, *entity.ActivityLog]
	rt     Runtime
	lookup UserLookup
}

// NewActivityLogService creates the service. lookup may be nil; entries
// then carry the raw user id as display identity.
func NewActivityLogService(mgr *storage.Manager, rt Runtime, lookup UserLookup) *ActivityLogService {
	return &ActivityLogService{
		Base:   NewBase[entity.ActivityLog](mgr, storage.KeyActivityLogs, rt),
		rt:     rt.normalized(),
		lookup: lookup,
	}
}

// Log appends one entry. The entry timestamp is stamped from the service
// clock, not supplied by callers.
func (s *ActivityLogService) Log(ctx context.Context, in LogInput) (*entity.ActivityLog, error) {
	user := resolveUser(s.lookup, in.UserID)
	return s.Create(ctx, entity.ActivityLog{
		Type:         in.Type,
		Action:       in.Action,
		EntityType:   in.EntityType,
		EntityID:     in.EntityID,
		EntityName:   in.EntityName,
		UserID:       in.UserID,
		UserName:     user.Name,
		UserInitials: user.Initials,
		Description:  in.Description,
		Metadata:     in.Metadata,
		Changes:      in.Changes,
		Timestamp:    s.rt.Now(),
	})
}

// Query returns entries matching the filter, sorted and paginated.
func (s *ActivityLogService) Query(ctx context.Context, f LogFilter) ([]entity.ActivityLog, error) {
	logs, err := s.Find(ctx, func(l *entity.ActivityLog) bool { return matchLog(l, f) })
	if err != nil {
		return nil, err
	}

	sortLogs(logs, f.SortBy, f.SortOrder)

	if f.Offset > 0 {
		if f.Offset >= len(logs) {
			return []entity.ActivityLog{}, nil
		}
		logs = logs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(logs) {
		logs = logs[:f.Limit]
	}
	return logs, nil
}

// Recent returns the newest n entries, most recent first.
func (s *ActivityLogService) Recent(ctx context.Context, n int) ([]entity.ActivityLog, error) {
	return s.Query(ctx, LogFilter{Limit: n})
}

// ForEntity returns the history of a single entity, most recent first.
func (s *ActivityLogService) ForEntity(ctx context.Context, kind entity.EntityKind, id string) ([]entity.ActivityLog, error) {
	return s.Query(ctx, LogFilter{EntityTypes: []entity.EntityKind{kind}, EntityID: id})
}

// ForUser returns one user's activity, most recent first.
func (s *ActivityLogService) ForUser(ctx context.Context, userID string, limit int) ([]entity.ActivityLog, error) {
	return s.Query(ctx, LogFilter{UserID: userID, Limit: limit})
}

// CountsByType returns per-activity-type entry counts inside an optional
// date window.
func (s *ActivityLogService) CountsByType(ctx context.Context, start, end *time.Time) (map[entity.ActivityType]int, error) {
	logs, err := s.Query(ctx, LogFilter{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	counts := make(map[entity.ActivityType]int)
	for i := range logs {
		counts[logs[i].Type]++
	}
	return counts, nil
}

// Cleanup prunes entries older than daysToKeep and returns the count
// removed. This is the only operation that ever removes log data.
func (s *ActivityLogService) Cleanup(ctx context.Context, daysToKeep int) (int, error) {
	cutoff := s.rt.Now().AddDate(0, 0, -daysToKeep)

	var stale []string
	logs, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	for i := range logs {
		if logs[i].Timestamp.Before(cutoff) {
			stale = append(stale, logs[i].ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	return s.DeleteMany(ctx, stale)
}

// matchLog applies every set filter field.
func matchLog(l *entity.ActivityLog, f LogFilter) bool {
	if len(f.Types) > 0 && !containsType(f.Types, l.Type) {
		return false
	}
	if len(f.EntityTypes) > 0 && !containsKind(f.EntityTypes, l.EntityType) {
		return false
	}
	if f.UserID != "" && l.UserID != f.UserID {
		return false
	}
	if f.EntityID != "" && l.EntityID != f.EntityID {
		return false
	}
	if f.Start != nil && l.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && l.Timestamp.After(*f.End) {
		return false
	}
	return true
}

func containsType(haystack []entity.ActivityType, needle entity.ActivityType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsKind(haystack []entity.EntityKind, needle entity.EntityKind) bool {
	for _, k := range haystack {
		if k == needle {
			return true
		}
	}
	return false
}

// sortLogs orders entries by the requested field, timestamp descending by
// default.
func sortLogs(logs []entity.ActivityLog, by, order string) {
	sort.SliceStable(logs, func(i, j int) bool {
		if order != "asc" {
			i, j = j, i
		}
		switch by {
		case "type":
			return logs[i].Type < logs[j].Type
		case "entityType":
			return logs[i].EntityType < logs[j].EntityType
		default:
			return logs[i].Timestamp.Before(logs[j].Timestamp)
		}
	})
}
