package entity

import "time"

// ActivityType classifies what a log entry records.
type ActivityType string

const (
	ActivityCreate   ActivityType = "create"
	ActivityUpdate   ActivityType = "update"
	ActivityDelete   ActivityType = "delete"
	ActivityComplete ActivityType = "complete"
	ActivityComment  ActivityType = "comment"
	ActivityDocument ActivityType = "document"
	ActivityView     ActivityType = "view"
	ActivityExport   ActivityType = "export"
	ActivityShare    ActivityType = "share"
)

func (t ActivityType) valid() bool {
	switch t {
	case ActivityCreate, ActivityUpdate, ActivityDelete, ActivityComplete,
		ActivityComment, ActivityDocument, ActivityView, ActivityExport, ActivityShare:
		return true
	}
	return false
}

// EntityKind names the kind of entity an activity refers to.
type EntityKind string

const (
	KindProject  EntityKind = "project"
	KindTask     EntityKind = "task"
	KindEvent    EntityKind = "event"
	KindDocument EntityKind = "document"
	KindClient   EntityKind = "client"
	KindSettings EntityKind = "settings"
)

// FieldChange records one field-level diff inside an update activity.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"oldValue,omitempty"`
	NewValue any    `json:"newValue,omitempty"`
}

// ActivityLog is an immutable audit record. Entries are only ever created
// as side effects of domain mutations, or pruned in bulk by age.
type ActivityLog struct {
	Base

	Type   ActivityType `json:"type"`
	Action string       `json:"action"`

	EntityType EntityKind `json:"entityType"`
	EntityID   string     `json:"entityId"`
	EntityName string     `json:"entityName"`

	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	UserInitials string `json:"userInitials"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Changes     []FieldChange  `json:"changes,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the activity log invariants enforced before storage.
func (l *ActivityLog) Validate() error {
	if err := l.validateBase(); err != nil {
		return err
	}
	if !l.Type.valid() {
		return invalidf("unknown activity type %q", l.Type)
	}
	if l.Action == "" {
		return invalidf("activity missing action")
	}
	if l.EntityType == "" || l.EntityID == "" {
		return invalidf("activity missing entity reference")
	}
	if l.UserID == "" {
		return invalidf("activity missing userId")
	}
	if l.Timestamp.IsZero() {
		return invalidf("activity missing timestamp")
	}
	return nil
}
