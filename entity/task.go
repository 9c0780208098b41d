package entity

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// TaskStatus values.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// TaskPriority values.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// RecurringPattern values shared by tasks and calendar events.
type RecurringPattern string

const (
	Daily   RecurringPattern = "daily"
	Weekly  RecurringPattern = "weekly"
	Monthly RecurringPattern = "monthly"
	Yearly  RecurringPattern = "yearly"
)

func (p RecurringPattern) valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Recurring describes a repetition schedule. DaysOfWeek uses 0-6 with
// Sunday as 0, matching time.Weekday.
type Recurring struct {
	Pattern    RecurringPattern `json:"pattern"`
	Interval   int              `json:"interval,omitempty"`
	EndDate    *time.Time       `json:"endDate,omitempty"`
	DaysOfWeek []int            `json:"daysOfWeek,omitempty"`
}

// UnmarshalJSON tolerates malformed descriptors written by older schema
// versions: anything that does not decode as an object becomes the zero
// value, which Normalize later drops.
func (r *Recurring) UnmarshalJSON(data []byte) error {
	type plain Recurring
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*r = Recurring{}
		return nil
	}
	*r = Recurring(p)
	return nil
}

// Hours is a non-negative hour count that decodes from either a JSON
// number or a numeric string. Negative and unparseable inputs clamp to 0.
type Hours float64

func (h *Hours) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*h = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			*h = 0
			return nil
		}
		*h = Hours(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil || f < 0 {
		*h = 0
		return nil
	}
	*h = Hours(f)
	return nil
}

// StringList decodes leniently: a non-array value (or null) becomes an
// empty list and non-string elements are skipped.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = StringList{}
		return nil
	}
	out := make(StringList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	*l = out
	return nil
}

// Attachment is a file attached to a task.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Size int64  `json:"size,omitempty"`
	Type string `json:"type,omitempty"`
}

// Task is a unit of work. Subtasks form a tree via ParentTaskID and the
// Subtasks list; Dependencies form a DAG. Both relations must stay
// acyclic, which the task service enforces before every write.
type Task struct {
	Base

	UserID    string `json:"userId"`
	ProjectID string `json:"projectId,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status   TaskStatus   `json:"status"`
	Priority TaskPriority `json:"priority"`

	DueDate     *time.Time `json:"dueDate,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	AssigneeID string `json:"assigneeId,omitempty"`

	ParentTaskID string     `json:"parentTaskId,omitempty"`
	Subtasks     StringList `json:"subtasks,omitempty"`
	Dependencies StringList `json:"dependencies,omitempty"`

	EstimatedHours Hours `json:"estimatedHours,omitempty"`
	ActualHours    Hours `json:"actualHours,omitempty"`

	Tags        StringList   `json:"tags,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Recurring *Recurring `json:"recurring,omitempty"`
}

// Normalize repairs data written by older schema versions. A recurring
// descriptor with a missing or unknown pattern is dropped rather than
// rejected.
func (t *Task) Normalize() {
	if t.EstimatedHours < 0 {
		t.EstimatedHours = 0
	}
	if t.ActualHours < 0 {
		t.ActualHours = 0
	}
	if t.Recurring != nil && !t.Recurring.Pattern.valid() {
		t.Recurring = nil
	}
}

// Validate checks the task invariants enforced before storage.
func (t *Task) Validate() error {
	if err := t.validateBase(); err != nil {
		return err
	}
	if t.UserID == "" {
		return invalidf("task missing userId")
	}
	if t.Title == "" {
		return invalidf("task missing title")
	}
	if !t.Status.valid() {
		return invalidf("unknown task status %q", t.Status)
	}
	if !t.Priority.valid() {
		return invalidf("unknown task priority %q", t.Priority)
	}
	if t.Recurring != nil && !t.Recurring.Pattern.valid() {
		return invalidf("unknown recurring pattern %q", t.Recurring.Pattern)
	}
	return nil
}
