package entity

import (
	"encoding/json"
	"time"
)

// EventType values.
type EventType string

const (
	EventMeeting   EventType = "meeting"
	EventDeadline  EventType = "deadline"
	EventMilestone EventType = "milestone"
	EventReminder  EventType = "reminder"
	EventOther     EventType = "other"
)

func (t EventType) valid() bool {
	switch t {
	case EventMeeting, EventDeadline, EventMilestone, EventReminder, EventOther:
		return true
	}
	return false
}

// EventStatus values.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventTentative EventStatus = "tentative"
	EventCancelled EventStatus = "cancelled"
)

func (s EventStatus) valid() bool {
	switch s {
	case "", EventConfirmed, EventTentative, EventCancelled:
		return true
	}
	return false
}

// AttendeeStatus is an attendee's response to an invitation.
type AttendeeStatus string

const (
	AttendeeAccepted AttendeeStatus = "accepted"
	AttendeeDeclined AttendeeStatus = "declined"
	AttendeeMaybe    AttendeeStatus = "maybe"
	AttendeePending  AttendeeStatus = "pending"
)

// Attendee is a participant in a calendar event.
type Attendee struct {
	Name   string         `json:"name"`
	Email  string         `json:"email,omitempty"`
	Status AttendeeStatus `json:"status,omitempty"`
}

// Reminder schedules a notification some minutes before an event.
type Reminder struct {
	Type    string `json:"type"` // "email", "popup" or "notification"
	Minutes int    `json:"minutes"`
}

// EventRecurring extends Recurring with per-occurrence exception dates.
type EventRecurring struct {
	Recurring
	Exceptions []time.Time `json:"exceptions,omitempty"`
}

// UnmarshalJSON keeps the lenient behavior of Recurring for the embedded
// fields while still decoding exceptions. The two halves are decoded
// separately because embedding Recurring in an aux struct would promote
// its custom decoder over the whole object.
func (r *EventRecurring) UnmarshalJSON(data []byte) error {
	var rec Recurring
	_ = rec.UnmarshalJSON(data)

	var aux struct {
		Exceptions []time.Time `json:"exceptions"`
	}
	_ = json.Unmarshal(data, &aux)

	r.Recurring = rec
	r.Exceptions = aux.Exceptions
	return nil
}

// CalendarEvent is a scheduled item on a user's calendar.
type CalendarEvent struct {
	Base

	UserID    string `json:"userId"`
	ProjectID string `json:"projectId,omitempty"`
	ClientID  string `json:"clientId,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	AllDay    bool      `json:"allDay,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`

	Type     EventType   `json:"type"`
	Category string      `json:"category,omitempty"`
	Status   EventStatus `json:"status,omitempty"`

	Attendees []Attendee `json:"attendees,omitempty"`
	Reminders []Reminder `json:"reminders,omitempty"`

	Recurring *EventRecurring `json:"recurring,omitempty"`

	Color string     `json:"color,omitempty"`
	Tags  StringList `json:"tags,omitempty"`
}

// Normalize drops a recurring descriptor whose pattern is unknown.
func (e *CalendarEvent) Normalize() {
	if e.Recurring != nil && !e.Recurring.Pattern.valid() {
		e.Recurring = nil
	}
}

// Validate checks the event invariants enforced before storage. Equal
// start and end dates are allowed for zero-duration events.
func (e *CalendarEvent) Validate() error {
	if err := e.validateBase(); err != nil {
		return err
	}
	if e.UserID == "" {
		return invalidf("event missing userId")
	}
	if e.Title == "" {
		return invalidf("event missing title")
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return invalidf("event missing start or end date")
	}
	if e.EndDate.Before(e.StartDate) {
		return invalidf("event endDate precedes startDate")
	}
	if !e.Type.valid() {
		return invalidf("unknown event type %q", e.Type)
	}
	if !e.Status.valid() {
		return invalidf("unknown event status %q", e.Status)
	}
	return nil
}
