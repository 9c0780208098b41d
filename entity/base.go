// Package entity defines the persisted domain types and their validation
// rules. Entities are plain structs; all persistence behavior lives in the
// service layer.
package entity

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid wraps every validation failure so callers can distinguish
// "malformed entity" from storage errors with errors.Is.
var ErrInvalid = errors.New("invalid entity")

// invalidf builds a validation error carrying ErrInvalid in its chain.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Base carries the fields shared by every persisted entity. ID is
// immutable after creation and UpdatedAt never precedes CreatedAt.
// DeviceID attributes the write to a device or process for audit and
// conflict inspection.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	DeviceID  string    `json:"deviceId,omitempty"`
}

// Meta exposes the shared fields to the generic repository.
func (b *Base) Meta() *Base { return b }

// validateBase checks the invariants common to all entities.
func (b *Base) validateBase() error {
	if b.ID == "" {
		return invalidf("missing id")
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		return invalidf("missing timestamps")
	}
	if b.UpdatedAt.Before(b.CreatedAt) {
		return invalidf("updatedAt precedes createdAt")
	}
	return nil
}
