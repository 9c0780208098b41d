// Package service implements the repository layer: a generic CRUD base
// over the storage Manager plus the domain services built on it.
package service

import (
	"time"

	"github.com/google/uuid"
)

// Runtime carries the ambient inputs every service needs: device
// attribution, the clock and the id generator. Tests inject fixed values.
type Runtime struct {
	// DeviceID identifies the writing device or process, recorded on
	// every entity write.
	DeviceID string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID generates entity ids. Defaults to random v4 UUIDs.
	NewID func() string
}

// normalized fills in defaults for unset fields.
func (r Runtime) normalized() Runtime {
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.NewID == nil {
		r.NewID = func() string { return uuid.New().String() }
	}
	return r
}

// UserInfo is the display identity attached to activity log entries.
type UserInfo struct {
	Name     string
	Initials string
}

// UserLookup resolves a user id to display identity. Services that write
// activity logs take one at construction; a nil lookup falls back to the
// raw user id.
type UserLookup interface {
	LookupUser(userID string) (UserInfo, bool)
}

// UserLookupFunc adapts a function to the UserLookup interface.
type UserLookupFunc func(userID string) (UserInfo, bool)

func (f UserLookupFunc) LookupUser(userID string) (UserInfo, bool) { return f(userID) }

// resolveUser returns the display identity for userID, falling back to
// the raw id when no lookup is configured or the user is unknown.
func resolveUser(lookup UserLookup, userID string) UserInfo {
	if lookup != nil {
		if info, ok := lookup.LookupUser(userID); ok {
			return info
		}
	}
	return UserInfo{Name: userID, Initials: initialsOf(userID)}
}

// initialsOf derives up-to-two uppercase initials from a name or id.
func initialsOf(name string) string {
	var out []rune
	prevSpace := true
	for _, r := range name {
		if r == ' ' || r == '\t' {
			prevSpace = true
			continue
		}
		if prevSpace {
			out = append(out, toUpper(r))
			if len(out) == 2 {
				break
			}
		}
		prevSpace = false
	}
	return string(out)
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 'a' + 'A'
	}
	return r
}
