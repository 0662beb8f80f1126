// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "huddle/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing UserID where SessionID is expected.
type (
	UserID    uuid.UUID
	SessionID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, header decoding).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseSessionID(s string) (SessionID, error) {
	id, err := parseUUID(s, "session ID")
	return SessionID(id), err
}

// NewUserID returns a freshly generated user identifier.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewSessionID returns a freshly generated session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// String methods - for logging, cache keys, and header values.

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. Nil UUIDs are allowed here; use
// IsNil() at the service layer so store lookups can return proper "not found"
// errors for consistency.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
