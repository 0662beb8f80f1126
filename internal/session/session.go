// Package session owns the server-side session registry. A session record
// existing in the store is the definition of a valid login: absence means
// revoked or expired, and every trust-boundary crossing re-checks it.
package session

import (
	"context"
	"time"

	"huddle/pkg/domain"
)

// Session is the server-side record proving a login is still valid.
// It is the sole source of revocability; the access token alone proves nothing.
type Session struct {
	ID                domain.SessionID
	UserID            domain.UserID
	RefreshCredential string
	DeviceInfo        string
	ClientIP          string
	CreatedAt         time.Time
	LastAccessedAt    time.Time
}

// Store is the session registry contract. All operations are idempotent with
// respect to repeated calls with the same arguments, and implementations fail
// closed: any store failure reads as "not authenticated", never as valid.
type Store interface {
	// Create writes the session under its TTL and indexes it by user.
	Create(ctx context.Context, s *Session, ttl time.Duration) error

	// Validate reports whether the session currently exists. Existence is
	// validity; there is no separate revoked state to consult.
	Validate(ctx context.Context, sessionID domain.SessionID) bool

	// ValidateWithRefresh additionally requires an exact match against the
	// stored refresh credential. A mismatch signals token replay or a stale
	// credential and must fail closed.
	ValidateWithRefresh(ctx context.Context, sessionID domain.SessionID, presented string) bool

	// Rotate overwrites the refresh credential, resets the TTL, and updates
	// the last-accessed time. It is a silent no-op if the session no longer
	// exists (race with a concurrent logout).
	Rotate(ctx context.Context, sessionID domain.SessionID, newCredential string, ttl time.Duration) error

	// FindByID returns the session record, or a not_found domain error.
	FindByID(ctx context.Context, sessionID domain.SessionID) (*Session, error)

	// ListByUser returns every live session for a user (multi-device).
	ListByUser(ctx context.Context, userID domain.UserID) ([]*Session, error)

	// Revoke deletes one session and removes it from the user index.
	// Revoking an absent session is a no-op, not an error.
	Revoke(ctx context.Context, userID domain.UserID, sessionID domain.SessionID) error

	// RevokeAll deletes every session for the user ("log out everywhere").
	RevokeAll(ctx context.Context, userID domain.UserID) error

	// RevokeOthers deletes every session for the user except one
	// ("log out other devices").
	RevokeOthers(ctx context.Context, userID domain.UserID, exceptSessionID domain.SessionID) error
}
