// Package events turns local state changes into asynchronous activity and
// notification messages without leaking events for work that rolled back.
package events

import (
	"time"

	"huddle/internal/identity"
)

// Event types emitted by the identity core. Business services define their
// own (task.created, board.moved, ...) with the same shape.
const (
	TypeUserLoggedIn    = "user.logged_in"
	TypeUserLoggedOut   = "user.logged_out"
	TypeSessionsRevoked = "user.sessions_revoked"
)

// Event is a domain event created inside one request's unit of work. It is
// never persisted locally: it either reaches the messaging channel once per
// committed unit of work, or is dropped when the work rolls back.
type Event struct {
	Type        string            `json:"type"`
	ActorID     string            `json:"actor_id"`
	ActorEmail  string            `json:"actor_email"`
	ActorName   string            `json:"actor_name"`
	TargetID    string            `json:"target_id,omitempty"`
	TargetName  string            `json:"target_name,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewEvent builds an event attributed to the given principal.
func NewEvent(eventType string, actor identity.Principal) Event {
	return Event{
		Type:       eventType,
		ActorID:    actor.UserID.String(),
		ActorEmail: actor.Email,
		ActorName:  actor.FullName,
		Timestamp:  time.Now().UTC(),
	}
}
