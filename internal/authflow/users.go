package authflow

import (
	"context"
	"strings"
	"sync"

	"huddle/internal/identity"
	"huddle/pkg/domain"
	dErrors "huddle/pkg/domain-errors"
)

// UserStatus gates whether an account may authenticate at all.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User is the credential-bearing identity record. Full user management is a
// separate service; the auth flow only needs lookup by email and federated
// auto-provisioning.
type User struct {
	ID            domain.UserID
	Email         string
	FullName      string
	Role          string
	PasswordHash  string
	GoogleSubject string
	Status        UserStatus
}

// Principal converts the stored user into the trusted principal minted into
// tokens and headers.
func (u *User) Principal(sessionID domain.SessionID) identity.Principal {
	return identity.Principal{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		FullName:  u.FullName,
		SessionID: sessionID,
	}
}

// UserStore is the read/provision contract the auth flow depends on.
type UserStore interface {
	// FindByEmail returns the user, or a not_found domain error.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Create provisions a user (first federated login).
	Create(ctx context.Context, user *User) error
}

// MemoryUserStore backs tests and development. The production user service is
// an external collaborator reached over its own API.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*User
}

// NewMemoryUserStore seeds a store with the given users.
func NewMemoryUserStore(users ...*User) *MemoryUserStore {
	s := &MemoryUserStore{byEmail: make(map[string]*User, len(users))}
	for _, u := range users {
		s.byEmail[normalizeEmail(u.Email)] = u
	}
	return s
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryUserStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(user.Email)
	if _, exists := s.byEmail[key]; exists {
		return dErrors.New(dErrors.CodeConflict, "user already exists")
	}
	copied := *user
	s.byEmail[key] = &copied
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
