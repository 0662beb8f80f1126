package authflow

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"huddle/internal/identity"
	"huddle/pkg/domain"
)

// userFixture is one entry in a JSON seed file. Either password (hashed on
// load) or password_hash may be set; federated-only accounts set neither.
type userFixture struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Role          string `json:"role"`
	Password      string `json:"password"`
	PasswordHash  string `json:"password_hash"`
	GoogleSubject string `json:"google_subject"`
	Status        string `json:"status"`
}

// LoadUsersFile reads a JSON array of user fixtures and returns a seeded
// in-memory store. Development and test environments use this in place of the
// external user service.
func LoadUsersFile(path string) (*MemoryUserStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var fixtures []userFixture
	if err := json.Unmarshal(raw, &fixtures); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	users := make([]*User, 0, len(fixtures))
	for i, f := range fixtures {
		if f.Email == "" {
			return nil, fmt.Errorf("users file entry %d: email is required", i)
		}

		id := domain.NewUserID()
		if f.ID != "" {
			id, err = domain.ParseUserID(f.ID)
			if err != nil {
				return nil, fmt.Errorf("users file entry %d: %w", i, err)
			}
		}

		hash := f.PasswordHash
		if hash == "" && f.Password != "" {
			hashed, err := bcrypt.GenerateFromPassword([]byte(f.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("users file entry %d: hash password: %w", i, err)
			}
			hash = string(hashed)
		}

		role := f.Role
		if role == "" {
			role = identity.RoleMember
		}
		status := UserStatus(f.Status)
		if status == "" {
			status = UserStatusActive
		}

		users = append(users, &User{
			ID:            id,
			Email:         f.Email,
			FullName:      f.FullName,
			Role:          role,
			PasswordHash:  hash,
			GoogleSubject: f.GoogleSubject,
			Status:        status,
		})
	}

	return NewMemoryUserStore(users...), nil
}
