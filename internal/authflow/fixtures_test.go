package authflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"huddle/internal/identity"
)

func writeUsersFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadUsersFile(t *testing.T) {
	path := writeUsersFile(t, `[
		{"id": "7f3cbea1-3aa5-4ed0-91a2-33cde31a1bfa", "email": "alice@example.com", "full_name": "Alice", "role": "ADMIN", "password": "correct horse"},
		{"email": "Bob@Example.com", "password_hash": "$2a$10$abcdefghijklmnopqrstuv", "google_subject": "google-sub-1"},
		{"email": "carol@example.com", "status": "suspended"}
	]`)

	store, err := LoadUsersFile(path)
	require.NoError(t, err)

	alice, err := store.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "7f3cbea1-3aa5-4ed0-91a2-33cde31a1bfa", alice.ID.String())
	assert.Equal(t, identity.RoleAdmin, alice.Role)
	assert.Equal(t, UserStatusActive, alice.Status)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(alice.PasswordHash), []byte("correct horse")))

	// lookup is case-insensitive; pre-hashed credentials pass through untouched
	bob, err := store.FindByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", bob.PasswordHash)
	assert.Equal(t, "google-sub-1", bob.GoogleSubject)
	assert.Equal(t, identity.RoleMember, bob.Role)

	carol, err := store.FindByEmail(context.Background(), "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, UserStatusSuspended, carol.Status)
	assert.False(t, carol.ID.IsNil(), "entries without an id get a generated one")
}

func TestLoadUsersFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "nope"},
		{"missing email", `[{"password": "x"}]`},
		{"bad id", `[{"id": "not-a-uuid", "email": "a@b.com"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadUsersFile(writeUsersFile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadUsersFile_MissingFile(t *testing.T) {
	_, err := LoadUsersFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
