package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/pkg/domain"
)

func TestSessionJSON_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Nanosecond)
	original := &Session{
		ID:                domain.NewSessionID(),
		UserID:            domain.NewUserID(),
		RefreshCredential: "opaque-credential",
		DeviceInfo:        "Firefox on Linux",
		ClientIP:          "198.51.100.7",
		CreatedAt:         now,
		LastAccessedAt:    now.Add(time.Minute),
	}

	raw, err := json.Marshal(sessionToJSON(original))
	require.NoError(t, err)

	var decoded sessionJSON
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := sessionFromJSON(&decoded)
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.UserID, restored.UserID)
	assert.Equal(t, original.RefreshCredential, restored.RefreshCredential)
	assert.Equal(t, original.DeviceInfo, restored.DeviceInfo)
	assert.Equal(t, original.ClientIP, restored.ClientIP)
	assert.True(t, original.CreatedAt.Equal(restored.CreatedAt))
	assert.True(t, original.LastAccessedAt.Equal(restored.LastAccessedAt))
}

func TestSessionFromJSON_BadIDs(t *testing.T) {
	_, err := sessionFromJSON(&sessionJSON{ID: "not-a-uuid", UserID: domain.NewUserID().String()})
	require.Error(t, err)

	_, err = sessionFromJSON(&sessionJSON{ID: domain.NewSessionID().String(), UserID: "not-a-uuid"})
	require.Error(t, err)
}

func TestKeys(t *testing.T) {
	sessionID := domain.NewSessionID()
	userID := domain.NewUserID()

	assert.Equal(t, "session:"+sessionID.String(), sessionKey(sessionID))
	assert.Equal(t, "user_sessions:"+userID.String(), userSessionsKey(userID))
}
