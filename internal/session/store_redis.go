package session

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"huddle/pkg/domain"
	dErrors "huddle/pkg/domain-errors"
)

const (
	// Redis key prefixes for session data
	sessionKeyPrefix     = "session:"
	userSessionKeyPrefix = "user_sessions:"

	// maxSessionsPerUser caps the number of sessions loaded per user to
	// prevent unbounded memory growth.
	maxSessionsPerUser = 100
)

// sessionJSON is the JSON-serializable representation of a Session.
type sessionJSON struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	RefreshCredential string `json:"refresh_credential"`
	DeviceInfo        string `json:"device_info"`
	ClientIP          string `json:"client_ip"`
	CreatedAt         int64  `json:"created_at"`       // Unix nano
	LastAccessedAt    int64  `json:"last_accessed_at"` // Unix nano
}

func sessionToJSON(s *Session) *sessionJSON {
	return &sessionJSON{
		ID:                s.ID.String(),
		UserID:            s.UserID.String(),
		RefreshCredential: s.RefreshCredential,
		DeviceInfo:        s.DeviceInfo,
		ClientIP:          s.ClientIP,
		CreatedAt:         s.CreatedAt.UnixNano(),
		LastAccessedAt:    s.LastAccessedAt.UnixNano(),
	}
}

func sessionFromJSON(j *sessionJSON) (*Session, error) {
	sessionID, err := uuid.Parse(j.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &Session{
		ID:                domain.SessionID(sessionID),
		UserID:            domain.UserID(userID),
		RefreshCredential: j.RefreshCredential,
		DeviceInfo:        j.DeviceInfo,
		ClientIP:          j.ClientIP,
		CreatedAt:         time.Unix(0, j.CreatedAt),
		LastAccessedAt:    time.Unix(0, j.LastAccessedAt),
	}, nil
}

// RedisStore persists sessions in Redis. This is the production
// implementation: every service instance shares one registry, so a revocation
// anywhere is visible everywhere on the next check.
type RedisStore struct {
	client redis.Cmdable
	logger *slog.Logger
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client redis.Cmdable, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func sessionKey(sessionID domain.SessionID) string {
	return sessionKeyPrefix + sessionID.String()
}

func userSessionsKey(userID domain.UserID) string {
	return userSessionKeyPrefix + userID.String()
}

func (s *RedisStore) Create(ctx context.Context, session *Session, ttl time.Duration) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	data, err := json.Marshal(sessionToJSON(session))
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// The user index set carries no TTL of its own; stale members are
	// removed opportunistically on revoke and list.
	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.ID.String())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *RedisStore) Validate(ctx context.Context, sessionID domain.SessionID) bool {
	exists, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		// Store unavailable reads as not authenticated. Never fail open.
		s.logger.ErrorContext(ctx, "session validate failed, treating as invalid",
			"error", err,
			"session_id", sessionID.String(),
		)
		return false
	}
	return exists == 1
}

func (s *RedisStore) ValidateWithRefresh(ctx context.Context, sessionID domain.SessionID, presented string) bool {
	if presented == "" {
		return false
	}
	session, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(session.RefreshCredential), []byte(presented)) == 1
}

func (s *RedisStore) Rotate(ctx context.Context, sessionID domain.SessionID, newCredential string, ttl time.Duration) error {
	key := sessionKey(sessionID)

	data, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Session vanished between validate and rotate (concurrent logout).
		// At-most-once semantics make this acceptable: the refresh response
		// carries a credential nobody can use.
		return nil
	}
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}

	var j sessionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	j.RefreshCredential = newCredential
	j.LastAccessedAt = time.Now().UnixNano()

	newData, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, key, newData, ttl).Err(); err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, sessionID domain.SessionID) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find session by id: %w", err)
	}

	var j sessionJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return sessionFromJSON(&j)
}

func (s *RedisStore) ListByUser(ctx context.Context, userID domain.UserID) ([]*Session, error) {
	userKey := userSessionsKey(userID)

	sessionIDs, err := s.client.SRandMemberN(ctx, userKey, maxSessionsPerUser).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids by user: %w", err)
	}
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, sessionKeyPrefix+sid)
	}
	// Individual Gets may fail with redis.Nil for sessions that expired
	// after the index read; those are filtered below.
	_, _ = pipe.Exec(ctx)

	sessions := make([]*Session, 0, len(sessionIDs))
	var expiredIDs []string

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			expiredIDs = append(expiredIDs, sessionIDs[i])
			continue
		}
		if err != nil {
			continue
		}
		var j sessionJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			continue
		}
		if session, err := sessionFromJSON(&j); err == nil {
			sessions = append(sessions, session)
		}
	}

	// Cleanup expired session IDs from the user index (best effort).
	if len(expiredIDs) > 0 {
		if err := s.client.SRem(ctx, userKey, expiredIDs).Err(); err != nil {
			s.logger.WarnContext(ctx, "failed to prune expired session index entries",
				"error", err,
				"user_id", userID.String(),
			)
		}
	}

	return sessions, nil
}

func (s *RedisStore) Revoke(ctx context.Context, userID domain.UserID, sessionID domain.SessionID) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, userSessionsKey(userID), sessionID.String())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *RedisStore) RevokeAll(ctx context.Context, userID domain.UserID) error {
	userKey := userSessionsKey(userID)

	sessionIDs, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list session ids for revoke: %w", err)
	}
	if len(sessionIDs) == 0 {
		// Already fully revoked. Idempotent, not an error.
		return nil
	}

	pipe := s.client.Pipeline()
	for _, sid := range sessionIDs {
		pipe.Del(ctx, sessionKeyPrefix+sid)
	}
	pipe.Del(ctx, userKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	return nil
}

func (s *RedisStore) RevokeOthers(ctx context.Context, userID domain.UserID, exceptSessionID domain.SessionID) error {
	userKey := userSessionsKey(userID)

	sessionIDs, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list session ids for revoke: %w", err)
	}

	keep := exceptSessionID.String()
	pipe := s.client.Pipeline()
	touched := false
	for _, sid := range sessionIDs {
		if sid == keep {
			continue
		}
		pipe.Del(ctx, sessionKeyPrefix+sid)
		pipe.SRem(ctx, userKey, sid)
		touched = true
	}
	if !touched {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("revoke other sessions: %w", err)
	}
	return nil
}
