package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"huddle/pkg/domain"
	dErrors "huddle/pkg/domain-errors"
)

// MemoryStore keeps sessions in memory for tests and single-node development.
// Expiry is enforced lazily on read so semantics match the Redis TTL model:
// an expired record is indistinguishable from a deleted one.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*memoryRecord
	byUser   map[domain.UserID]map[domain.SessionID]struct{}
	now      func() time.Time
}

type memoryRecord struct {
	session   Session
	expiresAt time.Time
}

// NewMemory constructs an empty in-memory session store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[domain.SessionID]*memoryRecord),
		byUser:   make(map[domain.UserID]map[domain.SessionID]struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, session *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.ID] = &memoryRecord{session: copied, expiresAt: s.now().Add(ttl)}
	if s.byUser[session.UserID] == nil {
		s.byUser[session.UserID] = make(map[domain.SessionID]struct{})
	}
	s.byUser[session.UserID][session.ID] = struct{}{}
	return nil
}

// live returns the record if it exists and has not expired. Caller holds at
// least a read lock.
func (s *MemoryStore) live(sessionID domain.SessionID) (*memoryRecord, bool) {
	rec, ok := s.sessions[sessionID]
	if !ok || s.now().After(rec.expiresAt) {
		return nil, false
	}
	return rec, true
}

func (s *MemoryStore) Validate(_ context.Context, sessionID domain.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.live(sessionID)
	return ok
}

func (s *MemoryStore) ValidateWithRefresh(_ context.Context, sessionID domain.SessionID, presented string) bool {
	if presented == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.live(sessionID)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(rec.session.RefreshCredential), []byte(presented)) == 1
}

func (s *MemoryStore) Rotate(_ context.Context, sessionID domain.SessionID, newCredential string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.live(sessionID)
	if !ok {
		// Concurrent logout; silent no-op by contract.
		return nil
	}
	rec.session.RefreshCredential = newCredential
	rec.session.LastAccessedAt = s.now()
	rec.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, sessionID domain.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.live(sessionID)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	copied := rec.session
	return &copied, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID domain.UserID) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*Session, 0)
	for sessionID := range s.byUser[userID] {
		if rec, ok := s.live(sessionID); ok {
			copied := rec.session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (s *MemoryStore) Revoke(_ context.Context, userID domain.UserID, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(userID, sessionID)
	return nil
}

func (s *MemoryStore) RevokeAll(_ context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID := range s.byUser[userID] {
		s.deleteLocked(userID, sessionID)
	}
	return nil
}

func (s *MemoryStore) RevokeOthers(_ context.Context, userID domain.UserID, exceptSessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID := range s.byUser[userID] {
		if sessionID == exceptSessionID {
			continue
		}
		s.deleteLocked(userID, sessionID)
	}
	return nil
}

func (s *MemoryStore) deleteLocked(userID domain.UserID, sessionID domain.SessionID) {
	delete(s.sessions, sessionID)
	if set, ok := s.byUser[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
}
