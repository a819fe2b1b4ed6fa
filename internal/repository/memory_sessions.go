package repository

import (
	"context"
	"sync"
	"time"

	"relief-ussd/internal/domain"
)

// MemorySessionsRepo supports running without a database (local dev) and
// backs the service-level tests.
type MemorySessionsRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session // sessionID -> Session
}

func NewMemorySessionsRepo() *MemorySessionsRepo {
	return &MemorySessionsRepo{
		sessions: map[string]domain.Session{},
	}
}

var _ SessionsRepository = (*MemorySessionsRepo)(nil)

func (r *MemorySessionsRepo) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

func (r *MemorySessionsRepo) CreateSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for id, existing := range r.sessions {
		if id != s.SessionID && existing.PhoneHash == s.PhoneHash && existing.Live(now) {
			return ErrPhoneSessionActive
		}
	}
	r.sessions[s.SessionID] = *s
	return nil
}

func (r *MemorySessionsRepo) UpdateSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.SessionID]; !ok {
		return ErrSessionNotFound
	}
	r.sessions[s.SessionID] = *s
	return nil
}

func (r *MemorySessionsRepo) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

func (r *MemorySessionsRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.ExpiredAt(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}
