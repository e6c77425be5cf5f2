package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskboard-auth/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository used by tests and by the server when
// it runs without DATABASE_URL in development.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRecency(userID), nil
}

func (r *MemoryRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok, nil
}

func (r *MemoryRepository) DeleteMany(ctx context.Context, userID string, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok && s.UserID == userID {
			removed = append(removed, id)
			delete(r.sessions, id)
		}
	}
	return removed, nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.LastActive = at
	}
	return ok, nil
}

func (r *MemoryRepository) MarkTwoFactorVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.TwoFactorVerified = true
		s.LastLogin = at
	}
	return ok, nil
}

// byRecency returns copies of userID's sessions, most recently active first. Caller holds mu.
func (r *MemoryRepository) byRecency(userID string) []*domain.Session {
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}
