package repository

import (
	"context"
	"sync"

	"taskboard-auth/backend/internal/mfa/domain"
)

// MemoryRepository is an in-process Repository for tests and database-less development.
type MemoryRepository struct {
	mu      sync.Mutex
	secrets map[string]domain.Secret
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{secrets: make(map[string]domain.Secret)}
}

func (r *MemoryRepository) Get(ctx context.Context, userID string) (*domain.Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.secrets[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) CreateIfAbsent(ctx context.Context, s *domain.Secret) (*domain.Secret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.secrets[s.UserID]; ok {
		return &existing, nil
	}
	r.secrets[s.UserID] = *s
	cp := *s
	return &cp, nil
}
