package repository

import (
	"context"
	"sync"

	"taskboard-auth/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository used by tests and by the server when
// it runs without DATABASE_URL in development.
type MemoryRepository struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	federated map[string]string // provider + "\x00" + subject -> user id
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[string]*domain.User),
		federated: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyOf(r.users[id]), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, u := range r.users {
		if domain.NormalizeEmail(u.Email) == email {
			return r.copyOf(u), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) GetByFederated(ctx context.Context, provider, subject string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.federated[provider+"\x00"+subject]
	if !ok {
		return nil, nil
	}
	return r.copyOf(r.users[id]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := domain.NormalizeEmail(u.Email)
	for _, existing := range r.users {
		if existing.ID == u.ID || domain.NormalizeEmail(existing.Email) == email || existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		cp := *u
		r.users[u.ID] = &cp
	}
	return nil
}

func (r *MemoryRepository) LinkFederated(ctx context.Context, provider, subject, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := provider + "\x00" + subject
	if _, ok := r.federated[key]; !ok {
		r.federated[key] = userID
	}
	return nil
}

func (r *MemoryRepository) SetMaxSessions(ctx context.Context, userID string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.MaxSessions = n
	}
	return nil
}

func (r *MemoryRepository) SetRequire2FA(ctx context.Context, userID string, require bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.Require2FA = require
	}
	return nil
}

func (r *MemoryRepository) copyOf(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
