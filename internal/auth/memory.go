package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"campusiam.org/internal/ids"
)

// InMemory implements UserStore with in-process concurrency safety. Dev mode
// and tests run on it; production uses the Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string // normalized email -> id
}

var _ UserStore = (*InMemory)(nil)

// NewInMemory creates an empty in-memory user store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *InMemory) Create(ctx context.Context, u *User) error {
	email := NormalizeEmail(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = email
	cp := *u
	s.byID[u.ID] = &cp
	s.byEmail[email] = u.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemory) Update(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[u.ID]
	if !ok {
		return ErrNotFound
	}
	email := NormalizeEmail(u.Email)
	if email != prev.Email {
		if _, taken := s.byEmail[email]; taken {
			return ErrEmailTaken
		}
		delete(s.byEmail, prev.Email)
		s.byEmail[email] = u.ID
	}
	u.Email = email
	cp := *u
	s.byID[u.ID] = &cp
	return nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byID, id)
	return nil
}

func (s *InMemory) List(ctx context.Context, filter ListFilter) ([]*User, error) {
	filter = filter.normalized()
	needle := strings.ToLower(filter.Search)

	s.mu.RLock()
	matched := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		if needle == "" ||
			strings.Contains(strings.ToLower(u.Name), needle) ||
			strings.Contains(u.Email, needle) {
			matched = append(matched, u)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	start := (filter.Page - 1) * filter.Limit
	if start >= len(matched) {
		return []*User{}, nil
	}
	end := start + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]*User, 0, end-start)
	for _, u := range matched[start:end] {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}
