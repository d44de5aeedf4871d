// Package memory provides in-process implementations of the user and audit stores.
// It backs local development when no database is configured and the HTTP tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auditdesk.org/internal/auth"
)

var _ auth.UserStore = (*Users)(nil)

// Users is a mutex-guarded auth.UserStore.
type Users struct {
	mu     sync.RWMutex
	rows   map[int64]auth.User
	nextID int64
	now    func() time.Time
}

// NewUsers returns an empty store.
func NewUsers() *Users {
	return &Users{rows: make(map[int64]auth.User), now: time.Now}
}

func (s *Users) FindByID(_ context.Context, id int64) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.rows[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (s *Users) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.rows {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Users) Create(_ context.Context, u *auth.User) error {
	email := auth.NormalizeEmail(u.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.Email == email {
			return auth.ErrConflict
		}
	}
	s.nextID++
	now := s.now().UTC()
	u.ID = s.nextID
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now
	s.rows[u.ID] = *u
	return nil
}

func (s *Users) List(_ context.Context) ([]auth.User, error) {
	s.mu.RLock()
	out := make([]auth.User, 0, len(s.rows))
	for _, u := range s.rows {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Users) Count(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active int64
	for _, u := range s.rows {
		if u.IsActive {
			active++
		}
	}
	return int64(len(s.rows)), active, nil
}

func (s *Users) ToggleActive(_ context.Context, id int64) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	u.IsActive = !u.IsActive
	u.UpdatedAt = s.now().UTC()
	s.rows[id] = u
	return &u, nil
}

func (s *Users) emailOf(id int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.rows[id]
	return u.Email, ok
}
