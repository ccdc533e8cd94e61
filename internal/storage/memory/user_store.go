package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// UserStore implements store.UserRepository in memory.
type UserStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]store.User
}

// NewUserStore constructs an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{byID: make(map[int64]store.User)}
}

// CreateUser inserts a user with the next serial id.
func (s *UserStore) CreateUser(_ context.Context, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Username, username) {
			return store.User{}, fmt.Errorf("%w: username %s", store.ErrConflict, username)
		}
	}
	s.nextID++
	user := store.User{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.byID[user.ID] = user
	return user, nil
}

// GetByUsername looks a user up by name.
func (s *UserStore) GetByUsername(_ context.Context, username string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

// GetByID looks a user up by id.
func (s *UserStore) GetByID(_ context.Context, id int64) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

// TouchLastLogin records a successful login.
func (s *UserStore) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	u.LastLogin = &at
	s.byID[id] = u
	return nil
}

// CountUsers returns the number of users.
func (s *UserStore) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}
