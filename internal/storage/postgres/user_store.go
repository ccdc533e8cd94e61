package postgres

import (
	"context"
	"time"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// UserStore implements store.UserRepository.
type UserStore struct {
	db Querier
}

// NewUserStore wraps a querier.
func NewUserStore(db Querier) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, username, password_hash, created_at, last_login`

// CreateUser inserts a user and returns the stored row.
func (s *UserStore) CreateUser(ctx context.Context, username, passwordHash string) (store.User, error) {
	var u store.User
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING `+userColumns,
		username, passwordHash,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		return store.User{}, mapError(err, "insert user")
	}
	return u, nil
}

// GetByUsername looks a user up by name.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (store.User, error) {
	var u store.User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		return store.User{}, mapError(err, "get user by username")
	}
	return u, nil
}

// GetByID looks a user up by id.
func (s *UserStore) GetByID(ctx context.Context, id int64) (store.User, error) {
	var u store.User
	err := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		return store.User{}, mapError(err, "get user by id")
	}
	return u, nil
}

// TouchLastLogin records a successful login.
func (s *UserStore) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at, id)
	return expectOne(tag, err, "update last login")
}

// CountUsers returns the number of users.
func (s *UserStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, mapError(err, "count users")
	}
	return n, nil
}
