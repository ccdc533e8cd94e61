// Package auth handles password login and session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// Errors returned to callers.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrInvalidInput       = errors.New("username and password are required")
)

// Default admin account created on an empty user table.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

// DefaultTokenTTL is the session lifetime when none is configured.
const DefaultTokenTTL = 24 * time.Hour

// Config controls token issuance.
type Config struct {
	SecretKey string
	TokenTTL  time.Duration
	Issuer    string
}

// Service authenticates users and manages their tokens.
type Service struct {
	users   store.UserRepository
	revoked RevocationStore
	cfg     Config
	clock   crawler.Clock
	ids     crawler.IDGenerator
	logger  *zap.Logger
}

// NewService validates cfg and builds a Service.
func NewService(
	users store.UserRepository,
	revoked RevocationStore,
	cfg Config,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	logger *zap.Logger,
) (*Service, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("auth secret key is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "ragcrawler"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:   users,
		revoked: revoked,
		cfg:     cfg,
		clock:   clock,
		ids:     ids,
		logger:  logger,
	}, nil
}

// HashPassword bcrypt-hashes password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate checks a username and password and records the login.
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	now := s.clock.Now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login failed", zap.Int64("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLogin = &now
	}
	return user, nil
}

// EnsureDefaultAdmin creates admin/admin123 when no users exist. It reports
// whether the account was created.
func (s *Service) EnsureDefaultAdmin(ctx context.Context) (bool, error) {
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, DefaultAdminUsername, DefaultAdminPassword); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	s.logger.Warn("created default admin user; change its password",
		zap.String("username", DefaultAdminUsername))
	return true, nil
}
