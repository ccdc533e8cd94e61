package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// RevocationStore remembers revoked token ids until they would expire anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const revokedKeyPrefix = "auth:revoked:"

// RedisRevocations keeps revoked ids as expiring Redis keys.
type RedisRevocations struct {
	client redis.UniversalClient
}

// NewRedisRevocations wraps client.
func NewRedisRevocations(client redis.UniversalClient) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// Revoke implements RevocationStore.
func (r *RedisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := r.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set revocation: %w", err)
	}
	return nil
}

// IsRevoked implements RevocationStore.
func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revocation: %w", err)
	}
	return n > 0, nil
}

// MemoryRevocations is the in-process fallback used without Redis.
type MemoryRevocations struct {
	mu      sync.Mutex
	clock   crawler.Clock
	expires map[string]time.Time
}

// NewMemoryRevocations builds an empty store.
func NewMemoryRevocations(clock crawler.Clock) *MemoryRevocations {
	return &MemoryRevocations{clock: clock, expires: make(map[string]time.Time)}
}

// Revoke implements RevocationStore. Expired entries are swept on write.
func (m *MemoryRevocations) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for id, at := range m.expires {
		if !now.Before(at) {
			delete(m.expires, id)
		}
	}
	m.expires[jti] = now.Add(ttl)
	return nil
}

// IsRevoked implements RevocationStore.
func (m *MemoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.expires[jti]
	return ok && m.clock.Now().Before(at), nil
}
