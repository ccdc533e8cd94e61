package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// DefaultHistoryTTL applies when NewHistoryCache receives a non-positive TTL.
const DefaultHistoryTTL = time.Hour

// HistoryCache stores recent chat messages per session as a JSON list.
type HistoryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewHistoryCache wraps client.
func NewHistoryCache(client redis.UniversalClient, ttl time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &HistoryCache{client: client, ttl: ttl}
}

// Get returns the cached messages and whether the key existed.
func (c *HistoryCache) Get(ctx context.Context, sessionID string) ([]store.ChatMessage, bool, error) {
	raw, err := c.client.Get(ctx, historyKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history: %w", err)
	}
	var messages []store.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false, fmt.Errorf("decode cached history: %w", err)
	}
	return messages, true, nil
}

// Set replaces the cached messages and refreshes the TTL.
func (c *HistoryCache) Set(ctx context.Context, sessionID string, messages []store.ChatMessage) error {
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(sessionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set history: %w", err)
	}
	return nil
}

// Delete drops the cached messages.
func (c *HistoryCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history: %w", err)
	}
	return nil
}

func historyKey(sessionID string) string {
	return "chat:history:" + sessionID
}
