package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// ChatStore implements store.ChatRepository in memory.
type ChatStore struct {
	mu       sync.RWMutex
	nextID   int64
	sessions map[string]store.ChatSession
	messages map[string][]store.ChatMessage
}

// NewChatStore constructs an empty ChatStore.
func NewChatStore() *ChatStore {
	return &ChatStore{
		sessions: make(map[string]store.ChatSession),
		messages: make(map[string][]store.ChatMessage),
	}
}

// CreateSession inserts a session.
func (s *ChatStore) CreateSession(_ context.Context, session store.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("%w: session %s", store.ErrConflict, session.ID)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	s.sessions[session.ID] = session
	return nil
}

// GetSession loads a session owned by userID.
func (s *ChatStore) GetSession(_ context.Context, id string, userID int64) (store.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok || session.UserID != userID {
		return store.ChatSession{}, store.ErrNotFound
	}
	return session, nil
}

// ListSessions returns a user's sessions, newest first.
func (s *ChatStore) ListSessions(_ context.Context, userID int64) ([]store.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ChatSession, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteSession removes a session and its messages.
func (s *ChatStore) DeleteSession(_ context.Context, id string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

// AddMessage appends a message and assigns its id.
func (s *ChatStore) AddMessage(_ context.Context, msg store.ChatMessage) (store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[msg.SessionID]; !ok {
		return store.ChatMessage{}, store.ErrNotFound
	}
	s.nextID++
	msg.ID = s.nextID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

// ListMessages returns the newest limit messages in chronological order.
func (s *ChatStore) ListMessages(_ context.Context, sessionID string, limit int) ([]store.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]store.ChatMessage{}, all...), nil
}
