// Package chat answers questions against a vector database with retrieval
// augmented generation and keeps per-session history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/llm"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/vectordb"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

// Errors mapped to client responses.
var (
	ErrUnsupportedModel = llm.ErrUnsupportedModel
	ErrDatabaseRequired = errors.New("vector database ID is required")
	ErrDatabaseNotReady = errors.New("vector database not found or not ready")
	ErrSessionNotFound  = errors.New("chat session not found")
	ErrInvalidInput     = errors.New("session ID and message are required")
)

// Retrieval defaults.
const (
	DefaultModel        = llm.ModelGPT4o
	DefaultHistoryLimit = 10
	contextTopK         = 5
	contextSeparator    = "\n\n---\n\n"
)

// Completer generates a model reply.
type Completer interface {
	Complete(ctx context.Context, model string, cfg map[string]any, messages []llm.Message) (llm.Completion, error)
}

// Retriever looks up databases and searches them on behalf of a user.
type Retriever interface {
	Get(ctx context.Context, id string, userID int64) (store.VectorDatabase, error)
	Search(ctx context.Context, id string, userID int64, req vectordb.SearchRequest) ([]vectorstore.Result, error)
}

// HistoryCache holds the recent message window per session.
type HistoryCache interface {
	Get(ctx context.Context, sessionID string) ([]store.ChatMessage, bool, error)
	Set(ctx context.Context, sessionID string, messages []store.ChatMessage) error
	Delete(ctx context.Context, sessionID string) error
}

// Deps bundles the collaborators of a Service. Cache is optional.
type Deps struct {
	Sessions     store.ChatRepository
	Retriever    Retriever
	LLM          Completer
	Registry     *llm.Registry
	Cache        HistoryCache
	IDs          crawler.IDGenerator
	Clock        crawler.Clock
	HistoryLimit int
	DefaultModel string
	Logger       *zap.Logger
}

// Service implements chat sessions.
type Service struct {
	sessions     store.ChatRepository
	retriever    Retriever
	llm          Completer
	registry     *llm.Registry
	cache        HistoryCache
	ids          crawler.IDGenerator
	clock        crawler.Clock
	historyLimit int
	defaultModel string
	logger       *zap.Logger
}

// New checks deps and builds a Service.
func New(deps Deps) (*Service, error) {
	if deps.Sessions == nil || deps.Retriever == nil || deps.LLM == nil || deps.Registry == nil {
		return nil, errors.New("chat: sessions, retriever, llm and registry are required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("chat: id generator and clock are required")
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = DefaultHistoryLimit
	}
	if deps.DefaultModel == "" {
		deps.DefaultModel = DefaultModel
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		sessions:     deps.Sessions,
		retriever:    deps.Retriever,
		llm:          deps.LLM,
		registry:     deps.Registry,
		cache:        deps.Cache,
		ids:          deps.IDs,
		clock:        deps.Clock,
		historyLimit: deps.HistoryLimit,
		defaultModel: deps.DefaultModel,
		logger:       deps.Logger,
	}, nil
}

// StartSession opens a session on a ready database.
func (s *Service) StartSession(
	ctx context.Context,
	userID int64,
	dbID, model string,
	overrides map[string]any,
) (store.ChatSession, error) {
	if strings.TrimSpace(dbID) == "" {
		return store.ChatSession{}, ErrDatabaseRequired
	}
	if model == "" {
		model = s.defaultModel
	}
	cfg, err := s.registry.SessionConfig(model, overrides)
	if err != nil {
		return store.ChatSession{}, err
	}
	db, err := s.retriever.Get(ctx, dbID, userID)
	if errors.Is(err, vectordb.ErrNotFound) {
		return store.ChatSession{}, ErrDatabaseNotReady
	}
	if err != nil {
		return store.ChatSession{}, fmt.Errorf("load vector database: %w", err)
	}
	if db.Status != store.VectorDBReady {
		return store.ChatSession{}, ErrDatabaseNotReady
	}
	id, err := s.ids.NewID()
	if err != nil {
		return store.ChatSession{}, fmt.Errorf("generate session id: %w", err)
	}
	session := store.ChatSession{
		ID:           id,
		UserID:       userID,
		VectorDBID:   db.ID,
		VectorDBName: db.Name,
		Model:        model,
		Config:       cfg,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return store.ChatSession{}, fmt.Errorf("create chat session: %w", err)
	}
	s.logger.Info("chat session started",
		zap.String("session_id", id),
		zap.Int64("user_id", userID),
		zap.String("db_id", db.ID),
		zap.String("model", model),
	)
	return session, nil
}

// Source is a retrieved chunk cited in a reply.
type Source struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// Reply is the answer to one message.
type Reply struct {
	Response string         `json:"response"`
	Sources  []Source       `json:"sources"`
	Metadata map[string]any `json:"metadata"`
}

// ProcessMessage stores the question, retrieves context, asks the model and
// stores the answer.
func (s *Service) ProcessMessage(ctx context.Context, sessionID string, userID int64, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if sessionID == "" || message == "" {
		return Reply{}, ErrInvalidInput
	}
	session, err := s.session(ctx, sessionID, userID)
	if err != nil {
		return Reply{}, err
	}
	logger := s.logger.With(zap.String("session_id", sessionID), zap.Int64("user_id", userID))

	history := s.recentHistory(ctx, sessionID, logger)

	userMsg, err := s.sessions.AddMessage(ctx, store.ChatMessage{
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   message,
		Metadata:  map[string]any{},
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("store user message: %w", err)
	}
	// The stored user message is now ahead of the cached window.
	abandon := func(err error) (Reply, error) {
		s.forget(ctx, sessionID, logger)
		return Reply{}, err
	}

	results, err := s.retriever.Search(ctx, session.VectorDBID, userID, vectordb.SearchRequest{
		Query: message,
		Type:  string(vectorstore.SearchHybrid),
		TopK:  contextTopK,
	})
	if err != nil {
		if errors.Is(err, vectordb.ErrNotFound) || errors.Is(err, vectordb.ErrNotReady) {
			return abandon(ErrDatabaseNotReady)
		}
		return abandon(fmt.Errorf("retrieve context: %w", err))
	}
	contextText, sources := buildContext(results)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: llm.SystemPromptFor(session.Config)})
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userPrompt(contextText, message)})

	completion, err := s.llm.Complete(ctx, session.Model, session.Config, messages)
	if err != nil {
		return abandon(fmt.Errorf("generate response: %w", err))
	}
	metrics.ObserveChat(session.Model, completion.TotalTokens)

	meta := map[string]any{
		"model":         session.Model,
		"sources_used":  len(sources),
		"total_tokens":  completion.TotalTokens,
		"finish_reason": completion.FinishReason,
	}
	assistantMsg, err := s.sessions.AddMessage(ctx, store.ChatMessage{
		SessionID: sessionID,
		Role:      store.RoleAssistant,
		Content:   completion.Content,
		Metadata:  meta,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return abandon(fmt.Errorf("store assistant message: %w", err))
	}
	s.remember(ctx, sessionID, append(history, userMsg, assistantMsg), logger)

	logger.Info("chat message processed",
		zap.Int("sources", len(sources)),
		zap.Int("total_tokens", completion.TotalTokens),
	)
	return Reply{Response: completion.Content, Sources: sources, Metadata: meta}, nil
}

func buildContext(results []vectorstore.Result) (string, []Source) {
	parts := make([]string, 0, len(results))
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("Source: %s (%s)\nContent: %s", r.Title, r.URL, r.Content))
		sources = append(sources, Source{Title: r.Title, URL: r.URL, Score: r.Score})
	}
	return strings.Join(parts, contextSeparator), sources
}

func userPrompt(contextText, question string) string {
	return "Based on the following context from scraped web content, please answer the user's question.\n\n" +
		"Context:\n" + contextText + "\n\nUser Question: " + question
}

// recentHistory returns the newest historyLimit messages, reading the cache
// first. Cache faults fall back to the repository.
func (s *Service) recentHistory(ctx context.Context, sessionID string, logger *zap.Logger) []store.ChatMessage {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, sessionID)
		if err != nil {
			logger.Warn("read history cache failed", zap.Error(err))
		} else if ok {
			return s.window(cached)
		}
	}
	history, err := s.sessions.ListMessages(ctx, sessionID, s.historyLimit)
	if err != nil {
		logger.Warn("load history failed", zap.Error(err))
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, sessionID, history); err != nil {
			logger.Warn("write history cache failed", zap.Error(err))
		}
	}
	return history
}

func (s *Service) remember(ctx context.Context, sessionID string, messages []store.ChatMessage, logger *zap.Logger) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, sessionID, s.window(messages)); err != nil {
		logger.Warn("write history cache failed", zap.Error(err))
	}
}

// forget drops the cached window so the next turn reloads it from the store.
func (s *Service) forget(ctx context.Context, sessionID string, logger *zap.Logger) {
	if s.cache == nil {
		return
	}
	dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.cache.Delete(dropCtx, sessionID); err != nil {
		logger.Warn("drop history cache failed", zap.Error(err))
	}
}

func (s *Service) window(messages []store.ChatMessage) []store.ChatMessage {
	if len(messages) > s.historyLimit {
		return messages[len(messages)-s.historyLimit:]
	}
	return messages
}

func (s *Service) session(ctx context.Context, sessionID string, userID int64) (store.ChatSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ChatSession{}, ErrSessionNotFound
	}
	if err != nil {
		return store.ChatSession{}, fmt.Errorf("load chat session: %w", err)
	}
	return session, nil
}

// History returns every message of a session in order.
func (s *Service) History(ctx context.Context, sessionID string, userID int64) ([]store.ChatMessage, error) {
	if _, err := s.session(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	messages, err := s.sessions.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// ListSessions returns the caller's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]store.ChatSession, error) {
	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session, its messages and its cached history.
func (s *Service) DeleteSession(ctx context.Context, sessionID string, userID int64) error {
	if err := s.sessions.DeleteSession(ctx, sessionID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete chat session: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("drop history cache failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}
