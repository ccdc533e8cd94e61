package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// ChatStore implements store.ChatRepository.
type ChatStore struct {
	db Querier
}

// NewChatStore wraps a querier.
func NewChatStore(db Querier) *ChatStore {
	return &ChatStore{db: db}
}

const sessionSelect = `
	SELECT s.id, s.user_id, s.vector_db_id, COALESCE(v.name, ''), s.model_name, s.config, s.created_at
	FROM chat_sessions s
	LEFT JOIN vector_databases v ON v.id = s.vector_db_id`

// CreateSession inserts a session.
func (s *ChatStore) CreateSession(ctx context.Context, session store.ChatSession) error {
	cfg, err := marshalJSON(session.Config)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO chat_sessions (id, user_id, vector_db_id, model_name, config)
		VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UserID, session.VectorDBID, session.Model, cfg,
	)
	return mapError(err, "insert chat session")
}

// GetSession loads a session owned by userID, with its database name.
func (s *ChatStore) GetSession(ctx context.Context, id string, userID int64) (store.ChatSession, error) {
	return scanSession(s.db.QueryRow(ctx, sessionSelect+` WHERE s.id = $1 AND s.user_id = $2`, id, userID))
}

// ListSessions returns a user's sessions, newest first.
func (s *ChatStore) ListSessions(ctx context.Context, userID int64) ([]store.ChatSession, error) {
	rows, err := s.db.Query(ctx, sessionSelect+` WHERE s.user_id = $1 ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err, "list chat sessions")
	}
	defer rows.Close()

	out := make([]store.ChatSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate chat sessions")
	}
	return out, nil
}

// DeleteSession removes a session. Messages cascade.
func (s *ChatStore) DeleteSession(ctx context.Context, id string, userID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	return expectOne(tag, err, "delete chat session")
}

// AddMessage appends a message and returns it with id and timestamp.
func (s *ChatStore) AddMessage(ctx context.Context, msg store.ChatMessage) (store.ChatMessage, error) {
	var meta []byte
	if msg.Metadata != nil {
		var err error
		if meta, err = marshalJSON(msg.Metadata); err != nil {
			return store.ChatMessage{}, err
		}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		msg.SessionID, msg.Role, msg.Content, meta,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return store.ChatMessage{}, mapError(err, "insert chat message")
	}
	return msg, nil
}

// ListMessages returns the newest limit messages in chronological order.
func (s *ChatStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]store.ChatMessage, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, `
			SELECT id, session_id, role, content, metadata, created_at FROM (
				SELECT id, session_id, role, content, metadata, created_at
				FROM chat_messages WHERE session_id = $1
				ORDER BY created_at DESC, id DESC LIMIT $2
			) recent ORDER BY created_at, id`, sessionID, limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, session_id, role, content, metadata, created_at
			FROM chat_messages WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	}
	if err != nil {
		return nil, mapError(err, "list chat messages")
	}
	defer rows.Close()

	out := make([]store.ChatMessage, 0)
	for rows.Next() {
		var (
			msg  store.ChatMessage
			meta []byte
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &meta, &msg.CreatedAt); err != nil {
			return nil, mapError(err, "scan chat message")
		}
		if msg.Metadata, err = unmarshalMap(meta); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate chat messages")
	}
	return out, nil
}

func scanSession(row pgx.Row) (store.ChatSession, error) {
	var (
		session store.ChatSession
		cfg     []byte
	)
	err := row.Scan(&session.ID, &session.UserID, &session.VectorDBID, &session.VectorDBName,
		&session.Model, &cfg, &session.CreatedAt)
	if err != nil {
		return store.ChatSession{}, mapError(err, "scan chat session")
	}
	if session.Config, err = unmarshalMap(cfg); err != nil {
		return store.ChatSession{}, err
	}
	return session, nil
}
