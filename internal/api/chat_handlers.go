package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/usyd/webcrawler-rag/internal/store"
)

type startChatRequest struct {
	VectorDBID string         `json:"vector_db_id"`
	Model      string         `json:"model"`
	Config     map[string]any `json:"config"`
}

type chatMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) startChat(w http.ResponseWriter, r *http.Request) {
	var req startChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.chat.StartSession(r.Context(), currentUser(r), req.VectorDBID, req.Model, req.Config)
	if err != nil {
		s.respondError(w, r, err, "start chat session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"model":      session.Model,
		"config":     session.Config,
	})
}

func (s *Server) chatMessage(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.chat.ProcessMessage(r.Context(), req.SessionID, currentUser(r), req.Message)
	if err != nil {
		s.respondError(w, r, err, "process message")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.chat.History(r.Context(), chi.URLParam(r, "session_id"), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "load chat history")
		return
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) listChatSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.chat.ListSessions(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "list chat sessions")
		return
	}
	if sessions == nil {
		sessions = []store.ChatSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) deleteChatSession(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.DeleteSession(r.Context(), chi.URLParam(r, "session_id"), currentUser(r)); err != nil {
		s.respondError(w, r, err, "delete chat session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
