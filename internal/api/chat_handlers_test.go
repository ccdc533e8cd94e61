package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usyd/webcrawler-rag/internal/chat"
	"github.com/usyd/webcrawler-rag/internal/store"
)

func TestStartChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat/start", `{"vector_db_id":"db-1","model":"gpt-4o"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "session-1", body["session_id"])
	require.Equal(t, "gpt-4o", body["model"])
	require.Equal(t, f.user.ID, f.chat.userID)
	require.Equal(t, "db-1", f.chat.dbID)
}

func TestStartChatErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{chat.ErrDatabaseRequired, http.StatusBadRequest, "Vector database ID is required"},
		{chat.ErrUnsupportedModel, http.StatusBadRequest, "Unsupported model"},
		{chat.ErrDatabaseNotReady, http.StatusNotFound, "Vector database not found or not ready"},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.chat.err = tc.err

			rec := f.do(t, http.MethodPost, "/api/chat/start", `{}`, true)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.msg, decodeBody(t, rec)["error"])
		})
	}
}

func TestChatMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat/message", `{"session_id":"session-1","message":"When is census date?"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Census date is 31 March.", body["response"])
	require.Len(t, body["sources"], 1)
	require.Equal(t, "When is census date?", f.chat.message)

	f.chat.err = chat.ErrInvalidInput
	rec = f.do(t, http.MethodPost, "/api/chat/message", `{"session_id":""}`, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Session ID and message are required"}`, rec.Body.String())
}

func TestChatSessionsAndHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.chat.sessions = []store.ChatSession{{ID: "session-1", Model: "gpt-4o"}}
	f.chat.history = []store.ChatMessage{
		{ID: 1, SessionID: "session-1", Role: store.RoleUser, Content: "hi"},
		{ID: 2, SessionID: "session-1", Role: store.RoleAssistant, Content: "hello"},
	}

	rec := f.do(t, http.MethodGet, "/api/chat/sessions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["sessions"], 1)

	rec = f.do(t, http.MethodGet, "/api/chat/history/session-1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["messages"], 2)

	rec = f.do(t, http.MethodDelete, "/api/chat/sessions/session-1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	f.chat.err = chat.ErrSessionNotFound
	rec = f.do(t, http.MethodGet, "/api/chat/history/missing", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/chat/sessions/missing", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
