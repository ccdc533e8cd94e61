package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/usyd/webcrawler-rag/internal/cache"
	"github.com/usyd/webcrawler-rag/internal/clock/system"
	"github.com/usyd/webcrawler-rag/internal/id/uuid"
	"github.com/usyd/webcrawler-rag/internal/llm"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/storage/memory"
	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/vectordb"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

type fakeRetriever struct {
	dbs      map[string]store.VectorDatabase
	results  []vectorstore.Result
	requests []vectordb.SearchRequest
}

func (f *fakeRetriever) Get(_ context.Context, id string, userID int64) (store.VectorDatabase, error) {
	db, ok := f.dbs[id]
	if !ok || db.UserID != userID {
		return store.VectorDatabase{}, vectordb.ErrNotFound
	}
	return db, nil
}

func (f *fakeRetriever) Search(_ context.Context, id string, userID int64, req vectordb.SearchRequest) ([]vectorstore.Result, error) {
	if _, err := f.Get(context.Background(), id, userID); err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req)
	return f.results, nil
}

type fakeLLM struct {
	calls [][]llm.Message
	fail  error
}

func (f *fakeLLM) Complete(_ context.Context, model string, _ map[string]any, messages []llm.Message) (llm.Completion, error) {
	f.calls = append(f.calls, messages)
	if f.fail != nil {
		return llm.Completion{}, f.fail
	}
	return llm.Completion{Content: "answer from " + model, TotalTokens: 99, FinishReason: "stop"}, nil
}

type fixture struct {
	svc       *Service
	chats     *memory.ChatStore
	retriever *fakeRetriever
	llm       *fakeLLM
	redis     *miniredis.Miniredis
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	metrics.Init()
	f := &fixture{
		chats: memory.NewChatStore(),
		retriever: &fakeRetriever{
			dbs: map[string]store.VectorDatabase{
				"ready":    {ID: "ready", UserID: 1, Name: "Handbook", Status: store.VectorDBReady},
				"building": {ID: "building", UserID: 1, Status: store.VectorDBBuilding},
			},
			results: []vectorstore.Result{
				{Title: "Fees", URL: "https://x/fees", Content: "Fees are due in March.", Score: 0.9},
				{Title: "Dates", URL: "https://x/dates", Content: "Semester starts soon.", Score: 0.5},
			},
		},
		llm: &fakeLLM{},
	}
	deps := Deps{
		Sessions:     f.chats,
		Retriever:    f.retriever,
		LLM:          f.llm,
		Registry:     llm.NewRegistry("", ""),
		IDs:          uuid.New(),
		Clock:        system.NewManual(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)),
		HistoryLimit: 4,
	}
	if withCache {
		f.redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		deps.Cache = cache.NewHistoryCache(client, time.Hour)
	}
	svc, err := New(deps)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestStartSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.svc.StartSession(ctx, 1, "", "", nil)
	require.ErrorIs(t, err, ErrDatabaseRequired)
	_, err = f.svc.StartSession(ctx, 1, "ready", "gpt-5", nil)
	require.ErrorIs(t, err, ErrUnsupportedModel)
	_, err = f.svc.StartSession(ctx, 1, "building", "", nil)
	require.ErrorIs(t, err, ErrDatabaseNotReady)
	_, err = f.svc.StartSession(ctx, 2, "ready", "", nil)
	require.ErrorIs(t, err, ErrDatabaseNotReady)

	session, err := f.svc.StartSession(ctx, 1, "ready", "", map[string]any{llm.KeyTemperature: 0.1})
	require.NoError(t, err)
	require.Equal(t, llm.ModelGPT4o, session.Model)
	require.Equal(t, "Handbook", session.VectorDBName)
	require.InDelta(t, 0.1, session.Config[llm.KeyTemperature], 1e-9)
	require.Equal(t, 4096, session.Config[llm.KeyMaxTokens])

	sessions, err := f.svc.ListSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestProcessMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)

	session, err := f.svc.StartSession(ctx, 1, "ready", llm.ModelO3Mini, nil)
	require.NoError(t, err)

	reply, err := f.svc.ProcessMessage(ctx, session.ID, 1, "  When are fees due?  ")
	require.NoError(t, err)
	require.Equal(t, "answer from o3-mini", reply.Response)
	require.Equal(t, []Source{
		{Title: "Fees", URL: "https://x/fees", Score: 0.9},
		{Title: "Dates", URL: "https://x/dates", Score: 0.5},
	}, reply.Sources)
	require.Equal(t, 2, reply.Metadata["sources_used"])
	require.Equal(t, 99, reply.Metadata["total_tokens"])
	require.Equal(t, "stop", reply.Metadata["finish_reason"])

	require.Len(t, f.retriever.requests, 1)
	require.Equal(t, "hybrid", f.retriever.requests[0].Type)
	require.Equal(t, 5, f.retriever.requests[0].TopK)

	sent := f.llm.calls[0]
	require.Len(t, sent, 2)
	require.Equal(t, llm.RoleSystem, sent[0].Role)
	require.Equal(t, llm.SystemPrompt, sent[0].Content)
	require.Contains(t, sent[1].Content, "Source: Fees (https://x/fees)\nContent: Fees are due in March.\n\n---\n\nSource: Dates")
	require.True(t, strings.HasSuffix(sent[1].Content, "User Question: When are fees due?"))

	history, err := f.svc.History(ctx, session.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, store.RoleUser, history[0].Role)
	require.Equal(t, "When are fees due?", history[0].Content)
	require.Equal(t, store.RoleAssistant, history[1].Role)
	require.Equal(t, "o3-mini", history[1].Metadata["model"])
}

func TestProcessMessageIncludesPriorTurns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, withCache := range []bool{false, true} {
		f := newFixture(t, withCache)
		session, err := f.svc.StartSession(ctx, 1, "ready", "", nil)
		require.NoError(t, err)

		for _, q := range []string{"q1", "q2", "q3"} {
			_, err := f.svc.ProcessMessage(ctx, session.ID, 1, q)
			require.NoError(t, err)
		}
		last := f.llm.calls[2]
		// system, q1, a1, q2, a2, prompt
		require.Len(t, last, 6, "cache=%v", withCache)
		require.Equal(t, "q1", last[1].Content)
		require.Equal(t, "answer from gpt-4o", last[4].Content)
		require.Equal(t, llm.RoleUser, last[5].Role)
		if withCache {
			require.True(t, f.redis.Exists("chat:history:"+session.ID))
		}
	}
}

func TestProcessMessageErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := f.svc.ProcessMessage(ctx, "", 1, "hi")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ProcessMessage(ctx, "missing", 1, "hi")
	require.ErrorIs(t, err, ErrSessionNotFound)

	session, err := f.svc.StartSession(ctx, 1, "ready", "", nil)
	require.NoError(t, err)
	_, err = f.svc.ProcessMessage(ctx, session.ID, 2, "hi")
	require.ErrorIs(t, err, ErrSessionNotFound)

	f.llm.fail = errors.New("rate limited")
	_, err = f.svc.ProcessMessage(ctx, session.ID, 1, "hi")
	require.ErrorContains(t, err, "rate limited")

	delete(f.retriever.dbs, "ready")
	_, err = f.svc.ProcessMessage(ctx, session.ID, 1, "hi")
	require.ErrorIs(t, err, ErrDatabaseNotReady)
}

func TestDeleteSessionDropsCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true)

	session, err := f.svc.StartSession(ctx, 1, "ready", "", nil)
	require.NoError(t, err)
	_, err = f.svc.ProcessMessage(ctx, session.ID, 1, "hello")
	require.NoError(t, err)
	require.True(t, f.redis.Exists("chat:history:"+session.ID))

	require.ErrorIs(t, f.svc.DeleteSession(ctx, session.ID, 2), ErrSessionNotFound)
	require.NoError(t, f.svc.DeleteSession(ctx, session.ID, 1))
	require.False(t, f.redis.Exists("chat:history:"+session.ID))

	_, err = f.svc.History(ctx, session.ID, 1)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestProcessMessageFailureDropsCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, true)

	session, err := f.svc.StartSession(ctx, 1, "ready", "", nil)
	require.NoError(t, err)
	_, err = f.svc.ProcessMessage(ctx, session.ID, 1, "q1")
	require.NoError(t, err)
	require.True(t, f.redis.Exists("chat:history:"+session.ID))

	f.llm.fail = errors.New("rate limited")
	_, err = f.svc.ProcessMessage(ctx, session.ID, 1, "q2")
	require.ErrorContains(t, err, "rate limited")
	require.False(t, f.redis.Exists("chat:history:"+session.ID))

	f.llm.fail = nil
	_, err = f.svc.ProcessMessage(ctx, session.ID, 1, "q3")
	require.NoError(t, err)
	last := f.llm.calls[len(f.llm.calls)-1]
	// system, q1, a1, q2, prompt: the unanswered q2 comes back from the store.
	require.Len(t, last, 5)
	require.Equal(t, "q2", last[3].Content)
}
