package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

func TestUserStore(t *testing.T) {
	t.Parallel()

	users := NewUserStore()
	ctx := context.Background()

	n, err := users.CountUsers(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	admin, err := users.CreateUser(ctx, "admin", "hash")
	require.NoError(t, err)
	require.Equal(t, int64(1), admin.ID)
	_, err = users.CreateUser(ctx, "ADMIN", "hash")
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := users.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, admin.ID, got.ID)
	_, err = users.GetByUsername(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)

	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, users.TouchLastLogin(ctx, admin.ID, at))
	got, err = users.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	require.Equal(t, at, *got.LastLogin)
}

func TestVectorDBStore(t *testing.T) {
	t.Parallel()

	dbs := NewVectorDBStore()
	ctx := context.Background()
	db := store.VectorDatabase{ID: "db-1", UserID: 1, JobID: "job-1", Name: "docs", IndexName: "usyd-rag-db-1"}

	require.NoError(t, dbs.Create(ctx, db))
	dup := db
	dup.ID, dup.IndexName = "db-2", "usyd-rag-db-2"
	require.ErrorIs(t, dbs.Create(ctx, dup), store.ErrConflict)

	got, err := dbs.Get(ctx, "db-1", 1)
	require.NoError(t, err)
	require.Equal(t, store.VectorDBBuilding, got.Status)
	_, err = dbs.Get(ctx, "db-1", 2)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, dbs.SetStatus(ctx, "db-1", store.VectorDBError, "boom"))
	require.NoError(t, dbs.MarkReady(ctx, "db-1", 42))
	got, err = dbs.GetByID(ctx, "db-1")
	require.NoError(t, err)
	require.Equal(t, store.VectorDBReady, got.Status)
	require.Equal(t, 42, got.DocumentCount)
	require.Empty(t, got.ErrorMessage)

	names, err := dbs.IndexNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"usyd-rag-db-1"}, names)

	require.ErrorIs(t, dbs.Delete(ctx, "db-1", 2), store.ErrNotFound)
	require.NoError(t, dbs.Delete(ctx, "db-1", 1))
	list, err := dbs.List(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestChatStore(t *testing.T) {
	t.Parallel()

	chats := NewChatStore()
	ctx := context.Background()
	require.NoError(t, chats.CreateSession(ctx, store.ChatSession{ID: "s-1", UserID: 1, VectorDBID: "db-1", Model: "gpt-4o"}))

	_, err := chats.AddMessage(ctx, store.ChatMessage{SessionID: "missing", Role: store.RoleUser})
	require.ErrorIs(t, err, store.ErrNotFound)

	for _, content := range []string{"one", "two", "three"} {
		_, err := chats.AddMessage(ctx, store.ChatMessage{SessionID: "s-1", Role: store.RoleUser, Content: content})
		require.NoError(t, err)
	}
	last, err := chats.ListMessages(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Equal(t, "two", last[0].Content)
	require.Equal(t, "three", last[1].Content)

	all, err := chats.ListMessages(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	sessions, err := chats.ListSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.ErrorIs(t, chats.DeleteSession(ctx, "s-1", 2), store.ErrNotFound)
	require.NoError(t, chats.DeleteSession(ctx, "s-1", 1))
	_, err = chats.GetSession(ctx, "s-1", 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDocumentStore(t *testing.T) {
	t.Parallel()

	docs := NewDocumentStore()
	ctx := context.Background()
	require.NoError(t, docs.CreateDocumentJob(ctx, store.DocumentJob{ID: "dj-1", UserID: 1, FileCount: 1}))

	uploaded, err := docs.AddUploadedDocument(ctx, store.UploadedDocument{DocumentJobID: "dj-1", UserID: 1, Filename: "a.pdf"})
	require.NoError(t, err)
	require.Equal(t, int64(1), uploaded.ID)

	require.NoError(t, docs.SetDocumentJobRunning(ctx, "dj-1"))
	at := time.Now().UTC()
	require.NoError(t, docs.CompleteDocumentJob(ctx, "dj-1", 9, "Processed 1 documents", at))

	job, err := docs.GetDocumentJob(ctx, "dj-1", 1)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, job.Status)
	require.Equal(t, 9, job.ChunkCount)

	_, err = docs.GetDocumentJob(ctx, "dj-1", 2)
	require.ErrorIs(t, err, store.ErrNotFound)

	files, err := docs.ListUploadedDocuments(ctx, "dj-1")
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, docs.FailDocumentJob(ctx, "dj-1", "boom", at))
	jobs, err := docs.ListDocumentJobs(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, jobs[0].Status)
}
