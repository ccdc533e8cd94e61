package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/clock/system"
	"github.com/usyd/webcrawler-rag/internal/crawler"
	memorystorage "github.com/usyd/webcrawler-rag/internal/storage/memory"
	"github.com/usyd/webcrawler-rag/internal/store"
)

type buildingFails struct {
	store.VectorDBRepository
}

func (buildingFails) FailBuilding(context.Context, string) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestReconcileFailsInterruptedWork(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memorystorage.NewRepositories()
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	for id, status := range map[string]crawler.JobStatus{
		"pending-job":   crawler.JobStatusPending,
		"running-job":   crawler.JobStatusRunning,
		"completed-job": crawler.JobStatusCompleted,
	} {
		require.NoError(t, repos.Jobs.CreateJob(ctx, store.ScrapingJob{
			ID: id, UserID: 1, URL: "https://example.com/" + id, Type: crawler.ScrapeSingle, Status: status,
		}))
	}
	require.NoError(t, repos.VectorDBs.Create(ctx, store.VectorDatabase{
		ID: "db-building", UserID: 1, JobID: "completed-job", Name: "kb", IndexName: "idx-a", Status: store.VectorDBBuilding,
	}))
	require.NoError(t, repos.VectorDBs.Create(ctx, store.VectorDatabase{
		ID: "db-ready", UserID: 2, JobID: "completed-job", Name: "kb", IndexName: "idx-b", Status: store.VectorDBReady,
	}))
	require.NoError(t, repos.Documents.CreateDocumentJob(ctx, store.DocumentJob{
		ID: "doc-running", UserID: 1, Status: crawler.JobStatusRunning, FileCount: 1,
	}))

	require.NoError(t, reconcile(ctx, repos, system.NewManual(at), zap.NewNop()))

	for _, id := range []string{"pending-job", "running-job"} {
		job, err := repos.Jobs.GetJobByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, crawler.JobStatusFailed, job.Status, id)
		require.Equal(t, "Interrupted by restart", job.Message)
		require.Equal(t, at, *job.CompletedAt)
	}
	done, err := repos.Jobs.GetJobByID(ctx, "completed-job")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, done.Status)

	building, err := repos.VectorDBs.GetByID(ctx, "db-building")
	require.NoError(t, err)
	require.Equal(t, store.VectorDBError, building.Status)
	require.Equal(t, "Interrupted by restart", building.ErrorMessage)
	ready, err := repos.VectorDBs.GetByID(ctx, "db-ready")
	require.NoError(t, err)
	require.Equal(t, store.VectorDBReady, ready.Status)

	doc, err := repos.Documents.GetDocumentJobByID(ctx, "doc-running")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, doc.Status)
}

func TestReconcileReportsStoreErrors(t *testing.T) {
	t.Parallel()
	repos := memorystorage.NewRepositories()
	repos.VectorDBs = buildingFails{repos.VectorDBs}

	err := reconcile(context.Background(), repos, system.NewManual(time.Unix(0, 0)), zap.NewNop())
	require.ErrorContains(t, err, "reconcile vector databases")
}
