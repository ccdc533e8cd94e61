package worker

import (
	"context"
	"fmt"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// Aborter records a terminal failure for a task whose handler did not.
type Aborter interface {
	Abort(ctx context.Context, task crawler.Task, message string) error
}

// StoreAborter fails the job, vector database or document job behind a task.
// Subjects already in a terminal state are left untouched.
type StoreAborter struct {
	Jobs      store.JobRepository
	VectorDBs store.VectorDBRepository
	Documents store.DocumentRepository
	Clock     crawler.Clock
}

// Abort implements Aborter.
func (a StoreAborter) Abort(ctx context.Context, task crawler.Task, message string) error {
	switch task.Kind {
	case crawler.TaskScrape:
		job, err := a.Jobs.GetJobByID(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		if job.Status.Terminal() {
			return nil
		}
		return a.Jobs.Complete(ctx, job.ID, crawler.JobStatusFailed, job.Progress, message, nil, a.Clock.Now())
	case crawler.TaskIndex:
		db, err := a.VectorDBs.GetByID(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("load vector database: %w", err)
		}
		if db.Status != store.VectorDBBuilding {
			return nil
		}
		return a.VectorDBs.SetStatus(ctx, db.ID, store.VectorDBError, message)
	case crawler.TaskDocument:
		job, err := a.Documents.GetDocumentJobByID(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("load document job: %w", err)
		}
		if job.Status.Terminal() {
			return nil
		}
		return a.Documents.FailDocumentJob(ctx, job.ID, message, a.Clock.Now())
	default:
		return fmt.Errorf("no terminal state for task kind %q", task.Kind)
	}
}
