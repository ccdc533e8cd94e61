package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// interruptedMessage marks work the previous process never finished.
const interruptedMessage = "Interrupted by restart"

// reconcile fails jobs and databases left in flight by a previous process.
// Tasks live only in the in-memory queue, so nothing will resume them.
func reconcile(ctx context.Context, repos store.Repositories, clock crawler.Clock, logger *zap.Logger) error {
	now := clock.Now()
	jobs, err := repos.Jobs.FailUnfinished(ctx, interruptedMessage, now)
	if err != nil {
		return fmt.Errorf("reconcile scraping jobs: %w", err)
	}
	dbs, err := repos.VectorDBs.FailBuilding(ctx, interruptedMessage)
	if err != nil {
		return fmt.Errorf("reconcile vector databases: %w", err)
	}
	docs, err := repos.Documents.FailUnfinishedDocumentJobs(ctx, interruptedMessage, now)
	if err != nil {
		return fmt.Errorf("reconcile document jobs: %w", err)
	}
	if jobs+dbs+docs > 0 {
		logger.Warn("failed work interrupted by restart",
			zap.Int64("scraping_jobs", jobs),
			zap.Int64("vector_databases", dbs),
			zap.Int64("document_jobs", docs),
		)
	}
	return nil
}
