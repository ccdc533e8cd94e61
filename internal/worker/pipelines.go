package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// IndexBuilder embeds a job's pages into a vector database.
type IndexBuilder interface {
	Build(ctx context.Context, dbID string) (int, error)
}

// DocumentProcessor extracts uploaded files into scraped data.
type DocumentProcessor interface {
	Process(ctx context.Context, jobID string) (int, error)
}

// IndexHandler runs index tasks.
type IndexHandler struct {
	builder IndexBuilder
	events  announcer
}

// NewIndexHandler constructs an IndexHandler.
func NewIndexHandler(builder IndexBuilder, publisher crawler.Publisher, logger *zap.Logger) *IndexHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexHandler{builder: builder, events: announcer{publisher: publisher, logger: logger}}
}

// Handle implements Handler.
func (h *IndexHandler) Handle(ctx context.Context, task crawler.Task) error {
	count, err := h.builder.Build(ctx, task.ID)
	if err != nil {
		pubCtx, cancel := detached(ctx)
		defer cancel()
		h.events.publish(pubCtx, TopicVectorDBError, map[string]any{
			"db_id":   task.ID,
			"user_id": task.UserID,
			"error":   errorMessage(err),
		})
		return err
	}
	h.events.publish(ctx, TopicVectorDBReady, map[string]any{
		"db_id":          task.ID,
		"user_id":        task.UserID,
		"document_count": count,
	})
	return nil
}

// DocumentHandler runs document tasks.
type DocumentHandler struct {
	processor DocumentProcessor
	events    announcer
}

// NewDocumentHandler constructs a DocumentHandler.
func NewDocumentHandler(processor DocumentProcessor, publisher crawler.Publisher, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{processor: processor, events: announcer{publisher: publisher, logger: logger}}
}

// Handle implements Handler.
func (h *DocumentHandler) Handle(ctx context.Context, task crawler.Task) error {
	chunks, err := h.processor.Process(ctx, task.ID)
	if err != nil {
		pubCtx, cancel := detached(ctx)
		defer cancel()
		h.events.publish(pubCtx, TopicDocumentsFailed, map[string]any{
			"document_job_id": task.ID,
			"user_id":         task.UserID,
			"error":           errorMessage(err),
		})
		return err
	}
	h.events.publish(ctx, TopicDocumentsCompleted, map[string]any{
		"document_job_id": task.ID,
		"user_id":         task.UserID,
		"chunk_count":     chunks,
	})
	return nil
}
