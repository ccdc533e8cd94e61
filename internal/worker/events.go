package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// Event topics published by the handlers.
const (
	TopicScrapeCompleted    = "scrape.completed"
	TopicScrapeFailed       = "scrape.failed"
	TopicVectorDBReady      = "vectordb.ready"
	TopicVectorDBError      = "vectordb.error"
	TopicDocumentsCompleted = "documents.completed"
	TopicDocumentsFailed    = "documents.failed"
)

// announcer publishes lifecycle events. Failures are logged, never returned:
// events are notifications and must not flip a finished job.
type announcer struct {
	publisher crawler.Publisher
	logger    *zap.Logger
}

func (a announcer) publish(ctx context.Context, topic string, payload map[string]any) {
	if a.publisher == nil {
		return
	}
	id, err := a.publisher.Publish(ctx, topic, payload)
	if err != nil {
		a.logger.Warn("publish event failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	a.logger.Debug("event published", zap.String("topic", topic), zap.String("message_id", id))
}
