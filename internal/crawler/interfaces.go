package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned by BlobStore reads of missing objects.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	DeleteObject(ctx context.Context, path string) error
}

// Publisher pushes lifecycle events to Pub/Sub, RabbitMQ or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Extractor turns a fetched HTML body into a Page.
type Extractor interface {
	Extract(pageURL string, body []byte) (Page, error)
}

// Policy throttles fetches per domain.
type Policy interface {
	Wait(ctx context.Context, url string) error
}

// Queue provides enqueue/dequeue semantics for background tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// TaskKind names the pipeline a worker runs for a Task.
type TaskKind string

// Task kinds handled by workers.
const (
	TaskScrape   TaskKind = "scrape"
	TaskIndex    TaskKind = "index"
	TaskDocument TaskKind = "document"
)

// Task wraps a unit of background work ready to run. ID is the scraping job,
// vector database or document job identifier depending on Kind.
type Task struct {
	Kind      TaskKind
	ID        string
	UserID    int64
	Attempt   int
	Submitted int64
	// Trace carries the submitter's trace context across the queue.
	Trace map[string]string
}
