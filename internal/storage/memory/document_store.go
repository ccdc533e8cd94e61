package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// DocumentStore implements store.DocumentRepository in memory.
type DocumentStore struct {
	mu     sync.RWMutex
	nextID int64
	jobs   map[string]store.DocumentJob
	docs   map[string][]store.UploadedDocument
}

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		jobs: make(map[string]store.DocumentJob),
		docs: make(map[string][]store.UploadedDocument),
	}
}

// CreateDocumentJob inserts a pending document job.
func (s *DocumentStore) CreateDocumentJob(_ context.Context, job store.DocumentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: document job %s", store.ErrConflict, job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	s.jobs[job.ID] = job
	return nil
}

// GetDocumentJob loads a job owned by userID.
func (s *DocumentStore) GetDocumentJob(_ context.Context, id string, userID int64) (store.DocumentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return store.DocumentJob{}, store.ErrNotFound
	}
	return job, nil
}

// GetDocumentJobByID loads a job regardless of owner.
func (s *DocumentStore) GetDocumentJobByID(_ context.Context, id string) (store.DocumentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.DocumentJob{}, store.ErrNotFound
	}
	return job, nil
}

// ListDocumentJobs returns a user's jobs, newest first.
func (s *DocumentStore) ListDocumentJobs(_ context.Context, userID int64) ([]store.DocumentJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.DocumentJob, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetDocumentJobRunning marks a job as running.
func (s *DocumentStore) SetDocumentJobRunning(_ context.Context, id string) error {
	return s.mutate(id, func(job *store.DocumentJob) {
		job.Status = crawler.JobStatusRunning
		job.Message = "Processing documents"
	})
}

// CompleteDocumentJob marks a job completed.
func (s *DocumentStore) CompleteDocumentJob(_ context.Context, id string, chunkCount int, message string, at time.Time) error {
	return s.mutate(id, func(job *store.DocumentJob) {
		job.Status = crawler.JobStatusCompleted
		job.ChunkCount = chunkCount
		job.Message = message
		job.CompletedAt = &at
	})
}

// FailDocumentJob marks a job failed.
func (s *DocumentStore) FailDocumentJob(_ context.Context, id string, message string, at time.Time) error {
	return s.mutate(id, func(job *store.DocumentJob) {
		job.Status = crawler.JobStatusFailed
		job.Message = message
		job.CompletedAt = &at
	})
}

// FailUnfinishedDocumentJobs fails every pending or running document job.
func (s *DocumentStore) FailUnfinishedDocumentJobs(_ context.Context, message string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Status.Terminal() {
			continue
		}
		job.Status = crawler.JobStatusFailed
		job.Message = message
		completed := at
		job.CompletedAt = &completed
		s.jobs[id] = job
		n++
	}
	return n, nil
}

// AddUploadedDocument records a stored file.
func (s *DocumentStore) AddUploadedDocument(_ context.Context, doc store.UploadedDocument) (store.UploadedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[doc.DocumentJobID]; !ok {
		return store.UploadedDocument{}, store.ErrNotFound
	}
	s.nextID++
	doc.ID = s.nextID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.docs[doc.DocumentJobID] = append(s.docs[doc.DocumentJobID], doc)
	return doc, nil
}

// ListUploadedDocuments returns a job's files in upload order.
func (s *DocumentStore) ListUploadedDocuments(_ context.Context, jobID string) ([]store.UploadedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.UploadedDocument{}, s.docs[jobID]...), nil
}

func (s *DocumentStore) mutate(id string, fn func(*store.DocumentJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}
