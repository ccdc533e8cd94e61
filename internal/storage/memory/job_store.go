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

// JobStore implements store.JobRepository in memory.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]store.ScrapingJob
	pages map[string][]store.ScrapedPage
	sites map[string]map[string]store.SiteStats
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]store.ScrapingJob),
		pages: make(map[string][]store.ScrapedPage),
		sites: make(map[string]map[string]store.SiteStats),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job store.ScrapingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s", store.ErrConflict, job.ID)
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job owned by userID.
func (s *JobStore) GetJob(_ context.Context, id string, userID int64) (store.ScrapingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return store.ScrapingJob{}, store.ErrNotFound
	}
	return job, nil
}

// GetJobByID fetches a job regardless of owner.
func (s *JobStore) GetJobByID(_ context.Context, id string) (store.ScrapingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ScrapingJob{}, store.ErrNotFound
	}
	return job, nil
}

// ListJobs returns a user's jobs, newest first.
func (s *JobStore) ListJobs(_ context.Context, userID int64) ([]store.ScrapingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ScrapingJob, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateStatus sets status, progress and message.
func (s *JobStore) UpdateStatus(_ context.Context, id string, status crawler.JobStatus, progress int, message string) error {
	return s.mutate(id, func(job *store.ScrapingJob) {
		job.Status = status
		job.Progress = progress
		job.Message = message
	})
}

// UpdateProgress sets progress and message, leaving terminal jobs untouched.
func (s *JobStore) UpdateProgress(_ context.Context, id string, progress int, message string) error {
	return s.mutate(id, func(job *store.ScrapingJob) {
		if job.Status.Terminal() {
			return
		}
		job.Progress = progress
		job.Message = message
	})
}

// Complete records the terminal state.
func (s *JobStore) Complete(
	_ context.Context,
	id string,
	status crawler.JobStatus,
	progress int,
	message string,
	summary map[string]any,
	at time.Time,
) error {
	return s.mutate(id, func(job *store.ScrapingJob) {
		job.Status = status
		job.Progress = progress
		job.Message = message
		job.ResultSummary = summary
		completed := at
		job.CompletedAt = &completed
	})
}

// FailUnfinished fails every pending or running job.
func (s *JobStore) FailUnfinished(_ context.Context, message string, at time.Time) (int64, error) {
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
		job.UpdatedAt = at
		s.jobs[id] = job
		n++
	}
	return n, nil
}

// DeleteJob removes a job owned by userID along with its pages.
func (s *JobStore) DeleteJob(_ context.Context, id string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.pages, id)
	delete(s.sites, id)
	return nil
}

// RecordPage appends a page row for a job.
func (s *JobStore) RecordPage(_ context.Context, page store.ScrapedPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// ListPages returns pages in insertion order.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]store.ScrapedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.ScrapedPage{}, s.pages[jobID]...), nil
}

// UpsertSiteStats applies deltas to the (job, site) aggregate.
func (s *JobStore) UpsertSiteStats(
	_ context.Context,
	jobID, site string,
	deltaVisits, deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySite, ok := s.sites[jobID]
	if !ok {
		bySite = make(map[string]store.SiteStats)
		s.sites[jobID] = bySite
	}
	stats := bySite[site]
	stats.JobID = jobID
	stats.Site = site
	stats.LastUpdate = at
	stats.Visits += deltaVisits
	stats.BytesTotal += deltaBytes
	switch statusClass {
	case "2xx":
		stats.Fetch2xx += deltaVisits
	case "3xx":
		stats.Fetch3xx += deltaVisits
	case "4xx":
		stats.Fetch4xx += deltaVisits
	case "5xx":
		stats.Fetch5xx += deltaVisits
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	bySite[site] = stats
	return nil
}

// ListSiteStats returns the aggregates for a job sorted by site.
func (s *JobStore) ListSiteStats(_ context.Context, jobID string) ([]store.SiteStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SiteStats, 0, len(s.sites[jobID]))
	for _, stats := range s.sites[jobID] {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out, nil
}

func (s *JobStore) mutate(id string, fn func(*store.ScrapingJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}
