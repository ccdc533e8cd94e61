package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/telemetry"
)

const (
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
)

type startScrapeRequest struct {
	URL    string               `json:"url"`
	Type   string               `json:"type"`
	Config crawler.ScrapeConfig `json:"config"`
}

// startScrape handles POST /api/scrape/start. It records a pending job and
// queues it for the workers.
func (s *Server) startScrape(w http.ResponseWriter, r *http.Request) {
	var req startScrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	scrapeType, err := crawler.ParseScrapeType(req.Type)
	if err != nil {
		s.respondError(w, r, err, "start scraping")
		return
	}
	startURL, err := crawler.ValidateStartURL(req.URL)
	if err != nil {
		s.respondError(w, r, err, "start scraping")
		return
	}
	if req.Config.MaxDepth < 0 || req.Config.MaxPages < 0 {
		writeError(w, http.StatusBadRequest, "max_depth and max_pages must not be negative")
		return
	}

	userID := currentUser(r)
	jobID, err := s.enqueueScrape(r.Context(), userID, startURL.String(), scrapeType, req.Config)
	if err != nil {
		s.respondError(w, r, err, "start scraping")
		return
	}
	s.logger.Info("scraping job queued",
		zap.String("job_id", jobID),
		zap.Int64("user_id", userID),
		zap.String("url", startURL.String()),
		zap.String("type", string(scrapeType)),
	)
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "started"})
}

func (s *Server) enqueueScrape(
	ctx context.Context,
	userID int64,
	url string,
	scrapeType crawler.ScrapeType,
	cfg crawler.ScrapeConfig,
) (string, error) {
	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := store.ScrapingJob{
		ID:        jobID,
		UserID:    userID,
		URL:       url,
		Type:      scrapeType,
		Status:    crawler.JobStatusPending,
		Message:   "Job queued",
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	task := crawler.Task{
		Kind:      crawler.TaskScrape,
		ID:        jobID,
		UserID:    userID,
		Attempt:   1,
		Submitted: now.Unix(),
		Trace:     telemetry.Inject(ctx),
	}
	if err := s.queue.Enqueue(queueCtx, task); err != nil {
		failCtx, failCancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
		defer failCancel()
		if setErr := s.jobs.UpdateStatus(failCtx, jobID, crawler.JobStatusFailed, 0, "Failed to queue job"); setErr != nil {
			s.logger.Warn("mark job failed", zap.String("job_id", jobID), zap.Error(setErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// scrapeStatus handles GET /api/scrape/status/{job_id}.
func (s *Server) scrapeStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         job.Status,
		"progress":       job.Progress,
		"message":        job.Message,
		"result_summary": job.ResultSummary,
	})
}

// listScrapeJobs handles GET /api/scrape/jobs, newest first.
func (s *Server) listScrapeJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "list jobs")
		return
	}
	if jobs == nil {
		jobs = []store.ScrapingJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// deleteScrapeJob handles DELETE /api/scrape/jobs/{job_id}. Vector
// databases built from the job, with their indexes, are deleted first. The
// stored result blob goes with the job.
func (s *Server) deleteScrapeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	jobID := job.ID
	if _, err := s.vectorDBs.DeleteForJob(r.Context(), jobID, job.UserID); err != nil {
		s.respondError(w, r, err, "delete job vector databases")
		return
	}
	err := s.jobs.DeleteJob(r.Context(), jobID, job.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "Job is still referenced by a vector database")
		return
	}
	if err != nil {
		s.respondError(w, r, err, "delete job")
		return
	}
	if err := s.blobs.DeleteObject(r.Context(), crawler.ResultPath(jobID)); err != nil &&
		!errors.Is(err, crawler.ErrBlobNotFound) {
		s.logger.Warn("delete job result failed", zap.String("job_id", jobID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// listScrapePages handles GET /api/scrape/jobs/{job_id}/pages.
func (s *Server) listScrapePages(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	pages, err := s.jobs.ListPages(r.Context(), job.ID)
	if err != nil {
		s.respondError(w, r, err, "list pages")
		return
	}
	if pages == nil {
		pages = []store.ScrapedPage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// listScrapeSites handles GET /api/scrape/jobs/{job_id}/sites?limit=&offset=
// and returns the per-site fetch counters.
func (s *Server) listScrapeSites(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	stats, err := s.jobs.ListSiteStats(r.Context(), job.ID)
	if err != nil {
		s.respondError(w, r, err, "list job sites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": toSiteDTOs(page(stats, limit, offset))})
}

// ownedJob loads the caller's job named by the URL, writing 404 when absent.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (store.ScrapingJob, bool) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"), currentUser(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return store.ScrapingJob{}, false
	}
	if err != nil {
		s.respondError(w, r, err, "load job")
		return store.ScrapingJob{}, false
	}
	return job, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

type siteDTO struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	BytesTotal int64     `json:"bytes_total"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
}

func toSiteDTOs(in []store.SiteStats) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:       s.Site,
			LastUpdate: s.LastUpdate,
			Visits:     s.Visits,
			BytesTotal: s.BytesTotal,
			Fetch2xx:   s.Fetch2xx,
			Fetch3xx:   s.Fetch3xx,
			Fetch4xx:   s.Fetch4xx,
			Fetch5xx:   s.Fetch5xx,
		})
	}
	return out
}
