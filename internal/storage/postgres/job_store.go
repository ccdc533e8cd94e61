package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// JobStore implements store.JobRepository.
type JobStore struct {
	db Querier
}

// NewJobStore wraps a querier.
func NewJobStore(db Querier) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, user_id, url, scraping_type, status, progress, message, config,
	result_summary, created_at, updated_at, completed_at`

// CreateJob inserts a pending job.
func (s *JobStore) CreateJob(ctx context.Context, job store.ScrapingJob) error {
	cfg, err := marshalJSON(job.Config)
	if err != nil {
		return err
	}
	status := job.Status
	if status == "" {
		status = crawler.JobStatusPending
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO scraping_jobs (id, user_id, url, scraping_type, status, progress, message, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.UserID, job.URL, string(job.Type), string(status), job.Progress, job.Message, cfg,
	)
	return mapError(err, "insert scraping job")
}

// GetJob loads a job owned by userID.
func (s *JobStore) GetJob(ctx context.Context, id string, userID int64) (store.ScrapingJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanJob(row)
}

// GetJobByID loads a job regardless of owner.
func (s *JobStore) GetJobByID(ctx context.Context, id string) (store.ScrapingJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListJobs returns a user's jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context, userID int64) ([]store.ScrapingJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM scraping_jobs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err, "list scraping jobs")
	}
	defer rows.Close()

	jobs := make([]store.ScrapingJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate scraping jobs")
	}
	return jobs, nil
}

// UpdateStatus sets status, progress and message.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, status crawler.JobStatus, progress int, message string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE scraping_jobs SET status = $1, progress = $2, message = $3, updated_at = now()
		WHERE id = $4`,
		string(status), progress, message, id,
	)
	return expectOne(tag, err, "update job status")
}

// UpdateProgress sets progress and message for jobs that are still running.
// Late progress events for terminal jobs are ignored.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress int, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scraping_jobs SET progress = $1, message = $2, updated_at = now()
		WHERE id = $3 AND status IN ('pending', 'running')`,
		progress, message, id,
	)
	return mapError(err, "update job progress")
}

// Complete records the terminal state with its result summary.
func (s *JobStore) Complete(
	ctx context.Context,
	id string,
	status crawler.JobStatus,
	progress int,
	message string,
	summary map[string]any,
	at time.Time,
) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		if summaryJSON, err = marshalJSON(summary); err != nil {
			return err
		}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scraping_jobs
		SET status = $1, progress = $2, message = $3, result_summary = $4, completed_at = $5, updated_at = $5
		WHERE id = $6`,
		string(status), progress, message, summaryJSON, at, id,
	)
	return expectOne(tag, err, "complete job")
}

// FailUnfinished fails jobs left pending or running by a previous process.
func (s *JobStore) FailUnfinished(ctx context.Context, message string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scraping_jobs SET status = 'failed', message = $1, completed_at = $2, updated_at = $2
		WHERE status IN ('pending', 'running')`,
		message, at,
	)
	if err != nil {
		return 0, mapError(err, "fail unfinished jobs")
	}
	return tag.RowsAffected(), nil
}

// DeleteJob removes a job owned by userID. Pages and stats cascade; a job
// still referenced by a vector database is ErrConflict.
func (s *JobStore) DeleteJob(ctx context.Context, id string, userID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scraping_jobs WHERE id = $1 AND user_id = $2`, id, userID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return expectOne(tag, err, "delete job")
}

// RecordPage inserts a scraped page row.
func (s *JobStore) RecordPage(ctx context.Context, page store.ScrapedPage) error {
	at := page.ScrapedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO scraped_pages (job_id, url, title, depth, status_code, content_length, used_headless, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		page.JobID, page.URL, page.Title, page.Depth, page.StatusCode, page.ContentLength, page.UsedHeadless, at,
	)
	return mapError(err, "insert scraped page")
}

// ListPages returns a job's pages in insertion order.
func (s *JobStore) ListPages(ctx context.Context, jobID string) ([]store.ScrapedPage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, url, title, depth, status_code, content_length, used_headless, scraped_at
		FROM scraped_pages WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, mapError(err, "list scraped pages")
	}
	defer rows.Close()

	pages := make([]store.ScrapedPage, 0)
	for rows.Next() {
		var p store.ScrapedPage
		if err := rows.Scan(&p.JobID, &p.URL, &p.Title, &p.Depth, &p.StatusCode,
			&p.ContentLength, &p.UsedHeadless, &p.ScrapedAt); err != nil {
			return nil, mapError(err, "scan scraped page")
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate scraped pages")
	}
	return pages, nil
}

var statusClassColumn = map[string]string{
	"2xx": "fetch_2xx",
	"3xx": "fetch_3xx",
	"4xx": "fetch_4xx",
	"5xx": "fetch_5xx",
}

// UpsertSiteStats applies visit and byte deltas to a (job, site) aggregate.
func (s *JobStore) UpsertSiteStats(
	ctx context.Context,
	jobID, site string,
	deltaVisits, deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	column, ok := statusClassColumn[statusClass]
	if !ok {
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	query := fmt.Sprintf(`
		INSERT INTO site_stats (job_id, site, last_update, visits, bytes_total, %[1]s)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (job_id, site) DO UPDATE SET
			visits = site_stats.visits + EXCLUDED.visits,
			bytes_total = site_stats.bytes_total + EXCLUDED.bytes_total,
			%[1]s = site_stats.%[1]s + EXCLUDED.%[1]s,
			last_update = EXCLUDED.last_update`, column)
	_, err := s.db.Exec(ctx, query, jobID, site, at, deltaVisits, deltaBytes)
	return mapError(err, "upsert site stats")
}

// ListSiteStats returns a job's per-site aggregates.
func (s *JobStore) ListSiteStats(ctx context.Context, jobID string) ([]store.SiteStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM site_stats WHERE job_id = $1 ORDER BY site`, jobID)
	if err != nil {
		return nil, mapError(err, "list site stats")
	}
	defer rows.Close()

	stats := make([]store.SiteStats, 0)
	for rows.Next() {
		var st store.SiteStats
		if err := rows.Scan(&st.JobID, &st.Site, &st.LastUpdate, &st.Visits, &st.BytesTotal,
			&st.Fetch2xx, &st.Fetch3xx, &st.Fetch4xx, &st.Fetch5xx); err != nil {
			return nil, mapError(err, "scan site stats")
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate site stats")
	}
	return stats, nil
}

func scanJob(row pgx.Row) (store.ScrapingJob, error) {
	var (
		job              store.ScrapingJob
		jobType, status  string
		cfgJSON, sumJSON []byte
	)
	err := row.Scan(&job.ID, &job.UserID, &job.URL, &jobType, &status, &job.Progress, &job.Message,
		&cfgJSON, &sumJSON, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return store.ScrapingJob{}, mapError(err, "scan scraping job")
	}
	job.Type = crawler.ScrapeType(jobType)
	job.Status = crawler.JobStatus(status)
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &job.Config); err != nil {
			return store.ScrapingJob{}, fmt.Errorf("decode job config: %w", err)
		}
	}
	if job.ResultSummary, err = unmarshalMap(sumJSON); err != nil {
		return store.ScrapingJob{}, err
	}
	return job, nil
}
