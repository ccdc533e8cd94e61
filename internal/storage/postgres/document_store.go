package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// DocumentStore implements store.DocumentRepository.
type DocumentStore struct {
	db Querier
}

// NewDocumentStore wraps a querier.
func NewDocumentStore(db Querier) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentJobColumns = `id, user_id, status, file_count, chunk_count, message, created_at, completed_at`

// CreateDocumentJob inserts an upload job.
func (s *DocumentStore) CreateDocumentJob(ctx context.Context, job store.DocumentJob) error {
	status := job.Status
	if status == "" {
		status = crawler.JobStatusPending
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO document_jobs (id, user_id, status, file_count, message) VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.UserID, string(status), job.FileCount, job.Message,
	)
	return mapError(err, "insert document job")
}

// GetDocumentJob loads a job owned by userID.
func (s *DocumentStore) GetDocumentJob(ctx context.Context, id string, userID int64) (store.DocumentJob, error) {
	return scanDocumentJob(s.db.QueryRow(ctx,
		`SELECT `+documentJobColumns+` FROM document_jobs WHERE id = $1 AND user_id = $2`, id, userID))
}

// GetDocumentJobByID loads a job regardless of owner.
func (s *DocumentStore) GetDocumentJobByID(ctx context.Context, id string) (store.DocumentJob, error) {
	return scanDocumentJob(s.db.QueryRow(ctx,
		`SELECT `+documentJobColumns+` FROM document_jobs WHERE id = $1`, id))
}

// ListDocumentJobs returns a user's upload jobs, newest first.
func (s *DocumentStore) ListDocumentJobs(ctx context.Context, userID int64) ([]store.DocumentJob, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+documentJobColumns+` FROM document_jobs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err, "list document jobs")
	}
	defer rows.Close()

	out := make([]store.DocumentJob, 0)
	for rows.Next() {
		job, err := scanDocumentJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate document jobs")
	}
	return out, nil
}

// SetDocumentJobRunning marks a job as picked up.
func (s *DocumentStore) SetDocumentJobRunning(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE document_jobs SET status = 'running' WHERE id = $1`, id)
	return expectOne(tag, err, "start document job")
}

// CompleteDocumentJob records success with the produced chunk count.
func (s *DocumentStore) CompleteDocumentJob(ctx context.Context, id string, chunkCount int, message string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE document_jobs SET status = 'completed', chunk_count = $1, message = $2, completed_at = $3
		WHERE id = $4`,
		chunkCount, message, at, id)
	return expectOne(tag, err, "complete document job")
}

// FailDocumentJob records failure.
func (s *DocumentStore) FailDocumentJob(ctx context.Context, id string, message string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE document_jobs SET status = 'failed', message = $1, completed_at = $2 WHERE id = $3`,
		message, at, id)
	return expectOne(tag, err, "fail document job")
}

// FailUnfinishedDocumentJobs fails document jobs left pending or running.
func (s *DocumentStore) FailUnfinishedDocumentJobs(ctx context.Context, message string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE document_jobs SET status = 'failed', message = $1, completed_at = $2
		WHERE status IN ('pending', 'running')`,
		message, at)
	if err != nil {
		return 0, mapError(err, "fail unfinished document jobs")
	}
	return tag.RowsAffected(), nil
}

// AddUploadedDocument inserts a stored file row.
func (s *DocumentStore) AddUploadedDocument(ctx context.Context, doc store.UploadedDocument) (store.UploadedDocument, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO uploaded_documents (document_job_id, user_id, filename, blob_path, format, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		doc.DocumentJobID, doc.UserID, doc.Filename, doc.BlobPath, doc.Format, doc.SizeBytes,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return store.UploadedDocument{}, mapError(err, "insert uploaded document")
	}
	return doc, nil
}

// ListUploadedDocuments returns a job's files in upload order.
func (s *DocumentStore) ListUploadedDocuments(ctx context.Context, jobID string) ([]store.UploadedDocument, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, document_job_id, user_id, filename, blob_path, format, size_bytes, created_at
		FROM uploaded_documents WHERE document_job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, mapError(err, "list uploaded documents")
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.UploadedDocument, error) {
		var d store.UploadedDocument
		err := row.Scan(&d.ID, &d.DocumentJobID, &d.UserID, &d.Filename, &d.BlobPath, &d.Format, &d.SizeBytes, &d.CreatedAt)
		return d, err
	})
	if err != nil {
		return nil, mapError(err, "scan uploaded documents")
	}
	return docs, nil
}

func scanDocumentJob(row pgx.Row) (store.DocumentJob, error) {
	var (
		job    store.DocumentJob
		status string
	)
	err := row.Scan(&job.ID, &job.UserID, &status, &job.FileCount, &job.ChunkCount, &job.Message,
		&job.CreatedAt, &job.CompletedAt)
	if err != nil {
		return store.DocumentJob{}, mapError(err, "scan document job")
	}
	job.Status = crawler.JobStatus(status)
	return job, nil
}
