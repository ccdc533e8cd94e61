package store

import (
	"context"
	"time"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// UserRepository persists accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	CountUsers(ctx context.Context) (int, error)
}

// JobRepository persists scraping jobs, their pages and per-site progress.
type JobRepository interface {
	CreateJob(ctx context.Context, job ScrapingJob) error
	// GetJob loads a job owned by userID.
	GetJob(ctx context.Context, id string, userID int64) (ScrapingJob, error)
	// GetJobByID loads a job regardless of owner; used by workers.
	GetJobByID(ctx context.Context, id string) (ScrapingJob, error)
	ListJobs(ctx context.Context, userID int64) ([]ScrapingJob, error)
	UpdateStatus(ctx context.Context, id string, status crawler.JobStatus, progress int, message string) error
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	// Complete records the terminal state together with the result summary.
	Complete(
		ctx context.Context,
		id string,
		status crawler.JobStatus,
		progress int,
		message string,
		summary map[string]any,
		at time.Time,
	) error
	DeleteJob(ctx context.Context, id string, userID int64) error
	// FailUnfinished fails every pending or running job and reports how many.
	FailUnfinished(ctx context.Context, message string, at time.Time) (int64, error)
	RecordPage(ctx context.Context, page ScrapedPage) error
	ListPages(ctx context.Context, jobID string) ([]ScrapedPage, error)
	UpsertSiteStats(
		ctx context.Context,
		jobID, site string,
		deltaVisits, deltaBytes int64,
		statusClass string,
		at time.Time,
	) error
	ListSiteStats(ctx context.Context, jobID string) ([]SiteStats, error)
}

// VectorDBRepository persists vector database metadata.
type VectorDBRepository interface {
	Create(ctx context.Context, db VectorDatabase) error
	Get(ctx context.Context, id string, userID int64) (VectorDatabase, error)
	GetByID(ctx context.Context, id string) (VectorDatabase, error)
	List(ctx context.Context, userID int64) ([]VectorDatabase, error)
	SetStatus(ctx context.Context, id string, status VectorDBStatus, errMsg string) error
	MarkReady(ctx context.Context, id string, documentCount int) error
	Delete(ctx context.Context, id string, userID int64) error
	// FailBuilding moves every building database to error.
	FailBuilding(ctx context.Context, message string) (int64, error)
	// IndexNames returns every index name known to the database, across users.
	IndexNames(ctx context.Context) ([]string, error)
}

// ChatRepository persists sessions and their messages.
type ChatRepository interface {
	CreateSession(ctx context.Context, session ChatSession) error
	GetSession(ctx context.Context, id string, userID int64) (ChatSession, error)
	ListSessions(ctx context.Context, userID int64) ([]ChatSession, error)
	DeleteSession(ctx context.Context, id string, userID int64) error
	AddMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	// ListMessages returns the newest limit messages in chronological order.
	// A limit of zero or less returns all.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
}

// DocumentRepository persists upload jobs and their files.
type DocumentRepository interface {
	CreateDocumentJob(ctx context.Context, job DocumentJob) error
	GetDocumentJob(ctx context.Context, id string, userID int64) (DocumentJob, error)
	GetDocumentJobByID(ctx context.Context, id string) (DocumentJob, error)
	ListDocumentJobs(ctx context.Context, userID int64) ([]DocumentJob, error)
	SetDocumentJobRunning(ctx context.Context, id string) error
	CompleteDocumentJob(ctx context.Context, id string, chunkCount int, message string, at time.Time) error
	FailDocumentJob(ctx context.Context, id string, message string, at time.Time) error
	FailUnfinishedDocumentJobs(ctx context.Context, message string, at time.Time) (int64, error)
	AddUploadedDocument(ctx context.Context, doc UploadedDocument) (UploadedDocument, error)
	ListUploadedDocuments(ctx context.Context, jobID string) ([]UploadedDocument, error)
}

// Repositories bundles every repository for wiring.
type Repositories struct {
	Users     UserRepository
	Jobs      JobRepository
	VectorDBs VectorDBRepository
	Chats     ChatRepository
	Documents DocumentRepository
}
