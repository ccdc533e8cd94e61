package store

import (
	"errors"
	"time"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist or is not
// owned by the caller.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals a uniqueness violation, such as a duplicate username.
var ErrConflict = errors.New("record already exists")

// User is an account that owns jobs, databases and sessions.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// ScrapingJob models the scraping_jobs table.
type ScrapingJob struct {
	ID            string               `json:"id"`
	UserID        int64                `json:"user_id"`
	URL           string               `json:"url"`
	Type          crawler.ScrapeType   `json:"scraping_type"`
	Status        crawler.JobStatus    `json:"status"`
	Progress      int                  `json:"progress"`
	Message       string               `json:"message"`
	Config        crawler.ScrapeConfig `json:"config"`
	ResultSummary map[string]any       `json:"result_summary,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// ScrapedPage is one page recorded for a completed job.
type ScrapedPage struct {
	JobID         string    `json:"job_id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Depth         int       `json:"depth"`
	StatusCode    int       `json:"status_code"`
	ContentLength int       `json:"content_length"`
	UsedHeadless  bool      `json:"used_headless"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// SiteStats aggregates fetch outcomes per (job, site).
type SiteStats struct {
	JobID      string    `json:"job_id"`
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Visits     int64     `json:"visits"`
	BytesTotal int64     `json:"bytes_total"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
}

// StatusClass buckets an HTTP status into 2xx..5xx. Zero and other values map
// to "5xx" since they come from transport failures.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// VectorDBStatus mirrors vector_databases.status.
type VectorDBStatus string

// Vector database statuses.
const (
	VectorDBBuilding VectorDBStatus = "building"
	VectorDBReady    VectorDBStatus = "ready"
	VectorDBError    VectorDBStatus = "error"
)

// VectorDatabase models one searchable index built from a job.
// Exactly one of JobID and DocumentJobID is set.
type VectorDatabase struct {
	ID            string         `json:"id"`
	UserID        int64          `json:"user_id"`
	JobID         string         `json:"job_id,omitempty"`
	DocumentJobID string         `json:"document_job_id,omitempty"`
	Name          string         `json:"name"`
	SourceURL     string         `json:"source_url"`
	IndexName     string         `json:"azure_index_name"`
	DocumentCount int            `json:"document_count"`
	Status        VectorDBStatus `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SourceJobID returns whichever job the database was built from.
func (v VectorDatabase) SourceJobID() string {
	if v.DocumentJobID != "" {
		return v.DocumentJobID
	}
	return v.JobID
}

// ChatSession binds a user, a vector database and a model.
type ChatSession struct {
	ID           string         `json:"id"`
	UserID       int64          `json:"user_id"`
	VectorDBID   string         `json:"vector_db_id"`
	VectorDBName string         `json:"vector_db_name,omitempty"`
	Model        string         `json:"model_name"`
	Config       map[string]any `json:"config"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Chat message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn in a session.
type ChatMessage struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DocumentJob groups the files of one upload.
type DocumentJob struct {
	ID          string            `json:"id"`
	UserID      int64             `json:"user_id"`
	Status      crawler.JobStatus `json:"status"`
	FileCount   int               `json:"file_count"`
	ChunkCount  int               `json:"chunk_count"`
	Message     string            `json:"message"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// UploadedDocument is a file stored for a document job.
type UploadedDocument struct {
	ID            int64     `json:"id"`
	DocumentJobID string    `json:"document_job_id"`
	UserID        int64     `json:"user_id"`
	Filename      string    `json:"filename"`
	BlobPath      string    `json:"blob_path"`
	Format        string    `json:"format"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}
