// Package vectordb manages vector databases: creation from finished jobs,
// background index builds, search and index housekeeping.
package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/embeddings"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/telemetry"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

// Errors mapped to client responses.
var (
	ErrInvalidInput = errors.New("name and scraping job ID are required")
	ErrJobNotFound  = errors.New("scraping job not found")
	ErrJobNotReady  = errors.New("scraping job is not completed")
	ErrNotFound     = errors.New("database not found or not authorized")
	ErrNotReady     = errors.New("vector database is not ready")
	ErrDuplicate    = errors.New("a vector database already exists for this job")
	ErrNoContent    = errors.New("scraped data has no content to index")
	ErrNoQuery      = errors.New("query is required")
	ErrNameTooLong  = fmt.Errorf("name must be at most %d characters", MaxNameLength)
)

// MaxNameLength matches vector_databases.name.
const MaxNameLength = 100

// Source types stored on index documents.
const (
	SourceWebScraped       = "web_scraped"
	SourceUploadedDocument = "uploaded_document"
)

// Chunker splits page text into embedding-sized pieces.
type Chunker interface {
	Split(text string) []string
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Databases store.VectorDBRepository
	Jobs      store.JobRepository
	Documents store.DocumentRepository
	Blobs     crawler.BlobStore
	Index     vectorstore.Index
	Embedder  embeddings.Embedder
	Chunker   Chunker
	Queue     crawler.Queue
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Logger    *zap.Logger
}

// Service implements the vector database operations.
type Service struct {
	dbs      store.VectorDBRepository
	jobs     store.JobRepository
	docs     store.DocumentRepository
	blobs    crawler.BlobStore
	index    vectorstore.Index
	embedder embeddings.Embedder
	chunker  Chunker
	queue    crawler.Queue
	ids      crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
}

// New checks deps and builds a Service.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Databases == nil, deps.Jobs == nil, deps.Documents == nil:
		return nil, errors.New("vectordb: repositories are required")
	case deps.Blobs == nil, deps.Index == nil, deps.Embedder == nil, deps.Chunker == nil:
		return nil, errors.New("vectordb: blob store, index, embedder and chunker are required")
	case deps.Queue == nil, deps.IDs == nil, deps.Clock == nil:
		return nil, errors.New("vectordb: queue, id generator and clock are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dbs:      deps.Databases,
		jobs:     deps.Jobs,
		docs:     deps.Documents,
		blobs:    deps.Blobs,
		index:    deps.Index,
		embedder: deps.Embedder,
		chunker:  deps.Chunker,
		queue:    deps.Queue,
		ids:      deps.IDs,
		clock:    deps.Clock,
		logger:   logger,
	}, nil
}

// CreateRequest names the source of a new database. Exactly one job id is set.
type CreateRequest struct {
	UserID        int64
	Name          string
	ScrapingJobID string
	DocumentJobID string
}

// Create records a building database and queues its index build.
func (s *Service) Create(ctx context.Context, req CreateRequest) (store.VectorDatabase, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || (req.ScrapingJobID == "") == (req.DocumentJobID == "") {
		return store.VectorDatabase{}, ErrInvalidInput
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return store.VectorDatabase{}, ErrNameTooLong
	}
	sourceURL, err := s.sourceURL(ctx, req)
	if err != nil {
		return store.VectorDatabase{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return store.VectorDatabase{}, fmt.Errorf("generate database id: %w", err)
	}
	now := s.clock.Now()
	db := store.VectorDatabase{
		ID:            id,
		UserID:        req.UserID,
		JobID:         req.ScrapingJobID,
		DocumentJobID: req.DocumentJobID,
		Name:          name,
		SourceURL:     sourceURL,
		IndexName:     vectorstore.IndexName(id),
		Status:        store.VectorDBBuilding,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.dbs.Create(ctx, db); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.VectorDatabase{}, ErrDuplicate
		}
		return store.VectorDatabase{}, fmt.Errorf("create vector database: %w", err)
	}
	task := crawler.Task{
		Kind:      crawler.TaskIndex,
		ID:        id,
		UserID:    req.UserID,
		Submitted: now.Unix(),
		Trace:     telemetry.Inject(ctx),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if setErr := s.dbs.SetStatus(ctx, id, store.VectorDBError, "failed to queue index build"); setErr != nil {
			s.logger.Warn("mark database error failed", zap.String("db_id", id), zap.Error(setErr))
		}
		return store.VectorDatabase{}, fmt.Errorf("queue index build: %w", err)
	}
	s.logger.Info("vector database created",
		zap.String("db_id", id),
		zap.Int64("user_id", req.UserID),
		zap.String("source_job_id", db.SourceJobID()),
	)
	return db, nil
}

func (s *Service) sourceURL(ctx context.Context, req CreateRequest) (string, error) {
	if req.DocumentJobID != "" {
		job, err := s.docs.GetDocumentJob(ctx, req.DocumentJobID, req.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrJobNotFound
		}
		if err != nil {
			return "", fmt.Errorf("load document job: %w", err)
		}
		if job.Status != crawler.JobStatusCompleted {
			return "", ErrJobNotReady
		}
		return "document-job://" + job.ID, nil
	}
	job, err := s.jobs.GetJob(ctx, req.ScrapingJobID, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load scraping job: %w", err)
	}
	if job.Status != crawler.JobStatusCompleted {
		return "", ErrJobNotReady
	}
	return job.URL, nil
}

// Build embeds the source job's pages into the database's index and returns
// the number of chunks uploaded. Failures leave the database in error.
func (s *Service) Build(ctx context.Context, dbID string) (int, error) {
	db, err := s.dbs.GetByID(ctx, dbID)
	if err != nil {
		return 0, fmt.Errorf("load vector database %s: %w", dbID, err)
	}
	logger := s.logger.With(zap.String("db_id", db.ID), zap.String("index", db.IndexName))
	start := s.clock.Now()

	count, err := s.build(ctx, db)
	if err == nil {
		if readyErr := s.dbs.MarkReady(ctx, db.ID, count); readyErr != nil {
			err = fmt.Errorf("mark database ready: %w", readyErr)
		}
	}
	if err != nil {
		s.markError(ctx, db.ID, err, logger)
		return 0, err
	}
	metrics.ObserveVectorDBBuild(string(store.VectorDBReady))
	logger.Info("index build finished",
		zap.Int("documents", count),
		zap.Duration("duration", s.clock.Now().Sub(start)),
	)
	return count, nil
}

// markError moves a database to error. It writes on a detached context so a
// timed-out build still reaches a terminal state.
func (s *Service) markError(ctx context.Context, dbID string, cause error, logger *zap.Logger) {
	metrics.ObserveVectorDBBuild(string(store.VectorDBError))
	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.dbs.SetStatus(setCtx, dbID, store.VectorDBError, cause.Error()); err != nil {
		logger.Error("mark database error failed", zap.Error(err))
	}
	logger.Error("index build failed", zap.Error(cause))
}

func (s *Service) build(ctx context.Context, db store.VectorDatabase) (int, error) {
	if err := s.index.EnsureIndex(ctx, db.IndexName, s.embedder.Dimensions()); err != nil {
		return 0, fmt.Errorf("ensure index: %w", err)
	}
	raw, err := s.blobs.GetObject(ctx, crawler.ResultPath(db.SourceJobID()))
	if err != nil {
		return 0, fmt.Errorf("load scraped data: %w", err)
	}
	result, err := crawler.DecodeResult(raw)
	if err != nil {
		return 0, err
	}
	docs, err := s.documents(db, result.Pages())
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, ErrNoContent
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(docs))
	}
	for i := range docs {
		docs[i].Vector = vectors[i]
	}
	if err := s.index.Upload(ctx, db.IndexName, docs); err != nil {
		return 0, fmt.Errorf("upload chunks: %w", err)
	}
	return len(docs), nil
}

func (s *Service) documents(db store.VectorDatabase, pages []crawler.Page) ([]vectorstore.Document, error) {
	sourceType := SourceWebScraped
	if db.DocumentJobID != "" {
		sourceType = SourceUploadedDocument
	}
	var docs []vectorstore.Document
	for pi, page := range pages {
		if strings.TrimSpace(page.Content) == "" {
			continue
		}
		chunks := s.chunker.Split(page.Content)
		title := page.Title
		if title == "" {
			title = page.URL
		}
		for ci, chunk := range chunks {
			meta := map[string]any{
				"scraping_job_id": db.SourceJobID(),
				"chunk_count":     len(chunks),
			}
			for k, v := range page.Metadata {
				if _, taken := meta[k]; !taken {
					meta[k] = v
				}
			}
			encoded, err := json.Marshal(meta)
			if err != nil {
				return nil, fmt.Errorf("encode chunk metadata: %w", err)
			}
			docs = append(docs, vectorstore.Document{
				ID:         fmt.Sprintf("%s_%d_%d", db.ID, pi, ci),
				Content:    chunk,
				Title:      title,
				URL:        page.URL,
				ChunkIndex: ci,
				SourceType: sourceType,
				Metadata:   string(encoded),
			})
		}
	}
	return docs, nil
}

// List returns the caller's databases, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]store.VectorDatabase, error) {
	dbs, err := s.dbs.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list vector databases: %w", err)
	}
	return dbs, nil
}

// Get loads one of the caller's databases.
func (s *Service) Get(ctx context.Context, id string, userID int64) (store.VectorDatabase, error) {
	db, err := s.dbs.Get(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.VectorDatabase{}, ErrNotFound
	}
	if err != nil {
		return store.VectorDatabase{}, fmt.Errorf("load vector database: %w", err)
	}
	return db, nil
}

// Delete removes the index and then the row. Index removal failures only
// warn so that a broken backend never strands the row.
func (s *Service) Delete(ctx context.Context, id string, userID int64) error {
	db, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.index.DeleteIndex(ctx, db.IndexName); err != nil && !errors.Is(err, vectorstore.ErrIndexNotFound) {
		s.logger.Warn("delete index failed", zap.String("db_id", id), zap.String("index", db.IndexName), zap.Error(err))
	}
	if err := s.dbs.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete vector database: %w", err)
	}
	s.logger.Info("vector database deleted", zap.String("db_id", id), zap.Int64("user_id", userID))
	return nil
}

// DeleteForJob removes every database the user built from the given scraping
// job, indexes included, and returns how many were deleted.
func (s *Service) DeleteForJob(ctx context.Context, jobID string, userID int64) (int, error) {
	dbs, err := s.dbs.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list vector databases: %w", err)
	}
	deleted := 0
	for _, db := range dbs {
		if db.JobID != jobID {
			continue
		}
		if err := s.Delete(ctx, db.ID, userID); err != nil && !errors.Is(err, ErrNotFound) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Status is the polling view of a database.
type Status struct {
	Status        store.VectorDBStatus `json:"status"`
	DocumentCount int                  `json:"document_count"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Status returns the build state of a database.
func (s *Service) Status(ctx context.Context, id string, userID int64) (Status, error) {
	db, err := s.Get(ctx, id, userID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Status:        db.Status,
		DocumentCount: db.DocumentCount,
		ErrorMessage:  db.ErrorMessage,
		CreatedAt:     db.CreatedAt,
		UpdatedAt:     db.UpdatedAt,
	}, nil
}

// SearchRequest is a query against one database.
type SearchRequest struct {
	Query string
	Type  string
	TopK  int
}

// Search queries a ready database. The query is embedded when the search
// type needs a vector.
func (s *Service) Search(ctx context.Context, id string, userID int64, req SearchRequest) ([]vectorstore.Result, error) {
	db, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if db.Status != store.VectorDBReady {
		return nil, ErrNotReady
	}
	searchType, err := vectorstore.ParseSearchType(req.Type)
	if err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrNoQuery
	}
	search := vectorstore.SearchRequest{Query: query, Type: searchType, TopK: req.TopK}
	if searchType.NeedsVector() {
		vectors, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("embedder returned %d vectors for the query", len(vectors))
		}
		search.Vector = vectors[0]
	}
	results, err := s.index.Search(ctx, db.IndexName, search)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if results == nil {
		results = []vectorstore.Result{}
	}
	return results, nil
}

// Stats summarizes backend indexes and the caller's databases.
type Stats struct {
	AzureIndexCount   int      `json:"azure_index_count"`
	IndexesAvailable  []string `json:"indexes_available"`
	ActiveDatabases   int      `json:"active_databases"`
	ErrorDatabases    int      `json:"error_databases"`
	BuildingDatabases int      `json:"building_databases"`
}

// Stats counts backend indexes and the caller's databases by status.
func (s *Service) Stats(ctx context.Context, userID int64) (Stats, error) {
	names, err := s.index.ListIndexes(ctx, vectorstore.IndexPrefix)
	if err != nil {
		return Stats{}, fmt.Errorf("list indexes: %w", err)
	}
	dbs, err := s.List(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	if names == nil {
		names = []string{}
	}
	stats := Stats{AzureIndexCount: len(names), IndexesAvailable: names}
	for _, db := range dbs {
		switch db.Status {
		case store.VectorDBReady:
			stats.ActiveDatabases++
		case store.VectorDBError:
			stats.ErrorDatabases++
		case store.VectorDBBuilding:
			stats.BuildingDatabases++
		}
	}
	return stats, nil
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	DeletedCount  int `json:"deleted_count"`
	OrphanedFound int `json:"orphaned_found"`
}

// Cleanup removes indexes no database row references and the caller's
// failed databases.
func (s *Service) Cleanup(ctx context.Context, userID int64) (CleanupResult, error) {
	names, err := s.index.ListIndexes(ctx, vectorstore.IndexPrefix)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list indexes: %w", err)
	}
	known, err := s.dbs.IndexNames(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list index names: %w", err)
	}
	referenced := make(map[string]struct{}, len(known))
	for _, name := range known {
		referenced[name] = struct{}{}
	}

	var result CleanupResult
	for _, name := range names {
		if _, ok := referenced[name]; ok {
			continue
		}
		result.OrphanedFound++
		if err := s.index.DeleteIndex(ctx, name); err != nil && !errors.Is(err, vectorstore.ErrIndexNotFound) {
			s.logger.Warn("delete orphaned index failed", zap.String("index", name), zap.Error(err))
			continue
		}
		result.DeletedCount++
	}

	dbs, err := s.List(ctx, userID)
	if err != nil {
		return result, err
	}
	for _, db := range dbs {
		if db.Status != store.VectorDBError {
			continue
		}
		if err := s.Delete(ctx, db.ID, userID); err != nil {
			s.logger.Warn("delete failed database", zap.String("db_id", db.ID), zap.Error(err))
			continue
		}
		result.DeletedCount++
	}
	s.logger.Info("vector database cleanup finished",
		zap.Int64("user_id", userID),
		zap.Int("orphaned_found", result.OrphanedFound),
		zap.Int("deleted_count", result.DeletedCount),
	)
	return result, nil
}
