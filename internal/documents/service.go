// Package documents accepts uploaded files, stores them as blobs and turns
// them into scraped data that vector databases can index.
package documents

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/telemetry"
)

// DefaultMaxFileSize bounds each uploaded file.
const DefaultMaxFileSize int64 = 50 << 20

// Errors mapped to client responses.
var (
	ErrNoFiles           = errors.New("no files provided")
	ErrUnsupportedFormat = errors.New("unsupported file format, allowed: .pdf, .docx, .md")
	ErrTooLarge          = errors.New("file exceeds the upload size limit")
	ErrContentMismatch   = errors.New("file content does not match its extension")
	ErrJobNotFound       = errors.New("document job not found")
	ErrNameTooLong       = fmt.Errorf("file name must be at most %d characters", MaxFilenameLength)
)

// MaxFilenameLength matches uploaded_documents.filename.
const MaxFilenameLength = 255

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Chunker splits extracted text the same way index builds do.
type Chunker interface {
	Split(text string) []string
}

// File is one uploaded file.
type File struct {
	Name string
	Data []byte
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Documents   store.DocumentRepository
	Blobs       crawler.BlobStore
	Queue       crawler.Queue
	Hasher      crawler.Hasher
	Chunker     Chunker
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
	MaxFileSize int64
	Logger      *zap.Logger
}

// Service implements upload and processing of documents.
type Service struct {
	docs    store.DocumentRepository
	blobs   crawler.BlobStore
	queue   crawler.Queue
	hasher  crawler.Hasher
	chunker Chunker
	ids     crawler.IDGenerator
	clock   crawler.Clock
	maxSize int64
	logger  *zap.Logger
}

// New checks deps and builds a Service.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Documents == nil, deps.Blobs == nil, deps.Queue == nil:
		return nil, errors.New("documents: repository, blob store and queue are required")
	case deps.Hasher == nil, deps.Chunker == nil, deps.IDs == nil, deps.Clock == nil:
		return nil, errors.New("documents: hasher, chunker, id generator and clock are required")
	}
	maxSize := deps.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		docs:    deps.Documents,
		blobs:   deps.Blobs,
		queue:   deps.Queue,
		hasher:  deps.Hasher,
		chunker: deps.Chunker,
		ids:     deps.IDs,
		clock:   deps.Clock,
		maxSize: maxSize,
		logger:  logger,
	}, nil
}

// MaxFileSize reports the per-file limit.
func (s *Service) MaxFileSize() int64 {
	return s.maxSize
}

// Validate checks a file's size, extension and leading bytes and returns
// its format.
func (s *Service) Validate(f File) (string, error) {
	name := filepath.Base(f.Name)
	if utf8.RuneCountInString(name) > MaxFilenameLength {
		return "", ErrNameTooLong
	}
	if int64(len(f.Data)) > s.maxSize {
		return "", fmt.Errorf("%s: %w (%.1fMB > %dMB)", name, ErrTooLarge,
			float64(len(f.Data))/(1<<20), s.maxSize>>20)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch format {
	case FormatPDF:
		if !bytes.HasPrefix(f.Data, []byte("%PDF")) {
			return "", fmt.Errorf("%s: %w", name, ErrContentMismatch)
		}
	case FormatDOCX:
		if !isDOCX(f.Data) {
			return "", fmt.Errorf("%s: %w", name, ErrContentMismatch)
		}
	case FormatMarkdown:
	default:
		return "", fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
	}
	return format, nil
}

func isDOCX(data []byte) bool {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// Upload validates every file, stores them and queues one document job for
// the batch. No file is stored when any of them is rejected.
func (s *Service) Upload(ctx context.Context, userID int64, files []File) (store.DocumentJob, []store.UploadedDocument, error) {
	if len(files) == 0 {
		return store.DocumentJob{}, nil, ErrNoFiles
	}
	formats := make([]string, len(files))
	for i, f := range files {
		format, err := s.Validate(f)
		if err != nil {
			return store.DocumentJob{}, nil, err
		}
		formats[i] = format
	}

	id, err := s.ids.NewID()
	if err != nil {
		return store.DocumentJob{}, nil, fmt.Errorf("generate document job id: %w", err)
	}
	now := s.clock.Now()
	job := store.DocumentJob{
		ID:        id,
		UserID:    userID,
		Status:    crawler.JobStatusPending,
		FileCount: len(files),
		Message:   "Queued for processing",
		CreatedAt: now,
	}
	if err := s.docs.CreateDocumentJob(ctx, job); err != nil {
		return store.DocumentJob{}, nil, fmt.Errorf("create document job: %w", err)
	}

	stamp := now.UTC().Format("20060102_150405")
	uploaded := make([]store.UploadedDocument, 0, len(files))
	stored := make([]string, 0, len(files))
	for i, f := range files {
		name := filepath.Base(f.Name)
		safe := unsafeChars.ReplaceAllString(name, "_")
		// Batches share a timestamp, so their files carry an ordinal.
		if len(files) > 1 {
			safe = strconv.Itoa(i) + "_" + safe
		}
		path := fmt.Sprintf("user-documents/user_%d/%s_%s", userID, stamp, safe)
		if _, err := s.blobs.PutObject(ctx, path, contentType(formats[i]), bytes.NewReader(f.Data)); err != nil {
			s.fail(ctx, job.ID, "failed to store uploaded files")
			s.discard(ctx, stored)
			return store.DocumentJob{}, nil, fmt.Errorf("store %s: %w", name, err)
		}
		stored = append(stored, path)
		doc, err := s.docs.AddUploadedDocument(ctx, store.UploadedDocument{
			DocumentJobID: job.ID,
			UserID:        userID,
			Filename:      name,
			BlobPath:      path,
			Format:        formats[i],
			SizeBytes:     int64(len(f.Data)),
			CreatedAt:     now,
		})
		if err != nil {
			s.fail(ctx, job.ID, "failed to record uploaded files")
			s.discard(ctx, stored)
			return store.DocumentJob{}, nil, fmt.Errorf("record %s: %w", name, err)
		}
		uploaded = append(uploaded, doc)
	}

	task := crawler.Task{
		Kind:      crawler.TaskDocument,
		ID:        job.ID,
		UserID:    userID,
		Submitted: now.Unix(),
		Trace:     telemetry.Inject(ctx),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.fail(ctx, job.ID, "failed to queue document processing")
		s.discard(ctx, stored)
		return store.DocumentJob{}, nil, fmt.Errorf("queue document job: %w", err)
	}
	s.logger.Info("documents uploaded",
		zap.String("document_job_id", job.ID),
		zap.Int64("user_id", userID),
		zap.Int("files", len(uploaded)),
	)
	return job, uploaded, nil
}

// discard removes blobs stored for an upload that did not complete.
func (s *Service) discard(ctx context.Context, paths []string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, path := range paths {
		if err := s.blobs.DeleteObject(delCtx, path); err != nil && !errors.Is(err, crawler.ErrBlobNotFound) {
			s.logger.Warn("discard uploaded blob failed", zap.String("blob_path", path), zap.Error(err))
		}
	}
}

func contentType(format string) string {
	switch format {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "text/markdown"
	}
}

// Process extracts every file of a job into a documents Result stored at
// the job's result path and returns the chunk count it will index to.
// Files that fail extraction are skipped; the job fails only when none
// produce text.
func (s *Service) Process(ctx context.Context, jobID string) (int, error) {
	job, err := s.docs.GetDocumentJobByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return 0, fmt.Errorf("load document job: %w", err)
	}
	if err := s.docs.SetDocumentJobRunning(ctx, job.ID); err != nil {
		return 0, s.failWith(ctx, job.ID, fmt.Errorf("start document job: %w", err))
	}
	logger := s.logger.With(zap.String("document_job_id", job.ID))

	files, err := s.docs.ListUploadedDocuments(ctx, job.ID)
	if err != nil {
		return 0, s.failWith(ctx, job.ID, fmt.Errorf("list uploaded documents: %w", err))
	}
	pages := make([]crawler.Page, 0, len(files))
	chunks := 0
	for _, file := range files {
		page, err := s.processFile(ctx, job, file)
		metrics.ObserveDocument(file.Format, err)
		if err != nil {
			logger.Warn("document extraction failed", zap.String("filename", file.Filename), zap.Error(err))
			continue
		}
		chunks += len(s.chunker.Split(page.Content))
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return 0, s.failWith(ctx, job.ID, fmt.Errorf("%w from %d file(s)", ErrNoText, len(files)))
	}

	result := crawler.Result{
		Success:      true,
		SourceType:   crawler.SourceDocuments,
		Title:        pages[0].Title,
		PagesScraped: len(pages),
		Metadata: map[string]string{
			"document_count": strconv.Itoa(len(pages)),
			"file_count":     strconv.Itoa(len(files)),
			"processed_at":   s.clock.Now().UTC().Format(time.RFC3339),
		},
		Results: pages,
	}
	body, err := json.Marshal(result)
	if err != nil {
		return 0, s.failWith(ctx, job.ID, fmt.Errorf("encode document result: %w", err))
	}
	if _, err := s.blobs.PutObject(ctx, crawler.ResultPath(job.ID), "application/json", bytes.NewReader(body)); err != nil {
		return 0, s.failWith(ctx, job.ID, fmt.Errorf("store document result: %w", err))
	}

	message := fmt.Sprintf("Processed %d of %d documents", len(pages), len(files))
	if err := s.docs.CompleteDocumentJob(ctx, job.ID, chunks, message, s.clock.Now()); err != nil {
		return 0, s.failWith(ctx, job.ID, fmt.Errorf("complete document job: %w", err))
	}
	logger.Info("documents processed", zap.Int("documents", len(pages)), zap.Int("chunks", chunks))
	return chunks, nil
}

func (s *Service) processFile(ctx context.Context, job store.DocumentJob, file store.UploadedDocument) (crawler.Page, error) {
	data, err := s.blobs.GetObject(ctx, file.BlobPath)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("load %s: %w", file.BlobPath, err)
	}
	extracted, err := Extract(file.Format, data)
	if err != nil {
		return crawler.Page{}, err
	}
	digest, err := s.hasher.Hash(data)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("hash %s: %w", file.Filename, err)
	}
	meta := extracted.Metadata
	meta["filename"] = file.Filename
	meta["blob_name"] = file.BlobPath
	meta["user_id"] = strconv.FormatInt(job.UserID, 10)
	meta["sha256"] = digest
	title := extracted.Title
	if title == "" {
		title = file.Filename
	}
	return crawler.Page{
		URL:      "document://" + file.Filename,
		Title:    title,
		Content:  extracted.Content,
		Metadata: meta,
	}, nil
}

func (s *Service) failWith(ctx context.Context, jobID string, err error) error {
	s.fail(ctx, jobID, err.Error())
	return err
}

func (s *Service) fail(ctx context.Context, jobID, message string) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.docs.FailDocumentJob(failCtx, jobID, message, s.clock.Now()); err != nil {
		s.logger.Error("mark document job failed", zap.String("document_job_id", jobID), zap.Error(err))
	}
}

// ListJobs returns the caller's document jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID int64) ([]store.DocumentJob, error) {
	jobs, err := s.docs.ListDocumentJobs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list document jobs: %w", err)
	}
	return jobs, nil
}

// GetJob loads one of the caller's document jobs with its files.
func (s *Service) GetJob(ctx context.Context, id string, userID int64) (store.DocumentJob, []store.UploadedDocument, error) {
	job, err := s.docs.GetDocumentJob(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.DocumentJob{}, nil, ErrJobNotFound
	}
	if err != nil {
		return store.DocumentJob{}, nil, fmt.Errorf("load document job: %w", err)
	}
	files, err := s.docs.ListUploadedDocuments(ctx, job.ID)
	if err != nil {
		return store.DocumentJob{}, nil, fmt.Errorf("list uploaded documents: %w", err)
	}
	return job, files, nil
}
