package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/documents"
	"github.com/usyd/webcrawler-rag/internal/store"
)

const (
	maxUploadFiles  = 20
	multipartMemory = 32 << 20
)

// uploadDocuments handles POST /api/documents/upload with one or more
// multipart "files" parts.
func (s *Server) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	maxFile := s.documents.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxFile*maxUploadFiles+(1<<20))
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.logger.Warn("remove multipart files failed", zap.Error(err))
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.respondError(w, r, documents.ErrNoFiles, "upload documents")
		return
	}
	if len(headers) > maxUploadFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxUploadFiles))
		return
	}
	files := make([]documents.File, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxFile {
			s.respondError(w, r, fmt.Errorf("%s: %w", fh.Filename, documents.ErrTooLarge), "upload documents")
			return
		}
		data, err := readPart(fh)
		if err != nil {
			s.respondError(w, r, err, "upload documents")
			return
		}
		files = append(files, documents.File{Name: fh.Filename, Data: data})
	}

	job, uploaded, err := s.documents.Upload(r.Context(), currentUser(r), files)
	if err != nil {
		s.respondError(w, r, err, "upload documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_job_id": job.ID,
		"status":          job.Status,
		"message":         job.Message,
		"files":           uploaded,
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}

func (s *Server) listDocumentJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.documents.ListJobs(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "list document jobs")
		return
	}
	if jobs == nil {
		jobs = []store.DocumentJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getDocumentJob(w http.ResponseWriter, r *http.Request) {
	job, files, err := s.documents.GetJob(r.Context(), chi.URLParam(r, "job_id"), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "load document job")
		return
	}
	if files == nil {
		files = []store.UploadedDocument{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "files": files})
}
