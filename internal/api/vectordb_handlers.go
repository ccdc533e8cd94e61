package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/vectordb"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

type createVectorDBRequest struct {
	Name          string `json:"name"`
	ScrapingJobID string `json:"scraping_job_id"`
	DocumentJobID string `json:"document_job_id"`
}

type searchRequest struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type"`
	TopK       int    `json:"top_k"`
}

func (s *Server) listVectorDBs(w http.ResponseWriter, r *http.Request) {
	dbs, err := s.vectorDBs.List(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "list vector databases")
		return
	}
	if dbs == nil {
		dbs = []store.VectorDatabase{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

// createVectorDB handles POST /api/vector-dbs/create. The index is built in
// the background; clients poll the status endpoint.
func (s *Server) createVectorDB(w http.ResponseWriter, r *http.Request) {
	var req createVectorDBRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	db, err := s.vectorDBs.Create(r.Context(), vectordb.CreateRequest{
		UserID:        currentUser(r),
		Name:          req.Name,
		ScrapingJobID: req.ScrapingJobID,
		DocumentJobID: req.DocumentJobID,
	})
	if err != nil {
		s.respondError(w, r, err, "create vector database")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"db_id": db.ID, "status": "created"})
}

func (s *Server) deleteVectorDB(w http.ResponseWriter, r *http.Request) {
	if err := s.vectorDBs.Delete(r.Context(), chi.URLParam(r, "db_id"), currentUser(r)); err != nil {
		s.respondError(w, r, err, "delete vector database")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) vectorDBStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.vectorDBs.Status(r.Context(), chi.URLParam(r, "db_id"), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "load vector database status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) searchVectorDB(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.vectorDBs.Search(r.Context(), chi.URLParam(r, "db_id"), currentUser(r), vectordb.SearchRequest{
		Query: req.Query,
		Type:  req.SearchType,
		TopK:  req.TopK,
	})
	if err != nil {
		s.respondError(w, r, err, "search vector database")
		return
	}
	if results == nil {
		results = []vectorstore.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) vectorDBStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.vectorDBs.Stats(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "load vector database stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cleanupVectorDBs(w http.ResponseWriter, r *http.Request) {
	result, err := s.vectorDBs.Cleanup(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err, "clean up vector databases")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
