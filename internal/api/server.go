package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/auth"
	"github.com/usyd/webcrawler-rag/internal/chat"
	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/documents"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/store"
	"github.com/usyd/webcrawler-rag/internal/vectordb"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultCookieName     = "session_token"
	enqueueTimeout        = 5 * time.Second
)

// Authenticator is the subset of auth.Service used by the handlers.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (store.User, error)
	IssueToken(user store.User) (string, time.Time, error)
	ParseToken(ctx context.Context, raw string) (auth.Identity, error)
	Revoke(ctx context.Context, id auth.Identity) error
}

// VectorDBService is the subset of vectordb.Service used by the handlers.
type VectorDBService interface {
	Create(ctx context.Context, req vectordb.CreateRequest) (store.VectorDatabase, error)
	List(ctx context.Context, userID int64) ([]store.VectorDatabase, error)
	Delete(ctx context.Context, id string, userID int64) error
	DeleteForJob(ctx context.Context, jobID string, userID int64) (int, error)
	Status(ctx context.Context, id string, userID int64) (vectordb.Status, error)
	Search(ctx context.Context, id string, userID int64, req vectordb.SearchRequest) ([]vectorstore.Result, error)
	Stats(ctx context.Context, userID int64) (vectordb.Stats, error)
	Cleanup(ctx context.Context, userID int64) (vectordb.CleanupResult, error)
}

// ChatService is the subset of chat.Service used by the handlers.
type ChatService interface {
	StartSession(ctx context.Context, userID int64, dbID, model string, overrides map[string]any) (store.ChatSession, error)
	ProcessMessage(ctx context.Context, sessionID string, userID int64, message string) (chat.Reply, error)
	History(ctx context.Context, sessionID string, userID int64) ([]store.ChatMessage, error)
	ListSessions(ctx context.Context, userID int64) ([]store.ChatSession, error)
	DeleteSession(ctx context.Context, sessionID string, userID int64) error
}

// DocumentService is the subset of documents.Service used by the handlers.
type DocumentService interface {
	Upload(ctx context.Context, userID int64, files []documents.File) (store.DocumentJob, []store.UploadedDocument, error)
	ListJobs(ctx context.Context, userID int64) ([]store.DocumentJob, error)
	GetJob(ctx context.Context, id string, userID int64) (store.DocumentJob, []store.UploadedDocument, error)
	MaxFileSize() int64
}

// Config holds the HTTP-facing settings.
type Config struct {
	Version        string
	RequestTimeout time.Duration
	CookieName     string
	SecureCookie   bool
}

// Deps bundles everything the server routes to.
type Deps struct {
	Auth      Authenticator
	Jobs      store.JobRepository
	Queue     crawler.Queue
	Blobs     crawler.BlobStore
	VectorDBs VectorDBService
	Chat      ChatService
	Documents DocumentService
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
	Config    Config
	Logger    *zap.Logger
}

// Server wires HTTP handlers to the services.
type Server struct {
	router    chi.Router
	auth      Authenticator
	jobs      store.JobRepository
	queue     crawler.Queue
	blobs     crawler.BlobStore
	vectorDBs VectorDBService
	chat      ChatService
	documents DocumentService
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) (*Server, error) {
	if deps.Auth == nil || deps.Jobs == nil || deps.Queue == nil || deps.Blobs == nil {
		return nil, errors.New("api: auth, jobs, queue and blob store are required")
	}
	if deps.VectorDBs == nil || deps.Chat == nil || deps.Documents == nil {
		return nil, errors.New("api: vector db, chat and document services are required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("api: id generator and clock are required")
	}
	cfg := deps.Config
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		auth:      deps.Auth,
		jobs:      deps.Jobs,
		queue:     deps.Queue,
		blobs:     deps.Blobs,
		vectorDBs: deps.VectorDBs,
		chat:      deps.Chat,
		documents: deps.Documents,
		ids:       deps.IDs,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(s.cfg.RequestTimeout))

	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/login", s.login)
	r.Get("/logout", s.logout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/status", s.authStatus)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			s.protectedRoutes(r)
		})
	})
	return r
}

func (s *Server) protectedRoutes(r chi.Router) {
	r.Route("/scrape", func(r chi.Router) {
		r.Post("/start", s.startScrape)
		r.Get("/status/{job_id}", s.scrapeStatus)
		r.Get("/jobs", s.listScrapeJobs)
		r.Delete("/jobs/{job_id}", s.deleteScrapeJob)
		r.Get("/jobs/{job_id}/pages", s.listScrapePages)
		r.Get("/jobs/{job_id}/sites", s.listScrapeSites)
	})

	r.Route("/vector-dbs", func(r chi.Router) {
		r.Get("/", s.listVectorDBs)
		r.Post("/create", s.createVectorDB)
		r.Get("/stats", s.vectorDBStats)
		r.Post("/cleanup", s.cleanupVectorDBs)
		r.Delete("/{db_id}", s.deleteVectorDB)
		r.Get("/{db_id}/status", s.vectorDBStatus)
		r.Post("/{db_id}/search", s.searchVectorDB)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Post("/start", s.startChat)
		r.Post("/message", s.chatMessage)
		r.Get("/history/{session_id}", s.chatHistory)
		r.Get("/sessions", s.listChatSessions)
		r.Delete("/sessions/{session_id}", s.deleteChatSession)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/upload", s.uploadDocuments)
		r.Get("/jobs", s.listDocumentJobs)
		r.Get("/jobs/{job_id}", s.getDocumentJob)
	})
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"version":   s.cfg.Version,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientError maps a domain sentinel to a response status. An empty message
// means the error text is shown to the caller, capitalized when unwrapped.
type clientError struct {
	target  error
	status  int
	message string
}

var clientErrors = []clientError{
	{target: auth.ErrUnauthenticated, status: http.StatusUnauthorized, message: "authentication required"},
	{target: auth.ErrInvalidCredentials, status: http.StatusUnauthorized, message: "Invalid username or password"},
	{target: store.ErrNotFound, status: http.StatusNotFound, message: "Not found"},
	{target: crawler.ErrUnknownScrapeType, status: http.StatusBadRequest},
	{target: crawler.ErrInvalidURL, status: http.StatusBadRequest},
	{target: vectordb.ErrInvalidInput, status: http.StatusBadRequest},
	{target: vectordb.ErrJobNotReady, status: http.StatusBadRequest},
	{target: vectordb.ErrJobNotFound, status: http.StatusNotFound, message: "Job not found"},
	{target: vectordb.ErrNotFound, status: http.StatusNotFound},
	{target: vectordb.ErrNotReady, status: http.StatusBadRequest},
	{target: vectordb.ErrDuplicate, status: http.StatusConflict},
	{target: vectordb.ErrNoQuery, status: http.StatusBadRequest},
	{target: vectordb.ErrNameTooLong, status: http.StatusBadRequest},
	{target: vectorstore.ErrUnknownSearchType, status: http.StatusBadRequest},
	{target: chat.ErrDatabaseRequired, status: http.StatusBadRequest},
	{target: chat.ErrUnsupportedModel, status: http.StatusBadRequest},
	{target: chat.ErrInvalidInput, status: http.StatusBadRequest},
	{target: chat.ErrDatabaseNotReady, status: http.StatusNotFound},
	{target: chat.ErrSessionNotFound, status: http.StatusNotFound},
	{target: documents.ErrNoFiles, status: http.StatusBadRequest},
	{target: documents.ErrUnsupportedFormat, status: http.StatusBadRequest},
	{target: documents.ErrTooLarge, status: http.StatusBadRequest},
	{target: documents.ErrContentMismatch, status: http.StatusBadRequest},
	{target: documents.ErrJobNotFound, status: http.StatusNotFound},
	{target: documents.ErrNameTooLong, status: http.StatusBadRequest},
}

// respondError writes the mapped client error, or logs err and returns a
// generic 500 naming op.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, op string) {
	for _, ce := range clientErrors {
		if !errors.Is(err, ce.target) {
			continue
		}
		msg := ce.message
		switch {
		case msg != "":
		case err == ce.target:
			msg = capitalize(err.Error())
		default:
			msg = err.Error()
		}
		writeError(w, ce.status, msg)
		return
	}
	s.logger.Error(op+" failed",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "Failed to "+op)
}

func capitalize(msg string) string {
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
