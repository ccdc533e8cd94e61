// Package api hosts the HTTP server, middleware and JSON handlers. Notable
// routes:
//   - GET /health and /healthz for liveness checks, GET /metrics for Prometheus.
//   - POST /login and GET /logout manage the session cookie.
//   - /api/scrape/... starts and inspects scraping jobs.
//   - /api/vector-dbs/... builds and queries vector databases.
//   - /api/chat/... runs retrieval-augmented chat sessions.
//   - /api/documents/... accepts PDF, DOCX and Markdown uploads.
//
// Everything under /api except /api/auth/status requires a session token,
// sent either as the session cookie or as a Bearer Authorization header.
package api
