package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(50) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_login TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS scraping_jobs (
		id VARCHAR(36) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		url VARCHAR(2048) NOT NULL,
		scraping_type VARCHAR(20) NOT NULL CHECK (scraping_type IN ('single', 'deep', 'sitemap')),
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'running', 'completed', 'failed')),
		progress INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		config JSONB,
		result_summary JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS scraped_pages (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(36) NOT NULL REFERENCES scraping_jobs(id) ON DELETE CASCADE,
		url VARCHAR(2048) NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		depth INTEGER NOT NULL DEFAULT 0,
		status_code INTEGER NOT NULL DEFAULT 0,
		content_length INTEGER NOT NULL DEFAULT 0,
		used_headless BOOLEAN NOT NULL DEFAULT false,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS site_stats (
		job_id VARCHAR(36) NOT NULL REFERENCES scraping_jobs(id) ON DELETE CASCADE,
		site TEXT NOT NULL,
		last_update TIMESTAMPTZ NOT NULL,
		visits BIGINT NOT NULL DEFAULT 0,
		bytes_total BIGINT NOT NULL DEFAULT 0,
		fetch_2xx BIGINT NOT NULL DEFAULT 0,
		fetch_3xx BIGINT NOT NULL DEFAULT 0,
		fetch_4xx BIGINT NOT NULL DEFAULT 0,
		fetch_5xx BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (job_id, site)
	)`,
	`CREATE TABLE IF NOT EXISTS document_jobs (
		id VARCHAR(36) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'running', 'completed', 'failed')),
		file_count INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS uploaded_documents (
		id BIGSERIAL PRIMARY KEY,
		document_job_id VARCHAR(36) NOT NULL REFERENCES document_jobs(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		filename VARCHAR(255) NOT NULL,
		blob_path VARCHAR(1024) NOT NULL,
		format VARCHAR(10) NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS vector_databases (
		id VARCHAR(36) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		job_id VARCHAR(36) REFERENCES scraping_jobs(id) ON DELETE RESTRICT,
		document_job_id VARCHAR(36) REFERENCES document_jobs(id) ON DELETE CASCADE,
		name VARCHAR(100) NOT NULL,
		source_url VARCHAR(2048) NOT NULL DEFAULT '',
		azure_index_name VARCHAR(100) NOT NULL UNIQUE,
		document_count INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'building' CHECK (status IN ('building', 'ready', 'error')),
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, job_id),
		UNIQUE (user_id, document_job_id),
		CHECK ((job_id IS NULL) <> (document_job_id IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id VARCHAR(36) PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		vector_db_id VARCHAR(36) NOT NULL REFERENCES vector_databases(id) ON DELETE CASCADE,
		model_name VARCHAR(50) NOT NULL,
		config JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(36) NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
		role VARCHAR(10) NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scraping_jobs_user_id ON scraping_jobs(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scraping_jobs_status ON scraping_jobs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_scraping_jobs_created_at ON scraping_jobs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scraped_pages_job_id ON scraped_pages(job_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vector_databases_user_id ON vector_databases(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vector_databases_status ON vector_databases(status)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_id ON chat_sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_created_at ON chat_messages(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_document_jobs_user_id ON document_jobs(user_id)`,
}

// EnsureSchema creates tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, q Querier) error {
	for i, stmt := range schemaStatements {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
