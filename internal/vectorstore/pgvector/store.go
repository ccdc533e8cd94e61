// Package pgvector implements vectorstore.Index on Postgres with the pgvector
// extension. All indexes share the vector_chunks table, keyed by index name.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/usyd/webcrawler-rag/internal/storage/postgres"
	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

// Store is a pgvector-backed index set.
type Store struct {
	db   postgres.Querier
	dims int
}

// New returns a Store whose embedding column has dims dimensions.
func New(db postgres.Querier, dims int) *Store {
	return &Store{db: db, dims: dims}
}

func (s *Store) schema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_indexes (
		name VARCHAR(255) PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_chunks (
		index_name VARCHAR(255) NOT NULL REFERENCES vector_indexes(name) ON DELETE CASCADE,
		id VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL DEFAULT 0,
		source_type VARCHAR(50) NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d) NOT NULL,
		PRIMARY KEY (index_name, id)
	)`, s.dims),
		`CREATE INDEX IF NOT EXISTS idx_vector_chunks_embedding ON vector_chunks USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_chunks_fts ON vector_chunks USING gin (to_tsvector('english', content))`,
	}
}

// EnsureSchema creates the extension, tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for i, stmt := range s.schema() {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply vector schema statement %d: %w", i, err)
		}
	}
	return nil
}

// EnsureIndex implements vectorstore.Index.
func (s *Store) EnsureIndex(ctx context.Context, name string, dims int) error {
	if dims != s.dims {
		return fmt.Errorf("index %s wants %d dimensions, table has %d", name, dims, s.dims)
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO vector_indexes (name, dimensions) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		name, dims)
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", name, err)
	}
	return nil
}

const uploadColumns = 9

// Upload implements vectorstore.Index with one multi-row upsert per batch.
func (s *Store) Upload(ctx context.Context, name string, docs []vectorstore.Document) error {
	for i, batch := range vectorstore.Batches(docs, vectorstore.UploadBatchSize) {
		var sb strings.Builder
		sb.WriteString(`INSERT INTO vector_chunks
		(index_name, id, content, title, url, chunk_index, source_type, metadata, embedding) VALUES `)
		args := make([]any, 0, len(batch)*uploadColumns)
		for j, doc := range batch {
			if len(doc.Vector) != s.dims {
				return fmt.Errorf("document %s has %d dimensions, want %d", doc.ID, len(doc.Vector), s.dims)
			}
			if j > 0 {
				sb.WriteString(", ")
			}
			base := j * uploadColumns
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
			metadata := doc.Metadata
			if metadata == "" {
				metadata = "{}"
			}
			args = append(args, name, doc.ID, doc.Content, doc.Title, doc.URL, doc.ChunkIndex,
				doc.SourceType, metadata, pgv.NewVector(doc.Vector))
		}
		sb.WriteString(` ON CONFLICT (index_name, id) DO UPDATE SET
		content = EXCLUDED.content, title = EXCLUDED.title, url = EXCLUDED.url,
		chunk_index = EXCLUDED.chunk_index, source_type = EXCLUDED.source_type,
		metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`)

		if _, err := s.db.Exec(ctx, sb.String(), args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
			}
			return fmt.Errorf("upload batch %d to %s: %w", i, name, err)
		}
	}
	return nil
}

const (
	semanticSQL = `SELECT id, content, title, url, metadata::text, 1 - (embedding <=> $2) AS score
	FROM vector_chunks
	WHERE index_name = $1
	ORDER BY embedding <=> $2
	LIMIT $3`

	keywordSQL = `SELECT id, content, title, url, metadata::text,
		ts_rank(to_tsvector('english', content), plainto_tsquery('english', $2)) AS score
	FROM vector_chunks
	WHERE index_name = $1 AND to_tsvector('english', content) @@ plainto_tsquery('english', $2)
	ORDER BY score DESC
	LIMIT $3`
)

// Search implements vectorstore.Index. Hybrid fuses the semantic and keyword
// rankings with reciprocal-rank fusion.
func (s *Store) Search(ctx context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case vectorstore.SearchKeyword:
		return s.query(ctx, keywordSQL, name, req.Query, req.TopK)
	case vectorstore.SearchHybrid:
		semantic, err := s.query(ctx, semanticSQL, name, pgv.NewVector(req.Vector), req.TopK*2)
		if err != nil {
			return nil, err
		}
		keyword, err := s.query(ctx, keywordSQL, name, req.Query, req.TopK*2)
		if err != nil {
			return nil, err
		}
		return vectorstore.FuseRRF(req.TopK, semantic, keyword), nil
	default:
		return s.query(ctx, semanticSQL, name, pgv.NewVector(req.Vector), req.TopK)
	}
}

func (s *Store) query(ctx context.Context, sql, name string, arg any, limit int) ([]vectorstore.Result, error) {
	rows, err := s.db.Query(ctx, sql, name, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	defer rows.Close()

	var out []vectorstore.Result
	for rows.Next() {
		var (
			r        vectorstore.Result
			metadata string
		)
		if err := rows.Scan(&r.ID, &r.Content, &r.Title, &r.URL, &metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		r.Metadata = vectorstore.DecodeMetadata(metadata)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return out, nil
}

// DeleteIndex implements vectorstore.Index. Chunks cascade.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM vector_indexes WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
	}
	return nil
}

// ListIndexes implements vectorstore.Index.
func (s *Store) ListIndexes(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name FROM vector_indexes WHERE starts_with(name, $1) ORDER BY name`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
