package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// VectorDBStore implements store.VectorDBRepository.
type VectorDBStore struct {
	db Querier
}

// NewVectorDBStore wraps a querier.
func NewVectorDBStore(db Querier) *VectorDBStore {
	return &VectorDBStore{db: db}
}

const vectorDBColumns = `id, user_id, COALESCE(job_id, ''), COALESCE(document_job_id, ''), name, source_url,
	azure_index_name, document_count, status, error_message, created_at, updated_at`

// Create inserts a vector database row.
func (s *VectorDBStore) Create(ctx context.Context, v store.VectorDatabase) error {
	status := v.Status
	if status == "" {
		status = store.VectorDBBuilding
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO vector_databases
			(id, user_id, job_id, document_job_id, name, source_url, azure_index_name, document_count, status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		v.ID, v.UserID, v.JobID, v.DocumentJobID, v.Name, v.SourceURL, v.IndexName, v.DocumentCount, string(status),
	)
	return mapError(err, "insert vector database")
}

// Get loads a database owned by userID.
func (s *VectorDBStore) Get(ctx context.Context, id string, userID int64) (store.VectorDatabase, error) {
	return scanVectorDB(s.db.QueryRow(ctx,
		`SELECT `+vectorDBColumns+` FROM vector_databases WHERE id = $1 AND user_id = $2`, id, userID))
}

// GetByID loads a database regardless of owner.
func (s *VectorDBStore) GetByID(ctx context.Context, id string) (store.VectorDatabase, error) {
	return scanVectorDB(s.db.QueryRow(ctx,
		`SELECT `+vectorDBColumns+` FROM vector_databases WHERE id = $1`, id))
}

// List returns a user's databases, newest first.
func (s *VectorDBStore) List(ctx context.Context, userID int64) ([]store.VectorDatabase, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+vectorDBColumns+` FROM vector_databases WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err, "list vector databases")
	}
	defer rows.Close()

	out := make([]store.VectorDatabase, 0)
	for rows.Next() {
		v, err := scanVectorDB(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "iterate vector databases")
	}
	return out, nil
}

// SetStatus updates status and error message.
func (s *VectorDBStore) SetStatus(ctx context.Context, id string, status store.VectorDBStatus, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vector_databases SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		string(status), errMsg, id)
	return expectOne(tag, err, "update vector database status")
}

// FailBuilding moves databases stuck in building to error.
func (s *VectorDBStore) FailBuilding(ctx context.Context, message string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE vector_databases SET status = 'error', error_message = $1, updated_at = now()
		WHERE status = 'building'`,
		message)
	if err != nil {
		return 0, mapError(err, "fail building vector databases")
	}
	return tag.RowsAffected(), nil
}

// MarkReady flips a database to ready with its chunk count.
func (s *VectorDBStore) MarkReady(ctx context.Context, id string, documentCount int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE vector_databases
		SET status = 'ready', document_count = $1, error_message = '', updated_at = now()
		WHERE id = $2`,
		documentCount, id)
	return expectOne(tag, err, "mark vector database ready")
}

// Delete removes a database owned by userID. Sessions cascade.
func (s *VectorDBStore) Delete(ctx context.Context, id string, userID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM vector_databases WHERE id = $1 AND user_id = $2`, id, userID)
	return expectOne(tag, err, "delete vector database")
}

// IndexNames returns every index name, sorted.
func (s *VectorDBStore) IndexNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT azure_index_name FROM vector_databases ORDER BY azure_index_name`)
	if err != nil {
		return nil, mapError(err, "list index names")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError(err, "collect index names")
	}
	return names, nil
}

func scanVectorDB(row pgx.Row) (store.VectorDatabase, error) {
	var (
		v      store.VectorDatabase
		status string
	)
	err := row.Scan(&v.ID, &v.UserID, &v.JobID, &v.DocumentJobID, &v.Name, &v.SourceURL,
		&v.IndexName, &v.DocumentCount, &status, &v.ErrorMessage, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return store.VectorDatabase{}, mapError(err, "scan vector database")
	}
	v.Status = store.VectorDBStatus(status)
	return v, nil
}
