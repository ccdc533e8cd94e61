package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/usyd/webcrawler-rag/internal/store"
)

// VectorDBStore implements store.VectorDBRepository in memory.
type VectorDBStore struct {
	mu  sync.RWMutex
	dbs map[string]store.VectorDatabase
}

// NewVectorDBStore constructs an empty VectorDBStore.
func NewVectorDBStore() *VectorDBStore {
	return &VectorDBStore{dbs: make(map[string]store.VectorDatabase)}
}

// Create inserts a database row. A user may build one database per source job.
func (s *VectorDBStore) Create(_ context.Context, db store.VectorDatabase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.dbs {
		if existing.ID == db.ID || existing.IndexName == db.IndexName {
			return fmt.Errorf("%w: vector database %s", store.ErrConflict, db.ID)
		}
		if existing.UserID == db.UserID && existing.SourceJobID() == db.SourceJobID() {
			return fmt.Errorf("%w: job %s already has a vector database", store.ErrConflict, db.SourceJobID())
		}
	}
	now := time.Now().UTC()
	if db.CreatedAt.IsZero() {
		db.CreatedAt = now
	}
	db.UpdatedAt = db.CreatedAt
	if db.Status == "" {
		db.Status = store.VectorDBBuilding
	}
	s.dbs[db.ID] = db
	return nil
}

// Get loads a database owned by userID.
func (s *VectorDBStore) Get(_ context.Context, id string, userID int64) (store.VectorDatabase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.dbs[id]
	if !ok || db.UserID != userID {
		return store.VectorDatabase{}, store.ErrNotFound
	}
	return db, nil
}

// GetByID loads a database regardless of owner.
func (s *VectorDBStore) GetByID(_ context.Context, id string) (store.VectorDatabase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.dbs[id]
	if !ok {
		return store.VectorDatabase{}, store.ErrNotFound
	}
	return db, nil
}

// List returns a user's databases, newest first.
func (s *VectorDBStore) List(_ context.Context, userID int64) ([]store.VectorDatabase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.VectorDatabase, 0)
	for _, db := range s.dbs {
		if db.UserID == userID {
			out = append(out, db)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SetStatus updates status and error message.
func (s *VectorDBStore) SetStatus(_ context.Context, id string, status store.VectorDBStatus, errMsg string) error {
	return s.mutate(id, func(db *store.VectorDatabase) {
		db.Status = status
		db.ErrorMessage = errMsg
	})
}

// FailBuilding moves every building database to error.
func (s *VectorDBStore) FailBuilding(_ context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, db := range s.dbs {
		if db.Status != store.VectorDBBuilding {
			continue
		}
		db.Status = store.VectorDBError
		db.ErrorMessage = message
		db.UpdatedAt = time.Now().UTC()
		s.dbs[id] = db
		n++
	}
	return n, nil
}

// MarkReady flips a database to ready with its chunk count.
func (s *VectorDBStore) MarkReady(_ context.Context, id string, documentCount int) error {
	return s.mutate(id, func(db *store.VectorDatabase) {
		db.Status = store.VectorDBReady
		db.DocumentCount = documentCount
		db.ErrorMessage = ""
	})
}

// Delete removes a database owned by userID.
func (s *VectorDBStore) Delete(_ context.Context, id string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[id]
	if !ok || db.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.dbs, id)
	return nil
}

// IndexNames returns every index name, sorted.
func (s *VectorDBStore) IndexNames(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.dbs))
	for _, db := range s.dbs {
		out = append(out, db.IndexName)
	}
	sort.Strings(out)
	return out, nil
}

func (s *VectorDBStore) mutate(id string, fn func(*store.VectorDatabase)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&db)
	db.UpdatedAt = time.Now().UTC()
	s.dbs[id] = db
	return nil
}
