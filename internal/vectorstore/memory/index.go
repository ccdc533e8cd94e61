// Package memory is an in-process vectorstore.Index for development and
// tests. Semantic search is brute-force cosine similarity; keyword search
// scores term overlap.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

type index struct {
	dims int
	docs map[string]vectorstore.Document
}

// Index keeps documents per index name.
type Index struct {
	mu      sync.RWMutex
	indexes map[string]*index
}

// New returns an empty Index.
func New() *Index {
	return &Index{indexes: make(map[string]*index)}
}

// EnsureIndex implements vectorstore.Index.
func (m *Index) EnsureIndex(_ context.Context, name string, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.indexes[name]; ok {
		if existing.dims != dims {
			return fmt.Errorf("index %s has %d dimensions, want %d", name, existing.dims, dims)
		}
		return nil
	}
	m.indexes[name] = &index{dims: dims, docs: make(map[string]vectorstore.Document)}
	return nil
}

// Upload implements vectorstore.Index. Documents with an existing id replace
// the stored one.
func (m *Index) Upload(_ context.Context, name string, docs []vectorstore.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
	}
	for _, doc := range docs {
		if len(doc.Vector) != idx.dims {
			return fmt.Errorf("document %s has %d dimensions, want %d", doc.ID, len(doc.Vector), idx.dims)
		}
		doc.Vector = slices.Clone(doc.Vector)
		idx.docs[doc.ID] = doc
	}
	return nil
}

// Search implements vectorstore.Index.
func (m *Index) Search(_ context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
	}
	switch req.Type {
	case vectorstore.SearchKeyword:
		return top(keywordHits(idx, req.Query), req.TopK), nil
	case vectorstore.SearchHybrid:
		return vectorstore.FuseRRF(req.TopK,
			top(vectorHits(idx, req.Vector), req.TopK*2),
			top(keywordHits(idx, req.Query), req.TopK*2),
		), nil
	default:
		return top(vectorHits(idx, req.Vector), req.TopK), nil
	}
}

// DeleteIndex implements vectorstore.Index.
func (m *Index) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[name]; !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
	}
	delete(m.indexes, name)
	return nil
}

// ListIndexes implements vectorstore.Index.
func (m *Index) ListIndexes(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.indexes {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of documents in name.
func (m *Index) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx, ok := m.indexes[name]; ok {
		return len(idx.docs)
	}
	return 0
}

func vectorHits(idx *index, query []float32) []vectorstore.Result {
	out := make([]vectorstore.Result, 0, len(idx.docs))
	for _, doc := range idx.docs {
		out = append(out, toResult(doc, cosine(query, doc.Vector)))
	}
	return out
}

func keywordHits(idx *index, query string) []vectorstore.Result {
	terms := strings.Fields(strings.ToLower(query))
	var out []vectorstore.Result
	for _, doc := range idx.docs {
		text := strings.ToLower(doc.Title + " " + doc.Content)
		var score float64
		for _, term := range terms {
			score += float64(strings.Count(text, term))
		}
		if score > 0 {
			out = append(out, toResult(doc, score))
		}
	}
	return out
}

func top(results []vectorstore.Result, k int) []vectorstore.Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func toResult(doc vectorstore.Document, score float64) vectorstore.Result {
	return vectorstore.Result{
		ID:       doc.ID,
		Content:  doc.Content,
		Title:    doc.Title,
		URL:      doc.URL,
		Score:    score,
		Metadata: vectorstore.DecodeMetadata(doc.Metadata),
	}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
