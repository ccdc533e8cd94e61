// Package vectorstore defines the search index contract shared by the Azure AI
// Search, pgvector and in-memory backends.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// IndexPrefix starts every index name this service creates.
const IndexPrefix = "usyd-rag-"

// UploadBatchSize bounds documents per upload request.
const UploadBatchSize = 100

// DefaultTopK applies when a search asks for zero results.
const DefaultTopK = 5

// rrfK is the reciprocal-rank fusion constant.
const rrfK = 60

// ErrIndexNotFound is returned when a named index does not exist.
var ErrIndexNotFound = errors.New("index not found")

// ErrUnknownSearchType is returned by ParseSearchType.
var ErrUnknownSearchType = errors.New("unknown search type")

// IndexName returns the index name for a vector database id.
func IndexName(dbID string) string {
	return IndexPrefix + dbID
}

// SearchType selects the retrieval strategy.
type SearchType string

// Search types.
const (
	SearchSemantic SearchType = "semantic"
	SearchHybrid   SearchType = "hybrid"
	SearchKeyword  SearchType = "keyword"
)

// ParseSearchType maps an API value to a SearchType; empty means semantic.
func ParseSearchType(s string) (SearchType, error) {
	switch SearchType(strings.ToLower(strings.TrimSpace(s))) {
	case "", SearchSemantic:
		return SearchSemantic, nil
	case SearchHybrid:
		return SearchHybrid, nil
	case SearchKeyword:
		return SearchKeyword, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSearchType, s)
	}
}

// NeedsVector reports whether t requires a query embedding.
func (t SearchType) NeedsVector() bool {
	return t == SearchSemantic || t == SearchHybrid
}

// NeedsText reports whether t matches on query text.
func (t SearchType) NeedsText() bool {
	return t == SearchHybrid || t == SearchKeyword
}

// Document is one embedded chunk.
type Document struct {
	ID         string
	Content    string
	Title      string
	URL        string
	ChunkIndex int
	SourceType string
	// Metadata is a JSON object encoded as a string.
	Metadata string
	Vector   []float32
}

// SearchRequest describes one query.
type SearchRequest struct {
	Query  string
	Vector []float32
	Type   SearchType
	TopK   int
}

// Result is one ranked hit.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Index is implemented by every backend.
type Index interface {
	EnsureIndex(ctx context.Context, name string, dims int) error
	Upload(ctx context.Context, name string, docs []Document) error
	Search(ctx context.Context, name string, req SearchRequest) ([]Result, error)
	DeleteIndex(ctx context.Context, name string) error
	ListIndexes(ctx context.Context, prefix string) ([]string, error)
}

// Normalize fills defaults and checks that req carries what its type needs.
func (req SearchRequest) Normalize() (SearchRequest, error) {
	if req.Type == "" {
		req.Type = SearchSemantic
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.Type.NeedsVector() && len(req.Vector) == 0 {
		return req, fmt.Errorf("%s search requires a query vector", req.Type)
	}
	if req.Type.NeedsText() && strings.TrimSpace(req.Query) == "" {
		return req, fmt.Errorf("%s search requires query text", req.Type)
	}
	return req, nil
}

// Batches splits docs into slices of at most size.
func Batches(docs []Document, size int) [][]Document {
	if size <= 0 {
		size = UploadBatchSize
	}
	var out [][]Document
	for start := 0; start < len(docs); start += size {
		out = append(out, docs[start:min(start+size, len(docs))])
	}
	return out
}

// FuseRRF merges ranked lists with reciprocal-rank fusion and keeps topK.
// Each result's Score becomes its fused score.
func FuseRRF(topK int, lists ...[]Result) []Result {
	scores := make(map[string]float64)
	first := make(map[string]Result)
	var order []string
	for _, list := range lists {
		for rank, r := range list {
			if _, seen := first[r.ID]; !seen {
				first[r.ID] = r
				order = append(order, r.ID)
			}
			scores[r.ID] += 1.0 / float64(rrfK+rank+1)
		}
	}
	out := make([]Result, 0, len(order))
	for _, id := range order {
		r := first[id]
		r.Score = scores[id]
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// DecodeMetadata parses the JSON metadata string stored with a chunk. Values
// that are not JSON objects come back under "raw".
func DecodeMetadata(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{"raw": raw}
	}
	return out
}
