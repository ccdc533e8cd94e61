// Package azure implements vectorstore.Index over the Azure AI Search REST
// API.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/usyd/webcrawler-rag/internal/vectorstore"
)

// DefaultAPIVersion is the Search REST version the index schema targets.
const DefaultAPIVersion = "2023-11-01"

const (
	vectorProfile   = "default-vector-profile"
	vectorAlgorithm = "default-hnsw"
	vectorField     = "content_vector"
	selectFields    = "id,content,title,url,chunk_index,source_type,metadata"
)

// Config points at a search service.
type Config struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	HTTPClient *http.Client
}

// Client talks to one Azure AI Search service.
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	http       *http.Client
}

// New validates cfg.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" || cfg.APIKey == "" {
		return nil, errors.New("azure search endpoint and key are required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		apiVersion: cfg.APIVersion,
		http:       cfg.HTTPClient,
	}, nil
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("azure search status %d: %s", e.StatusCode, e.Message)
}

// EnsureIndex creates name with the chunk schema unless it already exists.
func (c *Client) EnsureIndex(ctx context.Context, name string, dims int) error {
	err := c.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(name), nil, nil)
	if err == nil {
		return nil
	}
	if !isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("get index %s: %w", name, err)
	}
	if err := c.do(ctx, http.MethodPut, "/indexes/"+url.PathEscape(name), indexDefinition(name, dims), nil); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Upload sends docs in batches of vectorstore.UploadBatchSize.
func (c *Client) Upload(ctx context.Context, name string, docs []vectorstore.Document) error {
	for i, batch := range vectorstore.Batches(docs, vectorstore.UploadBatchSize) {
		payload := uploadRequest{Value: make([]uploadDoc, len(batch))}
		for j, doc := range batch {
			payload.Value[j] = uploadDoc{
				Action:     "upload",
				ID:         doc.ID,
				Content:    doc.Content,
				Title:      doc.Title,
				URL:        doc.URL,
				ChunkIndex: doc.ChunkIndex,
				SourceType: doc.SourceType,
				Metadata:   doc.Metadata,
				Vector:     doc.Vector,
			}
		}
		var resp uploadResponse
		if err := c.do(ctx, http.MethodPost, "/indexes/"+url.PathEscape(name)+"/docs/index", payload, &resp); err != nil {
			return fmt.Errorf("upload batch %d to %s: %w", i, name, err)
		}
		for _, status := range resp.Value {
			if !status.Status {
				return fmt.Errorf("upload document %s to %s: %s", status.Key, name, status.ErrorMessage)
			}
		}
	}
	return nil
}

// Search runs a semantic, hybrid or keyword query.
func (c *Client) Search(ctx context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	body := searchRequest{Top: req.TopK, Select: selectFields}
	if req.Type.NeedsText() {
		body.Search = req.Query
	}
	if req.Type.NeedsVector() {
		body.VectorQueries = []vectorQuery{{
			Kind:   "vector",
			Vector: req.Vector,
			Fields: vectorField,
			K:      req.TopK,
		}}
	}
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/indexes/"+url.PathEscape(name)+"/docs/search", body, &resp); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
		}
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	out := make([]vectorstore.Result, len(resp.Value))
	for i, hit := range resp.Value {
		out[i] = vectorstore.Result{
			ID:       hit.ID,
			Content:  hit.Content,
			Title:    hit.Title,
			URL:      hit.URL,
			Score:    hit.Score,
			Metadata: vectorstore.DecodeMetadata(hit.Metadata),
		}
	}
	return out, nil
}

// DeleteIndex removes name. A missing index maps to vectorstore.ErrIndexNotFound.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/indexes/"+url.PathEscape(name), nil, nil)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %s", vectorstore.ErrIndexNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	return nil
}

// ListIndexes returns index names starting with prefix.
func (c *Client) ListIndexes(ctx context.Context, prefix string) ([]string, error) {
	var resp struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/indexes?$select=name", nil, &resp); err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	var names []string
	for _, v := range resp.Value {
		if strings.HasPrefix(v.Name, prefix) {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	target := c.endpoint + path
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	target += sep + "api-version=" + url.QueryEscape(c.apiVersion)

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
