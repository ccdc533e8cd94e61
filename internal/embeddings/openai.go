// Package embeddings turns text chunks into vectors with Azure OpenAI.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/usyd/webcrawler-rag/internal/metrics"
)

// Defaults for the embedding deployment.
const (
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536
	DefaultBatchSize  = 10
	DefaultAPIVersion = "2024-02-01"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Config selects the Azure deployment.
type Config struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	Model      string
	Dimensions int
	BatchSize  int
}

// Azure calls the embeddings endpoint of an Azure OpenAI resource.
type Azure struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
}

// NewAzure validates cfg and builds the client.
func NewAzure(cfg Config) (*Azure, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || cfg.APIKey == "" {
		return nil, errors.New("azure openai endpoint and api key are required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Deployment == "" {
		cfg.Deployment = cfg.Model
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	oaiCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		oaiCfg.APIVersion = cfg.APIVersion
	} else {
		oaiCfg.APIVersion = DefaultAPIVersion
	}
	deployment := cfg.Deployment
	oaiCfg.AzureModelMapperFunc = func(string) string { return deployment }

	return &Azure{
		client:     openai.NewClientWithConfig(oaiCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
	}, nil
}

// Dimensions implements Embedder.
func (a *Azure) Dimensions() int {
	return a.dimensions
}

// Embed implements Embedder. Inputs go out in batches of BatchSize.
func (a *Azure) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		vectors, err := a.embedBatch(ctx, texts[start:end])
		metrics.ObserveEmbedding(end-start, err)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (a *Azure) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(a.model),
		Input: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("create azure embeddings: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("azure returned %d embeddings for %d inputs", len(resp.Data), len(batch))
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, datum := range data {
		if len(datum.Embedding) != a.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", a.dimensions, len(datum.Embedding))
		}
		vectors[i] = datum.Embedding
	}
	return vectors, nil
}
