// Package llm wraps Azure OpenAI chat completions behind a small model
// registry.
package llm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnsupportedModel is returned for names missing from the registry.
var ErrUnsupportedModel = errors.New("unsupported model")

// Registered model names.
const (
	ModelGPT4o  = "gpt-4o"
	ModelO3Mini = "o3-mini"
)

// SystemPrompt frames answers around retrieved page content.
const SystemPrompt = `You are an intelligent assistant for the USYD Web Crawler and RAG system.

Your primary function is to help users understand and analyze web content that has been scraped and processed.

Guidelines:
1. Always base your responses on the provided context from the scraped web content
2. If you don't have relevant information in the context, clearly state that
3. Always cite your sources by mentioning the URL or page title when possible
4. Provide accurate, helpful, and concise responses
5. When asked about specific information, try to find it in the scraped content first
6. If multiple sources contain relevant information, synthesize them appropriately
7. Be honest about limitations - if the scraped content doesn't contain enough information to answer a question fully, say so

Remember: Your knowledge comes from the scraped web content provided to you. Always prioritize this information over your general training data when answering questions about the scraped content.`

// Session config keys.
const (
	KeyDeployment       = "deployment_name"
	KeyMaxTokens        = "max_tokens"
	KeyTemperature      = "temperature"
	KeyTopP             = "top_p"
	KeyFrequencyPenalty = "frequency_penalty"
	KeyPresencePenalty  = "presence_penalty"
	KeySystemPrompt     = "system_prompt"
)

// Model describes one deployment and its sampling defaults. Reasoning models
// take max_completion_tokens and ignore sampling parameters.
type Model struct {
	Name        string
	Deployment  string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Reasoning   bool
}

// Registry maps model names to deployments.
type Registry struct {
	models map[string]Model
}

// NewRegistry builds the gpt-4o and o3-mini entries. Empty deployment names
// default to the model name.
func NewRegistry(gpt4oDeployment, o3MiniDeployment string) *Registry {
	if gpt4oDeployment == "" {
		gpt4oDeployment = ModelGPT4o
	}
	if o3MiniDeployment == "" {
		o3MiniDeployment = ModelO3Mini
	}
	return &Registry{models: map[string]Model{
		ModelGPT4o: {
			Name:        ModelGPT4o,
			Deployment:  gpt4oDeployment,
			MaxTokens:   4096,
			Temperature: 0.7,
			TopP:        0.95,
		},
		ModelO3Mini: {
			Name:        ModelO3Mini,
			Deployment:  o3MiniDeployment,
			MaxTokens:   4096,
			Temperature: 0.3,
			TopP:        0.95,
			Reasoning:   true,
		},
	}}
}

// Lookup returns the named model.
func (r *Registry) Lookup(name string) (Model, error) {
	m, ok := r.models[name]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnsupportedModel, name)
	}
	return m, nil
}

// Names lists registered models in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.models))
}

// SessionConfig returns the defaults for name merged with overrides.
// Override keys replace defaults; unknown keys are kept.
func (r *Registry) SessionConfig(name string, overrides map[string]any) (map[string]any, error) {
	m, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	cfg := map[string]any{
		KeyDeployment:   m.Deployment,
		KeyMaxTokens:    m.MaxTokens,
		KeyTemperature:  m.Temperature,
		KeyTopP:         m.TopP,
		KeySystemPrompt: SystemPrompt,
	}
	maps.Copy(cfg, overrides)
	return cfg, nil
}

func floatOption(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func intOption(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func stringOption(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}
