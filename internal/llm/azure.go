package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultAPIVersion is used when Config.APIVersion is empty.
const DefaultAPIVersion = "2024-12-01-preview"

// Role names accepted in Message.Role.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Completion is the model reply.
type Completion struct {
	Content      string
	TotalTokens  int
	FinishReason string
}

// Config points at an Azure OpenAI resource.
type Config struct {
	Endpoint   string
	APIKey     string
	APIVersion string
}

// Azure sends chat completions to Azure OpenAI deployments.
type Azure struct {
	client   *openai.Client
	registry *Registry
}

// NewAzure builds a client whose model names resolve through registry.
func NewAzure(cfg Config, registry *Registry) (*Azure, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || cfg.APIKey == "" {
		return nil, errors.New("azure openai endpoint and api key are required")
	}
	oaiCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	oaiCfg.APIVersion = DefaultAPIVersion
	if cfg.APIVersion != "" {
		oaiCfg.APIVersion = cfg.APIVersion
	}
	oaiCfg.AzureModelMapperFunc = func(model string) string {
		if m, err := registry.Lookup(model); err == nil {
			return m.Deployment
		}
		return model
	}
	return &Azure{client: openai.NewClientWithConfig(oaiCfg), registry: registry}, nil
}

// Registry exposes the model table.
func (a *Azure) Registry() *Registry {
	return a.registry
}

// Complete sends messages to model. Sampling settings come from cfg, falling
// back to the registry defaults.
func (a *Azure) Complete(ctx context.Context, model string, cfg map[string]any, messages []Message) (Completion, error) {
	m, err := a.registry.Lookup(model)
	if err != nil {
		return Completion{}, err
	}
	req := buildRequest(m, cfg, messages)
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("chat completion returned no choices")
	}
	choice := resp.Choices[0]
	return Completion{
		Content:      strings.TrimSpace(choice.Message.Content),
		TotalTokens:  resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}, nil
}

func buildRequest(m Model, cfg map[string]any, messages []Message) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    m.Name,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	maxTokens := intOption(cfg, KeyMaxTokens, m.MaxTokens)
	if m.Reasoning {
		req.MaxCompletionTokens = maxTokens
		return req
	}
	req.MaxTokens = maxTokens
	req.Temperature = float32(floatOption(cfg, KeyTemperature, m.Temperature))
	req.TopP = float32(floatOption(cfg, KeyTopP, m.TopP))
	req.FrequencyPenalty = float32(floatOption(cfg, KeyFrequencyPenalty, 0))
	req.PresencePenalty = float32(floatOption(cfg, KeyPresencePenalty, 0))
	return req
}

// SystemPromptFor returns the session's system prompt or the default.
func SystemPromptFor(cfg map[string]any) string {
	return stringOption(cfg, KeySystemPrompt, SystemPrompt)
}
