package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry("gpt4o-prod", "")
	require.Equal(t, []string{ModelGPT4o, ModelO3Mini}, r.Names())

	m, err := r.Lookup(ModelGPT4o)
	require.NoError(t, err)
	require.Equal(t, "gpt4o-prod", m.Deployment)
	require.InDelta(t, 0.7, m.Temperature, 1e-9)

	o3, err := r.Lookup(ModelO3Mini)
	require.NoError(t, err)
	require.Equal(t, ModelO3Mini, o3.Deployment)
	require.True(t, o3.Reasoning)

	_, err = r.Lookup("claude")
	require.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestSessionConfigMerge(t *testing.T) {
	t.Parallel()

	r := NewRegistry("", "")
	cfg, err := r.SessionConfig(ModelGPT4o, map[string]any{KeyTemperature: 0.2, "custom": "x"})
	require.NoError(t, err)
	require.InDelta(t, 0.2, cfg[KeyTemperature], 1e-9)
	require.Equal(t, 4096, cfg[KeyMaxTokens])
	require.Equal(t, "x", cfg["custom"])
	require.Equal(t, SystemPrompt, SystemPromptFor(cfg))

	_, err = r.SessionConfig("nope", nil)
	require.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	r := NewRegistry("", "")
	gpt, _ := r.Lookup(ModelGPT4o)
	req := buildRequest(gpt, map[string]any{KeyMaxTokens: float64(512), KeyTopP: 0.5}, []Message{{Role: RoleUser, Content: "hi"}})
	require.Equal(t, 512, req.MaxTokens)
	require.InDelta(t, 0.7, req.Temperature, 1e-6)
	require.InDelta(t, 0.5, req.TopP, 1e-6)
	require.Len(t, req.Messages, 1)

	o3, _ := r.Lookup(ModelO3Mini)
	req = buildRequest(o3, nil, nil)
	require.Zero(t, req.MaxTokens)
	require.Equal(t, 4096, req.MaxCompletionTokens)
	require.Zero(t, req.Temperature)
}

func TestAzureComplete(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "c1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "  The answer.  "},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42},
		})
	}))
	t.Cleanup(srv.Close)

	client, err := NewAzure(Config{Endpoint: srv.URL, APIKey: "k"}, NewRegistry("gpt4o-dep", ""))
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), ModelGPT4o, nil, []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: "question"},
	})
	require.NoError(t, err)
	require.Equal(t, "The answer.", out.Content)
	require.Equal(t, 42, out.TotalTokens)
	require.Equal(t, "stop", out.FinishReason)
	require.Equal(t, "/openai/deployments/gpt4o-dep/chat/completions", gotPath)
	require.InDelta(t, 4096, gotBody["max_tokens"], 0.1)

	_, err = client.Complete(context.Background(), "unknown", nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedModel)
}
