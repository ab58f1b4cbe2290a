package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/quotagate/errors"
)

func TestMockProvider_Chat(t *testing.T) {
	provider := NewMockProvider()
	provider.SetResponse("Hello from LLM")
	provider.SetTokenCounts(100, 50)
	provider.SetStopReason("max_tokens")

	resp, err := provider.Chat(context.Background(), UserPrompt("", "Hello"))
	require.NoError(t, err)

	assert.Equal(t, "Hello from LLM", resp.Content)
	assert.Equal(t, 100, resp.InputTokens)
	assert.Equal(t, 50, resp.OutputTokens)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, 1, provider.CallCount())
	require.NotNil(t, provider.LastRequest())
	assert.Equal(t, "Hello", provider.LastRequest().Messages[0].Content)

	provider.Reset()
	assert.Equal(t, 0, provider.CallCount())
}

func TestMockProvider_Error(t *testing.T) {
	provider := NewMockProvider()
	provider.SetError(errors.RateLimited("slow down"))

	_, err := provider.Chat(context.Background(), UserPrompt("", "hi"))
	assert.True(t, errors.IsRateLimited(err))
}

func TestMockProvider_ChatFunc(t *testing.T) {
	provider := NewMockProvider()
	provider.ChatFunc = func(_ context.Context, req ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Content: req.Messages[len(req.Messages)-1].Content + "!"}, nil
	}

	resp, err := provider.Chat(context.Background(), UserPrompt("sys", "echo"))
	require.NoError(t, err)
	assert.Equal(t, "echo!", resp.Content)
}

func TestUserPrompt(t *testing.T) {
	req := UserPrompt("be brief", "summarize")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)

	req = UserPrompt("", "summarize")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"valid", ProviderConfig{Provider: "anthropic", Model: "claude-3", APIKey: "k", MaxTokens: 1024}, false},
		{"missing provider", ProviderConfig{Model: "claude-3", APIKey: "k", MaxTokens: 1024}, true},
		{"missing model", ProviderConfig{Provider: "openai", APIKey: "k", MaxTokens: 1024}, true},
		{"missing key", ProviderConfig{Provider: "openai", Model: "gpt-4o", MaxTokens: 1024}, true},
		{"missing max tokens", ProviderConfig{Provider: "openai", Model: "gpt-4o", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		model    string
	}{
		{"anthropic", "claude-3-5-sonnet"},
		{"openai", "gpt-4o"},
		{"google", "gemini-1.5-pro"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(ProviderConfig{
				Provider:  tt.provider,
				Model:     tt.model,
				APIKey:    "test-key",
				MaxTokens: 1024,
			})
			require.NoError(t, err)
			assert.NotNil(t, p)
			if c, ok := p.(interface{ Close() error }); ok {
				c.Close()
			}
		})
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "carrier-pigeon", Model: "m", APIKey: "k", MaxTokens: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestNewProvider_InferredProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Model: "claude-3-haiku", APIKey: "k", MaxTokens: 256})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicProvider{}, p)

	_, err = NewProvider(ProviderConfig{Model: "mystery-model", APIKey: "k", MaxTokens: 256})
	assert.Error(t, err)
}

func TestInferProviderFromModel(t *testing.T) {
	tests := map[string]string{
		"claude-3-opus":  "anthropic",
		"gpt-4o-mini":    "openai",
		"o1-preview":     "openai",
		"o3-mini":        "openai",
		"chatgpt-4o":     "openai",
		"gemini-1.5-pro": "google",
		"gemma-2":        "google",
		"GPT-4":          "openai",
		"llama-3":        "",
		"":               "",
	}
	for model, want := range tests {
		t.Run(model, func(t *testing.T) {
			assert.Equal(t, want, InferProviderFromModel(model))
		})
	}
}
