package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vinayprograms/quotagate/errors"
)

const anthropicOK = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [{"type": "text", "text": "hello there"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 7, "output_tokens": 3}
}`

const openaiOK = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-test",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
}`

const apiErrorBody = `{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`

// stubServer answers with the given status, headers and body and counts hits.
func stubServer(t *testing.T, status int, header http.Header, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.Copy(io.Discard, r.Body)
		for k, vs := range header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestAnthropicProvider_Creation(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{Model: "claude", MaxTokens: 10})
	assert.Error(t, err)
	_, err = NewAnthropicProvider(AnthropicConfig{APIKey: "k", MaxTokens: 10})
	assert.Error(t, err)
	_, err = NewAnthropicProvider(AnthropicConfig{APIKey: "k", Model: "claude"})
	assert.Error(t, err)

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", Model: "claude", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "claude", p.model)
}

func TestAnthropicProvider_Chat(t *testing.T) {
	srv, hits := stubServer(t, http.StatusOK, nil, anthropicOK)
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Model: "claude-test", MaxTokens: 64})
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), UserPrompt("be brief", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, 7, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAnthropicProvider_RateLimited(t *testing.T) {
	srv, hits := stubServer(t, http.StatusTooManyRequests, http.Header{"Retry-After": {"2"}}, apiErrorBody)
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Model: "claude-test", MaxTokens: 64})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), UserPrompt("", "hello"))
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err), "got %v", err)
	assert.Equal(t, 2*time.Second, errors.AsError(err).RetryAfter())
	assert.Equal(t, "anthropic", errors.GetMetadata(err)["provider"])
	assert.Equal(t, int32(1), hits.Load(), "provider must not retry on its own")
}

func TestAnthropicProvider_Overloaded(t *testing.T) {
	srv, _ := stubServer(t, statusOverloaded, nil, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Model: "claude-test", MaxTokens: 64})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), UserPrompt("", "hello"))
	assert.True(t, errors.IsRateLimited(err), "got %v", err)
}

func TestAnthropicProvider_BadRequest(t *testing.T) {
	srv, _ := stubServer(t, http.StatusBadRequest, nil, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Model: "claude-test", MaxTokens: 64})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), UserPrompt("", "hello"))
	require.Error(t, err)
	assert.False(t, errors.IsRateLimited(err))
	assert.Equal(t, errors.ErrCodeUpstream, errors.Code(err))
	assert.Equal(t, "400", errors.GetMetadata(err)[errors.MetaStatus])
}

func TestOpenAIProvider_Creation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "gpt-4o", MaxTokens: 10})
	assert.Error(t, err)
	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k", MaxTokens: 10})
	assert.Error(t, err)
	_, err = NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4o"})
	assert.Error(t, err)

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", Model: "gpt-4o", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.model)
}

func TestOpenAIProvider_Chat(t *testing.T) {
	srv, _ := stubServer(t, http.StatusOK, nil, openaiOK)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-test", MaxTokens: 64})
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), UserPrompt("sys", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "gpt-test", resp.Model)
	assert.Equal(t, 4, resp.InputTokens)
	assert.Equal(t, 2, resp.OutputTokens)
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	srv, hits := stubServer(t, http.StatusTooManyRequests, http.Header{"Retry-After": {"5"}},
		`{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-test", MaxTokens: 64})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), UserPrompt("", "hello"))
	assert.True(t, errors.IsRateLimited(err), "got %v", err)
	assert.Equal(t, 5*time.Second, errors.AsError(err).RetryAfter())
	assert.Equal(t, int32(1), hits.Load())
}

func TestOpenAIProvider_ServerError(t *testing.T) {
	srv, _ := stubServer(t, http.StatusServiceUnavailable, nil, `{"error": {"message": "down"}}`)
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "gpt-test", MaxTokens: 64})
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), UserPrompt("", "hello"))
	assert.False(t, errors.IsRateLimited(err))
	assert.Equal(t, errors.ErrCodeUnavailable, errors.Code(err))
}

func TestGoogleProvider_Creation(t *testing.T) {
	_, err := NewGoogleProvider(GoogleConfig{Model: "gemini", MaxTokens: 10})
	assert.Error(t, err)
	_, err = NewGoogleProvider(GoogleConfig{APIKey: "k", MaxTokens: 10})
	assert.Error(t, err)
	_, err = NewGoogleProvider(GoogleConfig{APIKey: "k", Model: "gemini"})
	assert.Error(t, err)

	p, err := NewGoogleProvider(GoogleConfig{APIKey: "k", Model: "gemini-1.5-flash", MaxTokens: 10})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "gemini-1.5-flash", p.modelName)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    errors.ErrorCode
		rateLimited bool
	}{
		{
			name:        "googleapi 429",
			err:         &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota", Header: http.Header{"Retry-After": {"3"}}},
			wantCode:    errors.ErrCodeRateLimit,
			rateLimited: true,
		},
		{
			name:     "googleapi 403",
			err:      &googleapi.Error{Code: http.StatusForbidden, Message: "denied"},
			wantCode: errors.ErrCodeForbidden,
		},
		{
			name:        "grpc resource exhausted",
			err:         status.Error(codes.ResourceExhausted, "quota exceeded"),
			wantCode:    errors.ErrCodeRateLimit,
			rateLimited: true,
		},
		{
			name:     "grpc unavailable",
			err:      status.Error(codes.Unavailable, "try later"),
			wantCode: errors.ErrCodeUnavailable,
		},
		{
			name:     "grpc unauthenticated",
			err:      status.Error(codes.Unauthenticated, "bad key"),
			wantCode: errors.ErrCodeUnauthorized,
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			wantCode: errors.ErrCodeCanceled,
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantCode: errors.ErrCodeTimeout,
		},
		{
			name:     "unclassified error",
			err:      io.ErrUnexpectedEOF,
			wantCode: errors.ErrCodeUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyError("google", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.Code(err))
			assert.Equal(t, tt.rateLimited, errors.IsRateLimited(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyError_GoogleRetryAfter(t *testing.T) {
	err := ClassifyError("google", &googleapi.Error{Code: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"3"}}})
	assert.Equal(t, 3*time.Second, errors.AsError(err).RetryAfter())
}

func TestClassifyError_Nil(t *testing.T) {
	assert.NoError(t, ClassifyError("openai", nil))
}
