package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"rate_limit", ErrCodeRateLimit, CategoryResource, true},
		{"capacity", ErrCodeCapacity, CategoryResource, true},
		{"queue_timeout", ErrCodeQueueTimeout, CategoryResource, true},
		{"exhausted", ErrCodeRetriesExhausted, CategoryPermanent, false},
		{"not_found", ErrCodeNotFound, CategoryPermanent, false},
		{"timeout", ErrCodeTimeout, CategoryTransient, true},
		{"internal", ErrCodeInternal, CategoryInternal, false},
		{"unknown", ErrorCode("SOMETHING_ELSE"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom")
			assert.Equal(t, tt.code, err.Code())
			assert.Equal(t, tt.wantCategory, err.Category())
			assert.Equal(t, tt.wantRetry, err.Retryable())
			assert.Equal(t, "boom", err.Error())
			assert.False(t, err.Timestamp().IsZero())
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeRetriesExhausted)
	assert.Equal(t, "max retries exceeded", err.Error())
	assert.Equal(t, "unknown error", ErrorCode("NOPE").Description())
}

func TestWithRetryableOverride(t *testing.T) {
	err := RateLimited("daily quota", WithRetryable(false))
	assert.False(t, err.Retryable())
	assert.False(t, IsRateLimited(err))

	err = New(ErrCodeUpstream, "odd", WithRetryable(true))
	assert.True(t, err.Retryable())
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(RateLimited("429")))
	assert.True(t, IsRateLimited(fmt.Errorf("posting: %w", RateLimited("429"))))
	assert.False(t, IsRateLimited(New(ErrCodeCapacity, "full")))
	assert.False(t, IsRateLimited(errors.New("rate limit exceeded")))
	assert.False(t, IsRateLimited(nil))
}

func TestIsAcquireFailure(t *testing.T) {
	assert.True(t, IsAcquireFailure(CapacityUnavailable("feed-fetch")))
	assert.True(t, IsAcquireFailure(QueueTimeout("platform-a", time.Second)))
	assert.False(t, IsAcquireFailure(RateLimited("429")))
}

func TestEngineConstructors(t *testing.T) {
	capErr := CapacityUnavailable("feed-fetch")
	assert.Equal(t, ErrCodeCapacity, capErr.Code())
	assert.Equal(t, "feed-fetch", capErr.Service())
	assert.Contains(t, capErr.Error(), "feed-fetch")

	qErr := QueueTimeout("platform-a", 500*time.Millisecond)
	assert.Equal(t, ErrCodeQueueTimeout, qErr.Code())
	assert.Contains(t, qErr.Error(), "500ms")

	last := RateLimited("429")
	exErr := RetriesExhausted("ai-completion", 4, last)
	assert.Equal(t, ErrCodeRetriesExhausted, exErr.Code())
	assert.Equal(t, "4", exErr.Metadata()[MetaAttempts])
	assert.True(t, errors.Is(exErr, last))
	assert.False(t, exErr.Retryable())
}

func TestMetadataImmutability(t *testing.T) {
	err := New(ErrCodeUpstream, "x", WithMetadata("k", "v"))
	md := err.Metadata()
	md["k"] = "changed"
	assert.Equal(t, "v", err.Metadata()["k"])

	bare := New(ErrCodeUpstream, "x")
	assert.NotNil(t, bare.Metadata())
	assert.Empty(t, bare.Metadata())
}

func TestRetryAfter(t *testing.T) {
	err := RateLimited("slow down", WithRetryAfter(30*time.Second))
	assert.Equal(t, 30*time.Second, err.RetryAfter())

	err = RateLimited("slow down", WithRetryAfter(0))
	assert.Zero(t, err.RetryAfter())
	_, ok := err.Metadata()[MetaRetryAfter]
	assert.False(t, ok)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))

	plain := errors.New("disk full")
	wrapped := Wrap(plain, "saving draft")
	assert.Equal(t, ErrCodeInternal, wrapped.Code())
	assert.True(t, errors.Is(wrapped, plain))
	assert.Equal(t, "saving draft: disk full", wrapped.Error())

	rl := RateLimited("429", WithService("platform-b"))
	wrapped = Wrap(rl, "publishing")
	assert.Equal(t, ErrCodeRateLimit, wrapped.Code())
	assert.True(t, IsRateLimited(wrapped))
	assert.Equal(t, "platform-b", wrapped.Service())
}

func TestWrapContextErrors(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, Wrap(context.DeadlineExceeded, "x").Code())
	assert.Equal(t, ErrCodeCanceled, Wrap(context.Canceled, "x").Code())
}

func TestWrapWithCode(t *testing.T) {
	assert.Nil(t, WrapWithCode(nil, ErrCodeUpstream, "x"))
	err := WrapWithCode(errors.New("eof"), ErrCodeNetworkErr, "reading body")
	assert.Equal(t, ErrCodeNetworkErr, err.Code())
	assert.True(t, err.Retryable())
}

func TestExtractors(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodeQueueTimeout, "late", WithService("platform-c")))
	assert.Equal(t, ErrCodeQueueTimeout, Code(err))
	assert.Equal(t, CategoryResource, Category(err))
	assert.Equal(t, "platform-c", GetMetadata(err)[MetaService])
	assert.True(t, IsResource(err))
	assert.False(t, IsPermanent(err))
	assert.False(t, IsTransient(err))

	plain := errors.New("plain")
	assert.Equal(t, ErrorCode(""), Code(plain))
	assert.Nil(t, GetMetadata(plain))
	assert.Nil(t, AsError(plain))
	assert.False(t, IsRetryable(plain))
}

func TestCause(t *testing.T) {
	root := errors.New("root")
	err := Wrap(Wrap(root, "mid"), "top")
	assert.Equal(t, root, Cause(err))
}

func TestJSONRoundtrip(t *testing.T) {
	original := RateLimited("slow down",
		WithService("ai-completion"),
		WithRetryAfter(2*time.Second),
		WithCause(errors.New("status 429")),
	)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Error
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.Code(), decoded.Code())
	assert.Equal(t, original.Category(), decoded.Category())
	assert.True(t, decoded.Retryable())
	assert.Equal(t, "ai-completion", decoded.Service())
	assert.Equal(t, 2*time.Second, decoded.RetryAfter())
	require.NotNil(t, decoded.Unwrap())
	assert.Equal(t, "status 429", decoded.Unwrap().Error())
	assert.WithinDuration(t, original.Timestamp(), decoded.Timestamp(), time.Microsecond)
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))
	assert.Equal(t, "bad", RecoverPanic("bad").Error())
	assert.Equal(t, "oops", RecoverPanic(errors.New("oops")).Error())
	err := RecoverPanic(42)
	assert.Equal(t, ErrCodePanic, err.Code())
	assert.Equal(t, "int", err.Metadata()["panic_value"])
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantCode ErrorCode
		wantRL   bool
	}{
		{http.StatusTooManyRequests, ErrCodeRateLimit, true},
		{http.StatusUnauthorized, ErrCodeUnauthorized, false},
		{http.StatusForbidden, ErrCodeForbidden, false},
		{http.StatusNotFound, ErrCodeNotFound, false},
		{http.StatusGatewayTimeout, ErrCodeTimeout, false},
		{http.StatusServiceUnavailable, ErrCodeUnavailable, false},
		{http.StatusBadRequest, ErrCodeUpstream, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromHTTPStatus(tt.status, http.Header{}, []byte("details"))
			assert.Equal(t, tt.wantCode, err.Code())
			assert.Equal(t, tt.wantRL, IsRateLimited(err))
			assert.Contains(t, err.Error(), "details")
			assert.Equal(t, fmt.Sprint(tt.status), err.Metadata()[MetaStatus])
		})
	}
}

func TestFromHTTPStatusRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "12")
	err := FromHTTPStatus(http.StatusTooManyRequests, h, nil)
	assert.Equal(t, 12*time.Second, err.RetryAfter())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Zero(t, ParseRetryAfter("", now))
	assert.Zero(t, ParseRetryAfter("-3", now))
	assert.Zero(t, ParseRetryAfter("soon", now))
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5", now))
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 90*time.Second, ParseRetryAfter(date, now))
}

func TestFromHTTPStatusTruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'a'
	}
	err := FromHTTPStatus(http.StatusBadGateway, http.Header{}, body)
	assert.Less(t, len(err.Error()), 400)
}
