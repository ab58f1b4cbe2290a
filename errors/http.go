package errors

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBodyExcerpt bounds how much of an upstream body ends up in a message.
const maxBodyExcerpt = 256

// FromHTTPStatus builds the structured error for a non-2xx upstream response.
// A 429 becomes a retryable RATE_LIMITED error carrying any Retry-After hint.
// Other statuses are never rate-limit shaped.
func FromHTTPStatus(status int, header http.Header, body []byte, opts ...Option) *Error {
	message := fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status))
	if excerpt := strings.TrimSpace(string(body)); excerpt != "" {
		if len(excerpt) > maxBodyExcerpt {
			excerpt = excerpt[:maxBodyExcerpt]
		}
		message += ": " + excerpt
	}
	opts = append([]Option{WithMetadata(MetaStatus, strconv.Itoa(status))}, opts...)

	switch {
	case status == http.StatusTooManyRequests:
		opts = append(opts, WithRetryAfter(ParseRetryAfter(header.Get("Retry-After"), time.Now())))
		return New(ErrCodeRateLimit, message, opts...)
	case status == http.StatusUnauthorized:
		return New(ErrCodeUnauthorized, message, opts...)
	case status == http.StatusForbidden:
		return New(ErrCodeForbidden, message, opts...)
	case status == http.StatusNotFound:
		return New(ErrCodeNotFound, message, opts...)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return New(ErrCodeTimeout, message, opts...)
	case status >= 500:
		return New(ErrCodeUnavailable, message, opts...)
	default:
		return New(ErrCodeUpstream, message, opts...)
	}
}

// ParseRetryAfter parses a Retry-After header value given either as seconds
// or as an HTTP date. It returns zero when the value is absent or unusable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
