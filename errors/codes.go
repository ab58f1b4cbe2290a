package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where a caller may retry.
	// Examples: network timeouts, upstream temporarily unavailable.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, unknown service, exhausted retry budget.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates quota or capacity exhaustion.
	// Examples: upstream 429, no free token, queue timeout.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or corrupted state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Upstream temporarily unavailable
	ErrCodeNetworkErr  ErrorCode = "NETWORK_ERR" // Network connectivity issue

	// Permanent errors
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"         // Unknown service or resource
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"     // Malformed input or config
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"      // Authentication failed
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"         // Authorization denied
	ErrCodeCanceled         ErrorCode = "CANCELED"          // Canceled by caller, reset or close
	ErrCodeUpstream         ErrorCode = "UPSTREAM"          // Upstream rejected the call
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED" // Retry budget spent

	// Resource errors
	ErrCodeRateLimit    ErrorCode = "RATE_LIMITED"  // Upstream reported a rate limit
	ErrCodeCapacity     ErrorCode = "CAPACITY"      // No token or slot available right now
	ErrCodeQueueTimeout ErrorCode = "QUEUE_TIMEOUT" // Queued caller was not served in time

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr:
		return CategoryTransient

	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeUnauthorized, ErrCodeForbidden,
		ErrCodeCanceled, ErrCodeUpstream, ErrCodeRetriesExhausted:
		return CategoryPermanent

	case ErrCodeRateLimit, ErrCodeCapacity, ErrCodeQueueTimeout:
		return CategoryResource

	case ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:          "operation timed out",
	ErrCodeUnavailable:      "upstream temporarily unavailable",
	ErrCodeNetworkErr:       "network connectivity error",
	ErrCodeNotFound:         "not found",
	ErrCodeInvalidInput:     "invalid input provided",
	ErrCodeUnauthorized:     "authentication required",
	ErrCodeForbidden:        "access denied",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeUpstream:         "upstream rejected the request",
	ErrCodeRetriesExhausted: "max retries exceeded",
	ErrCodeRateLimit:        "rate limit exceeded",
	ErrCodeCapacity:         "capacity unavailable",
	ErrCodeQueueTimeout:     "timed out waiting in queue",
	ErrCodeInternal:         "internal error",
	ErrCodePanic:            "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
