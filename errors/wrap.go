package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a CallError, the wrapper keeps its code, category and
// retryable tag. Otherwise a new Internal error wraps the original.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var callErr *Error
	if errors.As(err, &callErr) {
		wrapped := &Error{
			code:      callErr.code,
			category:  callErr.category,
			message:   message,
			cause:     err,
			metadata:  callErr.Metadata(),
			retryable: callErr.retryable,
			timestamp: callErr.timestamp,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsError extracts the outermost *Error from an error chain.
// Returns nil if none is found.
func AsError(err error) *Error {
	var callErr *Error
	if errors.As(err, &callErr) {
		return callErr
	}
	return nil
}

// Is checks if the outermost CallError in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	if callErr := AsError(err); callErr != nil {
		return callErr.code == code
	}
	return false
}

// IsCategory checks if the outermost CallError in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if callErr := AsError(err); callErr != nil {
		return callErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Plain errors are never retryable.
func IsRetryable(err error) bool {
	if callErr := AsError(err); callErr != nil {
		return callErr.Retryable()
	}
	return false
}

// IsRateLimited reports whether err is rate-limit shaped: a RATE_LIMITED
// error whose retryable tag is set.
func IsRateLimited(err error) bool {
	callErr := AsError(err)
	if callErr == nil {
		return false
	}
	return callErr.code == ErrCodeRateLimit && callErr.Retryable()
}

// IsAcquireFailure reports whether err came from the engine failing to hand
// out capacity (no token or slot, or a queue timeout).
func IsAcquireFailure(err error) bool {
	return Is(err, ErrCodeCapacity) || Is(err, ErrCodeQueueTimeout)
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}

// IsResource checks if the error is resource-related.
func IsResource(err error) bool {
	return IsCategory(err, CategoryResource)
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	if callErr := AsError(err); callErr != nil {
		return callErr.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
func Category(err error) ErrorCategory {
	if callErr := AsError(err); callErr != nil {
		return callErr.category
	}
	return ""
}

// GetMetadata extracts metadata from an error.
// Returns nil if err is not a CallError.
func GetMetadata(err error) map[string]string {
	if callErr := AsError(err); callErr != nil {
		return callErr.Metadata()
	}
	return nil
}

// Cause returns the root cause of the error chain.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := unwrapper.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
