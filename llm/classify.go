package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vinayprograms/quotagate/errors"
)

// statusOverloaded is Anthropic's "overloaded" status. It is paced like a 429.
const statusOverloaded = 529

// ClassifyError turns a provider SDK failure into a structured error.
// Rate-limit responses become retryable RATE_LIMITED errors carrying any
// Retry-After hint; every other failure keeps a non-rate-limit code so the
// engine surfaces it on first occurrence.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	meta := errors.WithMetadata("provider", provider)

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, provider+" request aborted", meta)
	}

	var anthropicErr *anthropic.Error
	if stderrors.As(err, &anthropicErr) {
		return fromStatus(provider, anthropicErr.StatusCode, responseHeader(anthropicErr.Response), err)
	}

	var openaiErr *openai.Error
	if stderrors.As(err, &openaiErr) {
		return fromStatus(provider, openaiErr.StatusCode, responseHeader(openaiErr.Response), err)
	}

	var googleErr *googleapi.Error
	if stderrors.As(err, &googleErr) {
		return fromStatus(provider, googleErr.Code, googleErr.Header, err)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return fromGRPC(provider, st, err)
	}

	return errors.WrapWithCode(err, errors.ErrCodeUpstream, provider+" request failed", meta)
}

func fromStatus(provider string, code int, header http.Header, cause error) error {
	opts := []errors.Option{
		errors.WithMetadata("provider", provider),
		errors.WithCause(cause),
	}
	if code == statusOverloaded {
		return errors.RateLimited(fmt.Sprintf("%s overloaded", provider),
			append(opts, errors.WithRetryAfter(errors.ParseRetryAfter(header.Get("Retry-After"), time.Now())))...)
	}
	return errors.FromHTTPStatus(code, header, nil, opts...)
}

func fromGRPC(provider string, st *status.Status, cause error) error {
	opts := []errors.Option{
		errors.WithMetadata("provider", provider),
		errors.WithMetadata("grpc_code", st.Code().String()),
		errors.WithCause(cause),
	}
	msg := fmt.Sprintf("%s: %s", provider, st.Message())

	switch st.Code() {
	case codes.ResourceExhausted:
		return errors.RateLimited(msg, opts...)
	case codes.Unauthenticated:
		return errors.New(errors.ErrCodeUnauthorized, msg, opts...)
	case codes.PermissionDenied:
		return errors.New(errors.ErrCodeForbidden, msg, opts...)
	case codes.NotFound:
		return errors.New(errors.ErrCodeNotFound, msg, opts...)
	case codes.InvalidArgument:
		return errors.New(errors.ErrCodeInvalidInput, msg, opts...)
	case codes.DeadlineExceeded:
		return errors.New(errors.ErrCodeTimeout, msg, opts...)
	case codes.Canceled:
		return errors.New(errors.ErrCodeCanceled, msg, opts...)
	case codes.Unavailable:
		return errors.New(errors.ErrCodeUnavailable, msg, opts...)
	default:
		return errors.New(errors.ErrCodeUpstream, msg, opts...)
	}
}

func responseHeader(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	return resp.Header
}
