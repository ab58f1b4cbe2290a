package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/telemetry"
)

// DefaultRetries is the number of extra attempts after the first.
const DefaultRetries = 3

// jitterFraction bounds backoff jitter as a share of the base delay.
const jitterFraction = 0.3

// Work is one unit of caller work run under an acquired slot.
type Work[T any] func(ctx context.Context) (T, error)

// CallOption configures AcquireAndRun.
type CallOption func(*callOptions)

type callOptions struct {
	retries int
	onRetry func(attempt int, err error)
}

// WithRetries sets how many extra attempts follow a rate-limited failure.
// Negative values are treated as zero.
func WithRetries(n int) CallOption {
	return func(o *callOptions) {
		if n < 0 {
			n = 0
		}
		o.retries = n
	}
}

// WithOnRetry registers a hook called before each backoff sleep with the
// 1-based number of the attempt that failed.
func WithOnRetry(fn func(attempt int, err error)) CallOption {
	return func(o *callOptions) {
		o.onRetry = fn
	}
}

// BackoffDelay returns the pre-jitter delay before retrying after the given
// 0-based attempt: min(Backoff * 2^attempt, MaxBackoff).
func BackoffDelay(cfg Config, attempt int) time.Duration {
	d := cfg.Backoff
	for i := 0; i < attempt && d < cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return d
}

func (e *Engine) backoff(cfg Config, attempt int, err error) time.Duration {
	d := BackoffDelay(cfg, attempt)
	d += time.Duration(e.jitter() * jitterFraction * float64(d))
	if callErr := errors.AsError(err); callErr != nil {
		if ra := callErr.RetryAfter(); ra > d {
			d = max(d, min(ra, cfg.MaxBackoff))
		}
	}
	return d
}

// retryable reports whether a failed attempt may be retried under cfg.
// Only rate-limit-shaped failures and acquisition failures qualify, and only
// for services with backoff enabled.
func retryable(cfg Config, err error) bool {
	if !cfg.UseBackoff {
		return false
	}
	return errors.IsRateLimited(err) || errors.IsAcquireFailure(err)
}

// AcquireAndRun runs work under one acquired slot of service, releasing the
// slot on every exit path. Rate-limited failures are retried with exponential
// backoff and jitter. Any other error from work is returned unchanged on the
// first occurrence. When the retry budget is spent the result is a
// RETRIES_EXHAUSTED error wrapping the last failure.
func AcquireAndRun[T any](ctx context.Context, e *Engine, service Service, work Work[T], opts ...CallOption) (T, error) {
	var zero T

	cfg, err := e.Config(service)
	if err != nil {
		return zero, err
	}
	o := callOptions{retries: DefaultRetries}
	for _, opt := range opts {
		opt(&o)
	}

	callID := uuid.NewString()
	log := e.logger.WithCallID(callID)
	ctx, span := e.tracer.StartCallSpan(ctx, string(service), callID)

	for attempt := 0; ; attempt++ {
		result, err := runOnce(ctx, e, service, cfg, work)
		if err == nil {
			e.tracer.EndCallSpan(span, telemetry.CallSpanOptions{Attempts: attempt + 1, Outcome: "ok"}, nil)
			return result, nil
		}
		if !retryable(cfg, err) {
			e.tracer.EndCallSpan(span, telemetry.CallSpanOptions{Attempts: attempt + 1, Outcome: "error"}, err)
			return zero, err
		}
		if attempt >= o.retries {
			exhausted := errors.RetriesExhausted(string(service), attempt+1, err, errors.WithCallID(callID))
			e.tracer.EndCallSpan(span, telemetry.CallSpanOptions{Attempts: attempt + 1, Outcome: "exhausted"}, exhausted)
			return zero, exhausted
		}

		delay := e.backoff(cfg, attempt, err)
		if o.onRetry != nil {
			o.onRetry(attempt+1, err)
		}
		e.observer.ObserveRetry(service, attempt+1, delay, err)
		log.RetryScheduled(string(service), attempt+1, delay, err)
		telemetry.RetryEvent(ctx, attempt+1, delay, err)

		if err := sleepWithContext(ctx, delay); err != nil {
			canceled := errors.Canceled("retry canceled",
				errors.WithService(string(service)), errors.WithCallID(callID), errors.WithCause(err))
			e.tracer.EndCallSpan(span, telemetry.CallSpanOptions{Attempts: attempt + 1, Outcome: "canceled"}, canceled)
			return zero, canceled
		}
	}
}

// runOnce is one acquire, execute, release cycle followed by the service
// cooldown. A panic in work is released and returned as a PANIC error.
func runOnce[T any](ctx context.Context, e *Engine, service Service, cfg Config, work Work[T]) (result T, err error) {
	if err := e.Acquire(ctx, service); err != nil {
		return result, err
	}

	start := time.Now()
	result, err = func() (res T, err error) {
		defer e.Release(service)
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
			}
		}()
		return work(ctx)
	}()
	e.observer.ObserveCall(service, err, time.Since(start))

	if cfg.Cooldown > 0 {
		// The work has already finished; a canceled context only cuts the spacing short.
		_ = sleepWithContext(ctx, cfg.Cooldown)
	}
	return result, err
}

// Run is AcquireAndRun for work without a result.
func (e *Engine) Run(ctx context.Context, service Service, work func(ctx context.Context) error, opts ...CallOption) error {
	_, err := AcquireAndRun(ctx, e, service, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	}, opts...)
	return err
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
