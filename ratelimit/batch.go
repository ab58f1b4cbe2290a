package ratelimit

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/quotagate/errors"
)

const (
	defaultBatchSize  = 5
	defaultBatchDelay = time.Second
)

// BatchResult is the outcome of one batch item.
type BatchResult[R any] struct {
	Success bool
	Result  R
	Err     error
}

// BatchOption configures RunBatch.
type BatchOption func(*batchOptions)

type batchOptions struct {
	size       int
	delay      time.Duration
	onProgress func(completed, total int)
	call       []CallOption
}

// WithBatchSize sets how many items run concurrently per chunk.
// Defaults to the service's MaxConcurrent, or 5 when it has none.
func WithBatchSize(n int) BatchOption {
	return func(o *batchOptions) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithBatchDelay sets the pause between chunks.
// Defaults to the service's Cooldown, or one second when it has none.
func WithBatchDelay(d time.Duration) BatchOption {
	return func(o *batchOptions) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithProgress registers a hook called after each chunk settles.
func WithProgress(fn func(completed, total int)) BatchOption {
	return func(o *batchOptions) {
		o.onProgress = fn
	}
}

// WithCallOptions passes options through to each item's AcquireAndRun.
func WithCallOptions(opts ...CallOption) BatchOption {
	return func(o *batchOptions) {
		o.call = append(o.call, opts...)
	}
}

// RunBatch runs fn for every item through AcquireAndRun, in consecutive
// chunks that each run concurrently and settle fully before the next starts.
// One item's failure never affects its siblings. The result slice matches
// items in length and order. The only error returned is for an unknown
// service. If ctx ends between chunks the remaining items fail with CANCELED.
func RunBatch[T, R any](ctx context.Context, e *Engine, service Service, items []T, fn func(ctx context.Context, item T) (R, error), opts ...BatchOption) ([]BatchResult[R], error) {
	cfg, err := e.Config(service)
	if err != nil {
		return nil, err
	}

	o := batchOptions{size: cfg.MaxConcurrent, delay: cfg.Cooldown}
	if o.size <= 0 {
		o.size = defaultBatchSize
	}
	if o.delay <= 0 {
		o.delay = defaultBatchDelay
	}
	for _, opt := range opts {
		opt(&o)
	}

	total := len(items)
	results := make([]BatchResult[R], total)

	for start := 0; start < total; start += o.size {
		if err := ctx.Err(); err != nil {
			failRemaining(results, start, service, err)
			return results, nil
		}

		end := min(start+o.size, total)

		// Item failures land in results; the group only bounds and joins the chunk.
		var g errgroup.Group
		g.SetLimit(o.size)
		for i := start; i < end; i++ {
			item := items[i]
			g.Go(func() error {
				r, err := AcquireAndRun(ctx, e, service, func(ctx context.Context) (R, error) {
					return fn(ctx, item)
				}, o.call...)
				if err != nil {
					results[i] = BatchResult[R]{Err: err}
				} else {
					results[i] = BatchResult[R]{Success: true, Result: r}
				}
				return nil
			})
		}
		_ = g.Wait()

		if o.onProgress != nil {
			o.onProgress(end, total)
		}
		e.logger.BatchProgress(string(service), end, total)

		if end < total {
			if err := sleepWithContext(ctx, o.delay); err != nil {
				failRemaining(results, end, service, err)
				return results, nil
			}
		}
	}
	return results, nil
}

func failRemaining[R any](results []BatchResult[R], from int, service Service, cause error) {
	for i := from; i < len(results); i++ {
		results[i] = BatchResult[R]{Err: errors.Canceled("batch canceled",
			errors.WithService(string(service)), errors.WithCause(cause))}
	}
}
