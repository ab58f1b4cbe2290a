// Package ratelimit coordinates outbound calls to rate-limited services from
// one process.
//
// Each service has a token bucket that refills continuously over its window,
// an optional cap on in-flight calls, and an optional cooldown. A caller that
// finds no capacity either fails at once (no cooldown) or waits in a FIFO
// queue until a release or refill serves it (cooldown configured).
//
// # Engine
//
// All state lives in an Engine. Engines are independent, so tests build their
// own:
//
//	engine, err := ratelimit.NewEngine(ratelimit.DefaultConfigs(),
//	    ratelimit.WithLogger(logger),
//	    ratelimit.WithObserver(metrics),
//	)
//	defer engine.Close()
//
// # Guarded Calls
//
// AcquireAndRun takes a token and a slot, runs the work, releases, and
// retries rate-limited failures with exponential backoff plus up to 30%
// jitter:
//
//	draft, err := ratelimit.AcquireAndRun(ctx, engine, ratelimit.ServiceAICompletion,
//	    func(ctx context.Context) (string, error) {
//	        return generate(ctx, prompt)
//	    },
//	    ratelimit.WithRetries(2),
//	)
//
// Work reports a rate limit by returning errors.RateLimited (or any error
// built with errors.FromHTTPStatus for a 429). Other errors are returned
// unchanged without a retry.
//
// # Batches
//
// RunBatch drives many items through the same path in chunks:
//
//	results, err := ratelimit.RunBatch(ctx, engine, ratelimit.ServiceFeedFetch, feeds,
//	    fetchFeed,
//	    ratelimit.WithBatchSize(4),
//	    ratelimit.WithProgress(func(done, total int) { ... }),
//	)
//
// # Low-level Protocol
//
// Acquire and Release are exported for callers that manage their own scope.
// Every successful Acquire must be paired with one Release.
package ratelimit
