package ratelimit

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/quotagate/errors"
)

func fastBackoff() Config {
	return Config{
		MaxRequests: 100,
		Window:      time.Hour,
		UseBackoff:  true,
		Backoff:     time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := Config{Backoff: time.Second, MaxBackoff: 30 * time.Second}
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}

	var prev time.Duration
	for attempt, w := range want {
		got := BackoffDelay(cfg, attempt)
		assert.Equal(t, w, got, "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}

	// Large attempts stay capped without overflow.
	assert.Equal(t, 30*time.Second, BackoffDelay(cfg, 200))
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := Config{MaxRequests: 1, Window: time.Second, UseBackoff: true, Backoff: time.Second, MaxBackoff: 30 * time.Second}

	low := newTestEngine(t, cfg, WithJitter(func() float64 { return 0 }))
	assert.Equal(t, 4*time.Second, low.backoff(cfg, 2, nil))

	high := newTestEngine(t, cfg, WithJitter(func() float64 { return 0.9999 }))
	d := high.backoff(cfg, 2, nil)
	assert.Greater(t, d, 4*time.Second)
	assert.LessOrEqual(t, d, 5200*time.Millisecond)
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	cfg := Config{MaxRequests: 1, Window: time.Second, UseBackoff: true, Backoff: time.Second, MaxBackoff: 30 * time.Second}
	e := newTestEngine(t, cfg, WithJitter(func() float64 { return 0 }))

	hinted := errors.RateLimited("429", errors.WithRetryAfter(10*time.Second))
	assert.Equal(t, 10*time.Second, e.backoff(cfg, 0, hinted))

	capped := errors.RateLimited("429", errors.WithRetryAfter(time.Hour))
	assert.Equal(t, 30*time.Second, e.backoff(cfg, 0, capped))
}

func TestBackoffRetryAfterNeverLowersJitteredDelay(t *testing.T) {
	cfg := Config{MaxRequests: 1, Window: time.Second, UseBackoff: true, Backoff: 100 * time.Millisecond, MaxBackoff: 100 * time.Millisecond}
	e := newTestEngine(t, cfg, WithJitter(func() float64 { return 0.5 }))

	// Jitter alone pushes the delay past MaxBackoff.
	plain := e.backoff(cfg, 3, errors.RateLimited("429"))
	assert.Greater(t, plain, cfg.MaxBackoff)

	hinted := errors.RateLimited("429", errors.WithRetryAfter(time.Second))
	assert.Equal(t, plain, e.backoff(cfg, 3, hinted))
}

func TestAcquireAndRun_Success(t *testing.T) {
	e := newTestEngine(t, fastBackoff())

	got, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (string, error) {
		st, _ := e.Status(testService)
		assert.Equal(t, 1, st.InFlight)
		return "draft", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", got)

	st, _ := e.Status(testService)
	assert.Equal(t, 0, st.InFlight)
	assert.Equal(t, 99, st.AvailableTokens)
}

func TestAcquireAndRun_RetryBudget(t *testing.T) {
	obs := &recordingObserver{}
	e := newTestEngine(t, fastBackoff(), WithObserver(obs))

	var calls int32
	var retried []int
	last := errors.RateLimited("429 too many requests")

	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, last
	}, WithRetries(2), WithOnRetry(func(attempt int, err error) {
		retried = append(retried, attempt)
		assert.True(t, errors.IsRateLimited(err))
	}))

	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, errors.ErrCodeRetriesExhausted, errors.Code(err))
	assert.Equal(t, "3", errors.GetMetadata(err)[errors.MetaAttempts])
	assert.True(t, stderrors.Is(err, last))
	assert.Equal(t, []int{1, 2}, retried)
	assert.Len(t, obs.Retries(), 2)

	st, _ := e.Status(testService)
	assert.Equal(t, 0, st.InFlight)
}

func TestAcquireAndRun_ZeroRetries(t *testing.T) {
	e := newTestEngine(t, fastBackoff())
	var calls int32
	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.RateLimited("429")
	}, WithRetries(0))

	assert.Equal(t, errors.ErrCodeRetriesExhausted, errors.Code(err))
	assert.Equal(t, int32(1), calls)
}

func TestAcquireAndRun_PlainErrorShortCircuits(t *testing.T) {
	e := newTestEngine(t, fastBackoff())

	var calls int32
	plain := stderrors.New("rate limit exceeded in message only")
	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, plain
	}, WithRetries(5))

	assert.Same(t, plain, err)
	assert.Equal(t, int32(1), calls)

	st, _ := e.Status(testService)
	assert.Equal(t, 0, st.InFlight)
}

func TestAcquireAndRun_NonRetryableRateLimit(t *testing.T) {
	e := newTestEngine(t, fastBackoff())
	var calls int32
	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.RateLimited("daily quota", errors.WithRetryable(false))
	})
	assert.Equal(t, errors.ErrCodeRateLimit, errors.Code(err))
	assert.Equal(t, int32(1), calls)
}

func TestAcquireAndRun_NoBackoffPropagatesRateLimit(t *testing.T) {
	cfg := fastBackoff()
	cfg.UseBackoff = false
	e := newTestEngine(t, cfg)

	var calls int32
	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.RateLimited("429")
	})
	assert.True(t, errors.IsRateLimited(err))
	assert.Equal(t, int32(1), calls)
}

func TestAcquireAndRun_RecoversAfterRateLimit(t *testing.T) {
	e := newTestEngine(t, fastBackoff())

	var calls int32
	got, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.RateLimited("429")
		}
		return "posted", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "posted", got)
	assert.Equal(t, int32(3), calls)
}

func TestAcquireAndRun_PanicReleasesSlot(t *testing.T) {
	e := newTestEngine(t, fastBackoff())

	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		panic("boom")
	})
	assert.Equal(t, errors.ErrCodePanic, errors.Code(err))

	st, _ := e.Status(testService)
	assert.Equal(t, 0, st.InFlight)
}

func TestAcquireAndRun_AcquireFailureConsumesAttempt(t *testing.T) {
	cfg := fastBackoff()
	cfg.MaxConcurrent = 1
	e := newTestEngine(t, cfg)
	require.NoError(t, e.Acquire(context.Background(), testService))

	var calls int32
	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 1, nil
	}, WithRetries(1))

	assert.Equal(t, errors.ErrCodeRetriesExhausted, errors.Code(err))
	assert.Equal(t, errors.ErrCodeCapacity, errors.Code(errors.AsError(err).Unwrap()))
	assert.Zero(t, calls)
}

func TestAcquireAndRun_AcquireFailureWithoutBackoff(t *testing.T) {
	e := newTestEngine(t, Config{MaxRequests: 1, Window: time.Hour})
	require.NoError(t, e.Acquire(context.Background(), testService))

	_, err := AcquireAndRun(context.Background(), e, testService, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.Equal(t, errors.ErrCodeCapacity, errors.Code(err))
}

func TestAcquireAndRun_CooldownSpacing(t *testing.T) {
	cfg := Config{MaxRequests: 10, Window: time.Hour, Cooldown: 30 * time.Millisecond}
	e := newTestEngine(t, cfg)

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), testService, func(ctx context.Context) error { return nil }))
	require.NoError(t, e.Run(context.Background(), testService, func(ctx context.Context) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestAcquireAndRun_CancelDuringBackoff(t *testing.T) {
	cfg := fastBackoff()
	cfg.Backoff, cfg.MaxBackoff = time.Minute, time.Minute
	e := newTestEngine(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := AcquireAndRun(ctx, e, testService, func(ctx context.Context) (int, error) {
		return 0, errors.RateLimited("429")
	})
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, errors.ErrCodeCanceled, errors.Code(err))
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

func TestAcquireAndRun_UnknownService(t *testing.T) {
	e := newTestEngine(t, fastBackoff())
	_, err := AcquireAndRun(context.Background(), e, "missing", func(ctx context.Context) (int, error) {
		t.Fatal("work must not run")
		return 0, nil
	})
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestRun(t *testing.T) {
	e := newTestEngine(t, fastBackoff())
	ran := false
	require.NoError(t, e.Run(context.Background(), testService, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}
