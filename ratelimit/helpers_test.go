package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type retryEvent struct {
	attempt int
	delay   time.Duration
}

type recordingObserver struct {
	mu       sync.Mutex
	acquires []AcquireOutcome
	retries  []retryEvent
	calls    int
}

func (o *recordingObserver) ObserveAcquire(_ Service, outcome AcquireOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acquires = append(o.acquires, outcome)
}

func (o *recordingObserver) ObserveRetry(_ Service, attempt int, delay time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, retryEvent{attempt: attempt, delay: delay})
}

func (o *recordingObserver) ObserveCall(Service, error, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
}

func (o *recordingObserver) Retries() []retryEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]retryEvent(nil), o.retries...)
}

func (o *recordingObserver) Acquires() []AcquireOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]AcquireOutcome(nil), o.acquires...)
}

const testService Service = "test-api"

func newTestEngine(t *testing.T, cfg Config, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(map[Service]Config{testService: cfg}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitForQueue(t *testing.T, e *Engine, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := e.Status(testService)
		return err == nil && st.QueueLength == n
	}, 2*time.Second, time.Millisecond)
}
