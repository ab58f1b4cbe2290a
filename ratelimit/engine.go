package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/logging"
	"github.com/vinayprograms/quotagate/telemetry"
)

// Engine owns the per-service buckets, slot counters and wait queues.
// It is safe for concurrent use. Independent engines share no state.
type Engine struct {
	mu      sync.Mutex
	configs map[Service]Config
	buckets map[Service]*bucket
	closed  bool

	now      func() time.Time
	jitter   func() float64
	logger   *logging.Logger
	observer Observer
	tracer   *telemetry.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the time source used for token refill.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithJitter sets the source of backoff jitter. fn returns a value in [0, 1).
func WithJitter(fn func() float64) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.jitter = fn
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the engine event observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithTracer sets the tracer used for call and acquisition spans.
func WithTracer(t *telemetry.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// Tracer returns the tracer the engine records spans with, so collaborators
// can nest their own spans under a call.
func (e *Engine) Tracer() *telemetry.Tracer {
	return e.tracer
}

// NewEngine creates an engine for the given quota table. A nil table means
// DefaultConfigs. The table is copied and never changes afterwards.
func NewEngine(configs map[Service]Config, opts ...EngineOption) (*Engine, error) {
	if configs == nil {
		configs = DefaultConfigs()
	}
	if err := ValidateAll(configs); err != nil {
		return nil, err
	}

	e := &Engine{
		configs:  make(map[Service]Config, len(configs)),
		buckets:  make(map[Service]*bucket),
		now:      time.Now,
		jitter:   rand.Float64,
		logger:   logging.Nop(),
		observer: NopObserver{},
		tracer:   telemetry.GetTracer(),
	}
	for svc, cfg := range configs {
		e.configs[svc] = cfg
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("ratelimit")
	return e, nil
}

// Config returns the limits for service.
func (e *Engine) Config(service Service) (Config, error) {
	cfg, ok := e.configs[service]
	if !ok {
		return Config{}, unknownService(service)
	}
	return cfg, nil
}

// Services returns the configured services in lexical order.
func (e *Engine) Services() []Service {
	return SortedServices(e.configs)
}

func unknownService(service Service) *errors.Error {
	return errors.NotFound("unknown service "+string(service), errors.WithService(string(service)))
}

func closedError(service Service) *errors.Error {
	return errors.Canceled("engine closed", errors.WithService(string(service)))
}

// bucketLocked returns the bucket for service, creating it on first use.
// Caller must hold e.mu.
func (e *Engine) bucketLocked(service Service) (*bucket, error) {
	if b, ok := e.buckets[service]; ok {
		return b, nil
	}
	cfg, ok := e.configs[service]
	if !ok {
		return nil, unknownService(service)
	}
	b := newBucket(cfg, e.now())
	e.buckets[service] = b
	return b, nil
}

// Acquire takes one token and one concurrency slot for service.
//
// When capacity is unavailable a service with a cooldown queues the caller in
// FIFO order until it is served, ten cooldowns pass (QUEUE_TIMEOUT) or ctx is
// done (CANCELED). A service without a cooldown fails at once with CAPACITY.
// Every successful Acquire must be paired with exactly one Release.
func (e *Engine) Acquire(ctx context.Context, service Service) error {
	ctx, span := e.tracer.StartAcquireSpan(ctx, string(service))
	start := time.Now()

	outcome, err := e.acquire(ctx, service)

	waited := time.Since(start)
	e.tracer.EndAcquireSpan(span, outcome == AcquireQueued, waited, err)
	e.observer.ObserveAcquire(service, outcome, waited)
	return err
}

func (e *Engine) acquire(ctx context.Context, service Service) (AcquireOutcome, error) {
	if err := ctx.Err(); err != nil {
		return AcquireCanceled, errors.Canceled("acquire canceled",
			errors.WithService(string(service)), errors.WithCause(err))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return AcquireCanceled, closedError(service)
	}
	b, err := e.bucketLocked(service)
	if err != nil {
		e.mu.Unlock()
		return AcquireRejected, err
	}
	// Capacity that refilled while callers were queued goes to them first.
	if b.queue.Len() > 0 {
		e.drainLocked(b)
	}
	if b.queue.Len() == 0 && b.canProceed(e.now()) {
		b.take()
		e.mu.Unlock()
		return AcquireImmediate, nil
	}
	if b.cfg.Cooldown <= 0 {
		e.mu.Unlock()
		return AcquireCapacity, errors.CapacityUnavailable(string(service))
	}

	w := &waiter{
		id:         uuid.NewString(),
		ready:      make(chan error, 1),
		enqueuedAt: time.Now(),
	}
	w.elem = b.queue.PushBack(w)
	position := b.queue.Len()
	e.armDrainLocked(service, b)
	timeout := b.cfg.QueueTimeout()
	e.mu.Unlock()

	e.logger.Queued(string(service), position)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.ready:
		if err != nil {
			return AcquireCanceled, err
		}
		return AcquireQueued, nil

	case <-timer.C:
		e.mu.Lock()
		removed := b.remove(w)
		e.mu.Unlock()
		if !removed {
			// Served while the timer fired; keep the slot.
			if err := <-w.ready; err != nil {
				return AcquireCanceled, err
			}
			return AcquireQueued, nil
		}
		waited := time.Since(w.enqueuedAt)
		e.logger.QueueTimeout(string(service), waited)
		return AcquireTimeout, errors.QueueTimeout(string(service), waited)

	case <-ctx.Done():
		e.mu.Lock()
		removed := b.remove(w)
		e.mu.Unlock()
		if !removed {
			if err := <-w.ready; err == nil {
				e.Release(service)
			}
		}
		return AcquireCanceled, errors.Canceled("acquire canceled",
			errors.WithService(string(service)), errors.WithCause(ctx.Err()))
	}
}

// Release frees the slot taken by a successful Acquire and serves queued
// callers, oldest first, while capacity allows.
func (e *Engine) Release(service Service) {
	e.mu.Lock()
	b, ok := e.buckets[service]
	if !ok {
		e.mu.Unlock()
		return
	}
	b.give()
	served := e.drainLocked(b)
	if b.queue.Len() > 0 && !e.closed {
		e.armDrainLocked(service, b)
	}
	inFlight := b.inFlight
	e.mu.Unlock()

	e.logger.Released(string(service), inFlight, served)
}

// drainLocked hands capacity to queued waiters in FIFO order.
// Caller must hold e.mu.
func (e *Engine) drainLocked(b *bucket) int {
	served := 0
	for b.queue.Len() > 0 && b.canProceed(e.now()) {
		w := b.popFront()
		b.take()
		w.ready <- nil
		served++
	}
	return served
}

// armDrainLocked schedules a drain one cooldown from now so that refill alone
// can serve waiters. At most one drain timer is armed per service.
// Caller must hold e.mu.
func (e *Engine) armDrainLocked(service Service, b *bucket) {
	if b.drainTimer != nil || b.cfg.Cooldown <= 0 {
		return
	}
	b.drainSeq++
	seq := b.drainSeq
	b.drainTimer = time.AfterFunc(b.cfg.Cooldown, func() {
		e.fireDrain(service, b, seq)
	})
}

func (e *Engine) fireDrain(service Service, b *bucket, seq uint64) {
	e.mu.Lock()
	if b.drainSeq != seq {
		e.mu.Unlock()
		return
	}
	b.drainTimer = nil
	if e.closed {
		e.mu.Unlock()
		return
	}
	served := e.drainLocked(b)
	if b.queue.Len() > 0 {
		e.armDrainLocked(service, b)
	}
	e.mu.Unlock()

	if served > 0 {
		e.logger.Debug("drained", map[string]interface{}{
			"service": string(service),
			"served":  served,
		})
	}
}

// Close evicts every queued caller with CANCELED and stops drain timers.
// Later acquisitions fail with CANCELED. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for svc, b := range e.buckets {
		b.stopDrain()
		if n := b.evict(closedError(svc)); n > 0 {
			e.logger.Info("evicted waiters on close", map[string]interface{}{
				"service": string(svc),
				"evicted": n,
			})
		}
	}
	return nil
}
