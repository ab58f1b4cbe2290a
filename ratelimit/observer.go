package ratelimit

import "time"

// AcquireOutcome labels how an acquisition ended.
type AcquireOutcome string

const (
	AcquireImmediate AcquireOutcome = "immediate" // served without waiting
	AcquireQueued    AcquireOutcome = "queued"    // served after waiting in the queue
	AcquireCapacity  AcquireOutcome = "capacity"  // failed fast, no cooldown configured
	AcquireTimeout   AcquireOutcome = "timeout"   // evicted after the queue timeout
	AcquireCanceled  AcquireOutcome = "canceled"  // context, reset or close
	AcquireRejected  AcquireOutcome = "rejected"  // unknown service
)

// Observer receives engine events for metrics. Implementations must be safe
// for concurrent use and must not block. They are never called with the
// engine lock held.
type Observer interface {
	ObserveAcquire(service Service, outcome AcquireOutcome, waited time.Duration)
	ObserveRetry(service Service, attempt int, delay time.Duration, err error)
	ObserveCall(service Service, err error, duration time.Duration)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ObserveAcquire(Service, AcquireOutcome, time.Duration) {}
func (NopObserver) ObserveRetry(Service, int, time.Duration, error)      {}
func (NopObserver) ObserveCall(Service, error, time.Duration)             {}
