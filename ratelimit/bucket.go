package ratelimit

import (
	"container/list"
	"math"
	"time"
)

// waiter is one caller parked on an exhausted service. ready receives nil when
// the caller has been handed a token and slot, or an error on eviction.
type waiter struct {
	id         string
	ready      chan error
	enqueuedAt time.Time
	elem       *list.Element // nil once dequeued
}

// bucket is the per-service state: credits, in-flight slots and the wait queue.
// All fields are guarded by Engine.mu.
type bucket struct {
	cfg        Config
	tokens     float64
	lastRefill time.Time
	inFlight   int
	queue      *list.List // of *waiter, FIFO

	drainTimer *time.Timer
	drainSeq   uint64
}

func newBucket(cfg Config, now time.Time) *bucket {
	return &bucket{
		cfg:        cfg,
		tokens:     float64(cfg.MaxRequests), // start full
		lastRefill: now,
		queue:      list.New(),
	}
}

// refill credits the bucket in proportion to time elapsed since the last
// refill. A full window or more restores full capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < 0 {
		return
	}
	capacity := float64(b.cfg.MaxRequests)
	if elapsed >= b.cfg.Window {
		b.tokens = capacity
	} else {
		b.tokens = math.Min(capacity, b.tokens+float64(elapsed)/float64(b.cfg.Window)*capacity)
	}
	b.lastRefill = now
}

func (b *bucket) hasSlot() bool {
	return b.cfg.MaxConcurrent <= 0 || b.inFlight < b.cfg.MaxConcurrent
}

func (b *bucket) canProceed(now time.Time) bool {
	b.refill(now)
	return b.tokens >= 1 && b.hasSlot()
}

// take debits one token and occupies one slot. Callers check canProceed first.
func (b *bucket) take() {
	b.tokens--
	b.inFlight++
}

// give frees one slot, ignoring releases with nothing in flight.
func (b *bucket) give() {
	if b.inFlight > 0 {
		b.inFlight--
	}
}

func (b *bucket) available() int {
	return int(math.Floor(b.tokens))
}

// popFront dequeues the oldest waiter, or returns nil.
func (b *bucket) popFront() *waiter {
	front := b.queue.Front()
	if front == nil {
		return nil
	}
	w := b.queue.Remove(front).(*waiter)
	w.elem = nil
	return w
}

// remove takes w out of the queue if it is still there and reports whether it was.
func (b *bucket) remove(w *waiter) bool {
	if w.elem == nil {
		return false
	}
	b.queue.Remove(w.elem)
	w.elem = nil
	return true
}

// evict fails every queued waiter with err.
func (b *bucket) evict(err error) int {
	n := 0
	for w := b.popFront(); w != nil; w = b.popFront() {
		w.ready <- err
		n++
	}
	return n
}

func (b *bucket) stopDrain() {
	if b.drainTimer != nil {
		b.drainTimer.Stop()
		b.drainTimer = nil
	}
	b.drainSeq++
}
