package ratelimit

import (
	"time"

	"github.com/vinayprograms/quotagate/errors"
)

// Status is a point-in-time snapshot of one service.
type Status struct {
	Service         Service       `json:"service"`
	AvailableTokens int           `json:"available_tokens"`
	MaxTokens       int           `json:"max_tokens"`
	InFlight        int           `json:"in_flight"`
	MaxConcurrent   int           `json:"max_concurrent"` // 0 means unlimited
	QueueLength     int           `json:"queue_length"`
	Cooldown        time.Duration `json:"cooldown"`
}

// Status reports the current state of service after applying refill.
// It never changes the in-flight count.
func (e *Engine) Status(service Service) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.bucketLocked(service)
	if err != nil {
		return Status{}, err
	}
	return e.snapshotLocked(service, b), nil
}

// StatusAll reports every configured service.
func (e *Engine) StatusAll() map[Service]Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[Service]Status, len(e.configs))
	for svc := range e.configs {
		b, _ := e.bucketLocked(svc)
		out[svc] = e.snapshotLocked(svc, b)
	}
	return out
}

func (e *Engine) snapshotLocked(service Service, b *bucket) Status {
	b.refill(e.now())
	return Status{
		Service:         service,
		AvailableTokens: b.available(),
		MaxTokens:       b.cfg.MaxRequests,
		InFlight:        b.inFlight,
		MaxConcurrent:   b.cfg.MaxConcurrent,
		QueueLength:     b.queue.Len(),
		Cooldown:        b.cfg.Cooldown,
	}
}

// Reset restores service to a full bucket with nothing in flight. Queued
// callers are evicted with CANCELED. Intended for tests and admin tooling.
func (e *Engine) Reset(service Service) error {
	e.mu.Lock()
	b, err := e.bucketLocked(service)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	b.stopDrain()
	evicted := b.evict(errors.Canceled("service reset", errors.WithService(string(service))))
	b.tokens = float64(b.cfg.MaxRequests)
	b.lastRefill = e.now()
	b.inFlight = 0
	e.mu.Unlock()

	e.logger.Info("service reset", map[string]interface{}{
		"service": string(service),
		"evicted": evicted,
	})
	return nil
}
