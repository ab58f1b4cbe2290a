package ratelimit

import (
	"fmt"
	"sort"
	"time"

	"github.com/vinayprograms/quotagate/errors"
)

// Service identifies one independently rate-limited external dependency.
type Service string

// Known services. Any other identifier may be configured at startup.
const (
	ServiceAICompletion Service = "ai-completion"
	ServicePlatformA    Service = "platform-a"
	ServicePlatformB    Service = "platform-b"
	ServicePlatformC    Service = "platform-c"
	ServiceFeedFetch    Service = "feed-fetch"
	ServiceNewsAPI      Service = "news-api"
)

// Config holds the quota parameters for one service. It is immutable once
// handed to NewEngine.
type Config struct {
	// MaxRequests is the bucket capacity: credits per window.
	MaxRequests int `json:"max_requests"`

	// Window is the time over which an empty bucket refills completely.
	Window time.Duration `json:"window"`

	// MaxConcurrent caps in-flight calls. Zero means no cap.
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// Cooldown is the minimum spacing after each release. A non-zero
	// cooldown also makes blocked callers queue instead of failing fast.
	Cooldown time.Duration `json:"cooldown,omitempty"`

	UseBackoff bool          `json:"use_backoff"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	MaxBackoff time.Duration `json:"max_backoff,omitempty"`
}

// queueTimeoutFactor multiplies the cooldown to get the queue eviction deadline.
const queueTimeoutFactor = 10

// QueueTimeout is how long a queued caller waits before eviction.
func (c Config) QueueTimeout() time.Duration {
	return queueTimeoutFactor * c.Cooldown
}

// Validate checks the config for values the engine cannot honor.
func (c Config) Validate() error {
	switch {
	case c.MaxRequests <= 0:
		return fmt.Errorf("max_requests must be positive, got %d", c.MaxRequests)
	case c.Window <= 0:
		return fmt.Errorf("window must be positive, got %s", c.Window)
	case c.MaxConcurrent < 0:
		return fmt.Errorf("max_concurrent must not be negative, got %d", c.MaxConcurrent)
	case c.Cooldown < 0:
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	if c.UseBackoff {
		if c.Backoff <= 0 {
			return fmt.Errorf("backoff must be positive when use_backoff is set")
		}
		if c.MaxBackoff < c.Backoff {
			return fmt.Errorf("max_backoff (%s) must be at least backoff (%s)", c.MaxBackoff, c.Backoff)
		}
	}
	return nil
}

// DefaultConfigs returns the built-in quota table. Each call returns a fresh map.
func DefaultConfigs() map[Service]Config {
	return map[Service]Config{
		ServiceAICompletion: {
			MaxRequests:   50,
			Window:        time.Minute,
			MaxConcurrent: 5,
			UseBackoff:    true,
			Backoff:       time.Second,
			MaxBackoff:    30 * time.Second,
		},
		ServicePlatformA: {
			MaxRequests:   50,
			Window:        15 * time.Minute,
			MaxConcurrent: 1,
			Cooldown:      2 * time.Second,
			UseBackoff:    true,
			Backoff:       2 * time.Second,
			MaxBackoff:    time.Minute,
		},
		ServicePlatformB: {
			MaxRequests:   100,
			Window:        time.Hour,
			MaxConcurrent: 2,
			Cooldown:      time.Second,
			UseBackoff:    true,
			Backoff:       2 * time.Second,
			MaxBackoff:    time.Minute,
		},
		ServicePlatformC: {
			MaxRequests:   25,
			Window:        time.Hour,
			MaxConcurrent: 1,
			Cooldown:      5 * time.Second,
			UseBackoff:    true,
			Backoff:       5 * time.Second,
			MaxBackoff:    2 * time.Minute,
		},
		ServiceFeedFetch: {
			MaxRequests:   60,
			Window:        time.Minute,
			MaxConcurrent: 10,
		},
		ServiceNewsAPI: {
			MaxRequests:   100,
			Window:        24 * time.Hour,
			MaxConcurrent: 2,
			UseBackoff:    true,
			Backoff:       time.Second,
			MaxBackoff:    30 * time.Second,
		},
	}
}

// ValidateAll validates every entry, reporting the first offending service.
func ValidateAll(configs map[Service]Config) error {
	for _, svc := range SortedServices(configs) {
		if err := configs[svc].Validate(); err != nil {
			return errors.InvalidInput(fmt.Sprintf("invalid limits for %s: %v", svc, err),
				errors.WithService(string(svc)))
		}
	}
	return nil
}

// SortedServices returns the keys of configs in lexical order.
func SortedServices(configs map[Service]Config) []Service {
	out := make([]Service, 0, len(configs))
	for svc := range configs {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
