// Package metrics exposes engine activity and state to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/ratelimit"
)

// Metrics records engine events. It implements ratelimit.Observer.
type Metrics struct {
	AcquireTotal  *prometheus.CounterVec
	AcquireWait   *prometheus.HistogramVec
	RetriesTotal  *prometheus.CounterVec
	RetryDelay    *prometheus.HistogramVec
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	AdminRequests *prometheus.CounterVec
	AdminDuration *prometheus.HistogramVec
}

var _ ratelimit.Observer = (*Metrics)(nil)

var waitBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_acquire_total",
				Help: "Acquisitions by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		AcquireWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_acquire_wait_seconds",
				Help:    "Time spent acquiring a token and slot, including queueing",
				Buckets: waitBuckets,
			},
			[]string{"service"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_retries_total",
				Help: "Backoff retries scheduled after rate-limited attempts",
			},
			[]string{"service"},
		),
		RetryDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_retry_delay_seconds",
				Help:    "Backoff delay before each retry, jitter included",
				Buckets: waitBuckets,
			},
			[]string{"service"},
		),
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_calls_total",
				Help: "Units of work executed by service and result",
			},
			[]string{"service", "result"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_call_duration_seconds",
				Help:    "Duration of each unit of work while holding a slot",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		AdminRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotagate_admin_requests_total",
				Help: "Admin HTTP requests by route, method and code",
			},
			[]string{"route", "method", "code"},
		),
		AdminDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotagate_admin_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	reg.MustRegister(
		m.AcquireTotal, m.AcquireWait,
		m.RetriesTotal, m.RetryDelay,
		m.CallsTotal, m.CallDuration,
		m.AdminRequests, m.AdminDuration,
	)
	return m
}

// ObserveAcquire implements ratelimit.Observer.
func (m *Metrics) ObserveAcquire(service ratelimit.Service, outcome ratelimit.AcquireOutcome, waited time.Duration) {
	m.AcquireTotal.WithLabelValues(string(service), string(outcome)).Inc()
	m.AcquireWait.WithLabelValues(string(service)).Observe(waited.Seconds())
}

// ObserveRetry implements ratelimit.Observer.
func (m *Metrics) ObserveRetry(service ratelimit.Service, _ int, delay time.Duration, _ error) {
	m.RetriesTotal.WithLabelValues(string(service)).Inc()
	m.RetryDelay.WithLabelValues(string(service)).Observe(delay.Seconds())
}

// ObserveCall implements ratelimit.Observer.
func (m *Metrics) ObserveCall(service ratelimit.Service, err error, duration time.Duration) {
	m.CallsTotal.WithLabelValues(string(service), ResultLabel(err)).Inc()
	m.CallDuration.WithLabelValues(string(service)).Observe(duration.Seconds())
}

// ResultLabel maps a work error to a low-cardinality label: "ok", the
// lower-cased error code, or "work_error" for unstructured errors.
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errors.Code(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "work_error"
}

// Middleware records per-request metrics for the admin router, labelled by
// the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}

		m.AdminDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		m.AdminRequests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
	})
}
