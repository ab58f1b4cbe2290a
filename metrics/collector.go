package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinayprograms/quotagate/ratelimit"
)

// StatusSource is the read side of the engine the collector needs.
type StatusSource interface {
	StatusAll() map[ratelimit.Service]ratelimit.Status
}

// StatusCollector reports live bucket state as gauges at scrape time.
type StatusCollector struct {
	source StatusSource

	available     *prometheus.Desc
	capacity      *prometheus.Desc
	inFlight      *prometheus.Desc
	maxConcurrent *prometheus.Desc
	queueLength   *prometheus.Desc
}

var _ prometheus.Collector = (*StatusCollector)(nil)

// NewStatusCollector creates a collector over source.
func NewStatusCollector(source StatusSource) *StatusCollector {
	labels := []string{"service"}
	return &StatusCollector{
		source:        source,
		available:     prometheus.NewDesc("quotagate_tokens_available", "Whole tokens currently available", labels, nil),
		capacity:      prometheus.NewDesc("quotagate_tokens_max", "Bucket capacity per window", labels, nil),
		inFlight:      prometheus.NewDesc("quotagate_in_flight", "Calls currently holding a slot", labels, nil),
		maxConcurrent: prometheus.NewDesc("quotagate_max_concurrent", "Slot cap, 0 when unlimited", labels, nil),
		queueLength:   prometheus.NewDesc("quotagate_queue_length", "Callers waiting in the FIFO queue", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.available
	ch <- c.capacity
	ch <- c.inFlight
	ch <- c.maxConcurrent
	ch <- c.queueLength
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	for svc, st := range c.source.StatusAll() {
		name := string(svc)
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(st.AvailableTokens), name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.MaxTokens), name)
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(st.InFlight), name)
		ch <- prometheus.MustNewConstMetric(c.maxConcurrent, prometheus.GaugeValue, float64(st.MaxConcurrent), name)
		ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(st.QueueLength), name)
	}
}
