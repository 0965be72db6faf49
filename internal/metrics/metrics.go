// Package metrics exposes cache and provider accounting counters to
// Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	cacheLookups    *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	credits         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "apicache_cache_lookups_total",
			Help: "Cache lookups by endpoint and result.",
		}, []string{"endpoint", "result"}),
		upstreamCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "apicache_upstream_calls_total",
			Help: "Provider calls by service, endpoint and outcome.",
		}, []string{"service", "endpoint", "outcome"}),
		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apicache_upstream_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service", "endpoint"}),
		credits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "apicache_provider_credits_total",
			Help: "Provider credits consumed by service and unit category.",
		}, []string{"service", "category"}),
	}
}

func (m *Metrics) CacheLookup(endpoint string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) UpstreamCall(service, endpoint string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.upstreamCalls.WithLabelValues(service, endpoint, outcome).Inc()
	m.upstreamLatency.WithLabelValues(service, endpoint).Observe(d.Seconds())
}

func (m *Metrics) Credits(service, category string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.credits.WithLabelValues(service, category).Add(amount)
}
