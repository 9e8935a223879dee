// Package metrics exposes Prometheus instrumentation for provider calls and
// cache lookups. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "defi_tokens"

type Recorder struct {
	registry      *prometheus.Registry
	providerCalls *prometheus.CounterVec
	providerTime  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Provider calls by outcome.",
			},
			[]string{"provider", "operation", "status"},
		),
		providerTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Provider call latency in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "operation"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result (hit, miss, shared).",
			},
			[]string{"cache", "result"},
		),
	}
	r.registry.MustRegister(r.providerCalls, r.providerTime, r.cacheLookups)
	return r
}

// ObserveProvider records one provider call.
func (r *Recorder) ObserveProvider(provider, operation string, started time.Time, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.providerCalls.WithLabelValues(provider, operation, status).Inc()
	r.providerTime.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

// CacheLookup satisfies cache.Observer.
func (r *Recorder) CacheLookup(cache, result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
