// Package metrics owns the Prometheus collectors exported on /metrics.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hazine"

// Outcome labels shared by the counters below.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeSuccess = "success"
	OutcomeStale   = "stale"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rateLookups   *prometheus.CounterVec
	rateAge       prometheus.Gauge
	mutations     *prometheus.CounterVec
	events        *prometheus.CounterVec
	reportLookups *prometheus.CounterVec
	rateLimited   prometheus.Counter
}

// New registers every collector, plus the Go runtime and process
// collectors, on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_rate_lookups_total",
			Help:      "Exchange rate cache lookups by outcome (hit, success, stale, error).",
		}, []string{"outcome"}),
		rateAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchange_rate_fetched_timestamp_seconds",
			Help:      "Unix time of the last successful upstream rate fetch.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expense_mutations_total",
			Help:      "Successful expense writes by operation.",
		}, []string{"operation"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expense_events_total",
			Help:      "Expense change events by publish outcome.",
		}, []string{"outcome"}),
		reportLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_lookups_total",
			Help:      "Report summary cache lookups by outcome (hit, miss).",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.rateLookups,
		m.rateAge,
		m.mutations,
		m.events,
		m.reportLookups,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, statusLabel(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) RateLookup(outcome string) {
	if m == nil {
		return
	}
	m.rateLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateFetched(at time.Time) {
	if m == nil {
		return
	}
	m.rateAge.Set(float64(at.Unix()))
}

func (m *Metrics) ExpenseMutation(op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}

func (m *Metrics) EventPublished(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReportLookup(outcome string) {
	if m == nil {
		return
	}
	m.reportLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
