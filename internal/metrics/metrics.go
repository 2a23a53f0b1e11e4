// Package metrics holds the Prometheus instrumentation for the chat service.
//
// All methods are safe on a nil *Metrics, so components can be built without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "support_chat"

type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	ProviderRequests   *prometheus.CounterVec
	ProviderLatency    *prometheus.HistogramVec
	Escalations        *prometheus.CounterVec
	FilterActions      *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the metrics with reg. Pass prometheus.NewRegistry() in tests
// to avoid duplicate registration against the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AdmissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome and deny reason.",
		}, []string{"outcome", "reason"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Upstream model calls by provider and result.",
		}, []string{"provider", "result"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Upstream model call latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"provider"}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Operator hand-offs by source.",
		}, []string{"source"}),
		FilterActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "actions_total",
			Help:      "Content filter interventions by action.",
		}, []string{"action"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveAdmission(allowed bool, reason string) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.AdmissionDecisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) ObserveProvider(provider, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveEscalation(source string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveFilter(action string) {
	if m == nil {
		return
	}
	m.FilterActions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
