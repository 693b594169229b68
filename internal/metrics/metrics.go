// Package metrics exposes Prometheus collectors for the session and slot
// workflows and for HTTP request latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic_scheduler"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	sessionsIssued   prometheus.Counter
	sessionsRenewed  prometheus.Counter
	renewalFailures  *prometheus.CounterVec
	sessionsRevoked  *prometheus.CounterVec
	slotGenerations  prometheus.Counter
	slotsCreated     prometheus.Counter
	slotTransitions  *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "issued_total",
			Help:      "Sessions issued at login.",
		}),
		sessionsRenewed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "renewed_total",
			Help:      "Successful renewal token rotations.",
		}),
		renewalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "renewal_failures_total",
			Help:      "Rejected renewals by error kind.",
		}, []string{"kind"}),
		sessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "revoked_total",
			Help:      "Sessions revoked by reason.",
		}, []string{"reason"}),
		slotGenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "generations_total",
			Help:      "Completed availability regenerations.",
		}),
		slotsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "created_total",
			Help:      "Slots inserted by regenerations.",
		}),
		slotTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "transitions_total",
			Help:      "Reserve and release attempts by outcome.",
		}, []string{"action", "outcome"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsIssued,
		m.sessionsRenewed,
		m.renewalFailures,
		m.sessionsRevoked,
		m.slotGenerations,
		m.slotsCreated,
		m.slotTransitions,
		m.requestDurations,
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionIssued() {
	m.sessionsIssued.Inc()
}

func (m *Metrics) SessionRenewed() {
	m.sessionsRenewed.Inc()
}

func (m *Metrics) SessionRenewalFailed(kind string) {
	m.renewalFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionRevoked(reason string) {
	m.sessionsRevoked.WithLabelValues(reason).Inc()
}

func (m *Metrics) SlotsGenerated(created int) {
	m.slotGenerations.Inc()
	m.slotsCreated.Add(float64(created))
}

// SlotTransition counts a reserve or release attempt. outcome is "ok" or an
// error kind.
func (m *Metrics) SlotTransition(action, outcome string) {
	m.slotTransitions.WithLabelValues(action, outcome).Inc()
}

// ObserveRequest records the latency of one HTTP request. route should be the
// matched pattern, not the raw path, to bound cardinality.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requestDurations.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
