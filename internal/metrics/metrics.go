// Package metrics exposes Prometheus metrics for one server. Each server owns its
// own registry so servers of a multi-server can be scraped independently.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
)

const namespace = "kettle"

// Unmatched reasons
const (
	ReasonNoMatch     = "no_match"
	ReasonDecodeError = "decode_error"
)

// Metrics records lifecycle and routing metrics. It implements lifecycle.Observer.
type Metrics struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	active      *prometheus.GaugeVec
	outcomes    *prometheus.CounterVec
	disconnects *prometheus.CounterVec
	unmatched   *prometheus.CounterVec
}

// New creates the metrics of the server called name on a fresh registry
func New(name string) *Metrics {
	labels := prometheus.Labels{"server": name}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "lifecycle_transitions_total",
			Help:        "Lifecycle state transitions by transport kind and target state.",
			ConstLabels: labels,
		}, []string{"kind", "state"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "active_contexts",
			Help:        "Bound lifecycle contexts that have not ended yet.",
			ConstLabels: labels,
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "handler_outcomes_total",
			Help:        "Handler outcomes delivered to clients.",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "disconnects_total",
			Help:        "Contexts destroyed by a transport disconnect.",
			ConstLabels: labels,
		}, []string{"kind"}),
		unmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "unmatched_requests_total",
			Help:        "Requests that did not resolve to a route.",
			ConstLabels: labels,
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.transitions, m.active, m.outcomes, m.disconnects, m.unmatched,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Transition implements lifecycle.Observer
func (m *Metrics) Transition(c *lifecycle.Context, from, to lifecycle.State) {
	kind := string(c.Kind())
	m.transitions.WithLabelValues(kind, to.String()).Inc()

	switch to {
	case lifecycle.StateBound:
		m.active.WithLabelValues(kind).Inc()
	case lifecycle.StateSuccess, lifecycle.StateError:
		m.outcomes.WithLabelValues(kind, to.String()).Inc()
	case lifecycle.StateEnded:
		if from != lifecycle.StateCreated {
			m.active.WithLabelValues(kind).Dec()
		}
		if c.Disconnected() {
			m.disconnects.WithLabelValues(kind).Inc()
		}
	}
}

// Unmatched counts a request that did not resolve to a route
func (m *Metrics) Unmatched(reason string) {
	m.unmatched.WithLabelValues(reason).Inc()
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
