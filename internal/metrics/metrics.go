// Package metrics holds the Prometheus collectors motorpool exports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a set of collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Transitions      *prometheus.CounterVec // by destination status
	Conflicts        *prometheus.CounterVec // lost races, by operation
	Reservations     *prometheus.CounterVec // by result: reserved, unavailable
	DeliveryFailures *prometheus.CounterVec // by kind: send, edit, delete
	Reminders        prometheus.Counter
	TrackedRequests  prometheus.Gauge
	PendingTimers    prometheus.Gauge
	EventsPublished  *prometheus.CounterVec // by result: ok, error
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motorpool",
			Name:      "request_transitions_total",
			Help:      "Request status transitions, by destination status.",
		}, []string{"status"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motorpool",
			Name:      "workflow_conflicts_total",
			Help:      "Operations rejected because another actor got there first.",
		}, []string{"operation"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motorpool",
			Name:      "vehicle_reservations_total",
			Help:      "Vehicle reservation attempts, by result.",
		}, []string{"result"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motorpool",
			Name:      "notification_failures_total",
			Help:      "Chat deliveries that failed, by kind.",
		}, []string{"kind"}),
		Reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "motorpool",
			Name:      "claim_reminders_total",
			Help:      "Claim reminders fired for requests nobody picked up.",
		}),
		TrackedRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "motorpool",
			Name:      "registry_requests",
			Help:      "Requests currently tracked in the in-memory registry.",
		}),
		PendingTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "motorpool",
			Name:      "scheduler_pending_timers",
			Help:      "Armed one-shot timers.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "motorpool",
			Name:      "events_published_total",
			Help:      "Lifecycle events published, by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		m.Transitions,
		m.Conflicts,
		m.Reservations,
		m.DeliveryFailures,
		m.Reminders,
		m.TrackedRequests,
		m.PendingTimers,
		m.EventsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// OrNew returns m, or a fresh unexported set when m is nil, so components
// can record unconditionally.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New()
}
