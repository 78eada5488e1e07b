// Package metrics exposes Prometheus instrumentation for the monitor
// and ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the monitor and ledger update. A
// single instance is shared process-wide via New.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	HashTimeouts    prometheus.Counter
	Rescans         prometheus.Counter
	RecordsPruned   prometheus.Counter
	AlertsRaised    prometheus.Counter
	ListenerErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New builds the collector set on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_change_events_total",
			Help: "Asset change events processed, by event kind.",
		}, []string{"kind"}),
		HashTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestra_hash_timeouts_total",
			Help: "Hash computations aborted for exceeding their time budget.",
		}),
		Rescans: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestra_periodic_rescans_total",
			Help: "Assets re-hashed by the periodic verification scheduler.",
		}),
		RecordsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestra_ledger_records_pruned_total",
			Help: "Evidence records removed by quota pruning.",
		}),
		AlertsRaised: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestra_alerts_raised_total",
			Help: "Alerts raised for integrity concerns.",
		}),
		ListenerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_listener_errors_total",
			Help: "Change-event listener failures, by listener name.",
		}, []string{"listener"}),
		registry: reg,
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
