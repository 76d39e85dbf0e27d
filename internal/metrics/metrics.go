// Package metrics defines the relay's Prometheus metrics and exposes the
// scrape handler mounted at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SandboxesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sandboxes_created_total",
			Help: "Total number of sandboxes created, by provider type",
		},
		[]string{"provider"},
	)

	SandboxesTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sandboxes_terminated_total",
			Help: "Total number of sandboxes terminated, by provider type",
		},
		[]string{"provider"},
	)

	SandboxProvisionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sandbox_provision_failures_total",
			Help: "Total number of sandbox provisioning failures, by provider type",
		},
		[]string{"provider"},
	)

	JournalAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_journal_append_duration_seconds",
			Help:    "Latency of appending one event to the session journal",
			Buckets: prometheus.DefBuckets,
		},
	)

	BroadcasterDroppedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcaster_dropped_events_total",
			Help: "Total number of journal events dropped from a live WebSocket fan-out due to a slow subscriber",
		},
		[]string{"session_id"},
	)

	ActiveWebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_websocket_connections",
			Help: "Number of currently connected session WebSocket clients",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SandboxesCreatedTotal,
		SandboxesTerminatedTotal,
		SandboxProvisionFailuresTotal,
		JournalAppendDuration,
		BroadcasterDroppedEventsTotal,
		ActiveWebSocketConnections,
	)
}

// Handler returns the HTTP handler for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}
