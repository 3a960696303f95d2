// Package metrics exposes Prometheus instrumentation for the reconciliation
// engine. Label cardinality is kept deliberately small: event kind and
// failure reason are closed enums, and thread ids are never used as labels.
// All collectors are safe for concurrent use.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Merges counts reconciliation passes (one per input change).
	Merges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "threadsync_merges_total",
			Help: "Total number of reconciliation merges performed.",
		},
	)

	// RealtimeEvents counts realtime deliveries by kind, duplicates included.
	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadsync_realtime_events_total",
			Help: "Total number of realtime change events received.",
		},
		[]string{"kind"},
	)

	// Rollbacks counts optimistic mutations rolled back (failed or timed out).
	Rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadsync_rollbacks_total",
			Help: "Total number of optimistic mutations rolled back.",
		},
		[]string{"reason"}, // "failed" | "timeout"
	)

	// FetchFailures counts historical page fetches that gave up.
	FetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "threadsync_fetch_failures_total",
			Help: "Total number of failed historical page fetches.",
		},
	)

	// PendingMutations gauges currently unresolved optimistic writes across
	// all open thread views.
	PendingMutations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "threadsync_pending_mutations",
			Help: "Current number of unresolved optimistic mutations.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Merges,
		RealtimeEvents,
		Rollbacks,
		FetchFailures,
		PendingMutations,
	)
}
