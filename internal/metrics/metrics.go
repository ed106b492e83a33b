// Package metrics exposes the Prometheus instruments the rest of this
// repo's components record against. Instruments are package-level
// singletons registered via promauto, the pattern the pack's prometheus
// consumers use instead of hand-wiring a registry at each call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DroppedEvents counts events dropped from the processor's data queue
	// when it is full (drop-oldest policy).
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobcapture_dropped_events_total",
		Help: "Events dropped due to a full data queue, by listener.",
	}, []string{"listener_id"})

	// QueueDepth reports the current occupancy of the processor's queues.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lobcapture_queue_depth",
		Help: "Current number of items queued, by listener and queue name.",
	}, []string{"listener_id", "queue"})

	// ReconnectsTotal is registered for venue feed reconnects; no code path
	// in this repo increments it, so it stays at zero.
	ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobcapture_venue_reconnects_total",
		Help: "Venue feed reconnect attempts, by listener and platform.",
	}, []string{"listener_id", "platform"})

	// SnapshotsEmittedTotal counts snapshots handed to the sink, labeled by
	// whether they were forward-filled.
	SnapshotsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobcapture_snapshots_emitted_total",
		Help: "Orderbook snapshots emitted to the sink.",
	}, []string{"listener_id", "forward_filled"})

	// SinkFlushDuration observes how long a batch flush to the sink takes.
	SinkFlushDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lobcapture_sink_flush_duration_seconds",
		Help:    "Duration of BatchingSink flush calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"table"})

	// SinkFlushFailuresTotal counts flush attempts that exhausted retries.
	SinkFlushFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lobcapture_sink_flush_failures_total",
		Help: "BatchingSink flush attempts that exhausted retries and were dropped.",
	}, []string{"table"})

	// ListenerState reports each supervisor's current state as a gauge
	// (1 for the active state, 0 otherwise), keyed by listener and state.
	ListenerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lobcapture_listener_state",
		Help: "1 if the listener is currently in this state, else 0.",
	}, []string{"listener_id", "state"})
)
