// Package metrics provides Prometheus instrumentation for TrulyChat. It
// exposes counters for message throughput and reconciled events, a gauge for
// the presence count, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesSent counts messages written to the store by this client.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trulychat_messages_sent_total",
		Help: "Total number of messages sent by this client",
	})

	// EventsReconciled counts change events applied to the view model,
	// labeled by outcome: "rendered", "updated", "skipped", "stale".
	EventsReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trulychat_events_reconciled_total",
		Help: "Total change events processed by the reconciler",
	}, []string{"outcome"})

	// PresenceUsers tracks the current presence count of the joined channel.
	PresenceUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trulychat_presence_users",
		Help: "Current number of users present in the joined channel",
	})

	// SendLatency records the store write latency for message sends.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trulychat_send_latency_seconds",
		Help:    "Message store write latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// SweepRemoved counts records removed by the maintenance sweeper,
	// labeled by kind: "presence", "trimmed", "cleared".
	SweepRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trulychat_sweep_removed_total",
		Help: "Total records removed by the maintenance sweeper",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		EventsReconciled,
		PresenceUsers,
		SendLatency,
		SweepRemoved,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
