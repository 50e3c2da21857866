// Package metrics holds the Prometheus collectors of the queue service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the queue collectors.
	Registry = prometheus.NewRegistry()

	// StepsRun counts dispatcher steps executed, by dispatcher and result.
	StepsRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evan",
			Subsystem: "queue",
			Name:      "steps_total",
			Help:      "Total number of dispatcher steps run.",
		},
		[]string{"dispatcher", "result"},
	)

	// StepDuration observes how long dispatcher steps take.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evan",
			Subsystem: "queue",
			Name:      "step_duration_seconds",
			Help:      "Duration of dispatcher steps.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"dispatcher"},
	)

	// EntriesFinished counts entries that ran their whole sequence.
	EntriesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evan",
			Subsystem: "queue",
			Name:      "entries_finished_total",
			Help:      "Total number of queue entries synced to the end.",
		},
		[]string{"dispatcher"},
	)

	// Entries is the number of entries waiting in the queue.
	Entries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "evan",
			Subsystem: "queue",
			Name:      "entries",
			Help:      "Current number of queued entries.",
		},
	)

	// EventsSent counts events published to the message broker, by kind and result.
	EventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evan",
			Subsystem: "broker",
			Name:      "events_total",
			Help:      "Total number of queue events published.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	Registry.MustRegister(StepsRun, StepDuration, EntriesFinished, Entries, EventsSent)
}

// Handler serves the collectors of Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
