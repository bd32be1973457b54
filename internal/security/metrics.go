package security

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Security events persisted, by outcome",
		},
		[]string{"outcome"},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_events_dropped_total",
			Help: "Security events dropped because the queue was full",
		},
	)

	eventsFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_events_flagged_total",
			Help: "Security log entries flagged for manual review",
		},
	)

	eventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_events_persist_errors_total",
			Help: "Security events that could not be written",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "security_queue_depth",
			Help: "Security events waiting for a worker",
		},
	)
)
