package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess         = "success"
	outcomeProviderFailure = "provider_failure"
	outcomeExtractionError = "extraction_error"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentguard",
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Poll cycles by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentguard",
			Subsystem: "monitor",
			Name:      "poll_duration_seconds",
			Help:      "Time spent in one poll cycle, provider invocation included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	backoffSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentguard",
			Subsystem: "monitor",
			Name:      "next_poll_delay_seconds",
			Help:      "Delay before the next poll of a subject",
		},
		[]string{"subject"},
	)

	consecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentguard",
			Subsystem: "monitor",
			Name:      "consecutive_failures",
			Help:      "Consecutive provider failures per subject",
		},
		[]string{"subject"},
	)

	activeAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentguard",
			Subsystem: "monitor",
			Name:      "active_alerts",
			Help:      "Currently active alerts per subject",
		},
		[]string{"subject"},
	)
)
