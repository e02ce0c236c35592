package models

import "time"

type HealthKind string

const (
	HealthProviderUnavailable HealthKind = "provider_unavailable"
	HealthProviderTimeout     HealthKind = "provider_timeout"
	HealthMalformedResponse   HealthKind = "malformed_response"
	HealthExtractionError     HealthKind = "extraction_error"
	HealthRecovered           HealthKind = "recovered"
)

// HealthEvent reports a problem (or recovery) polling a subject. These never
// reach alert notifiers.
type HealthEvent struct {
	Subject             string     `json:"subject"`
	Kind                HealthKind `json:"kind"`
	Error               string     `json:"error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	NextAttempt         time.Time  `json:"next_attempt"`
	Timestamp           time.Time  `json:"timestamp"`
}

// SubjectStatus is a point-in-time view of one monitored subject.
type SubjectStatus struct {
	Subject             string       `json:"subject"`
	Provider            string       `json:"provider"`
	LastPoll            time.Time    `json:"last_poll"`
	LastSuccess         time.Time    `json:"last_success"`
	NextPoll            time.Time    `json:"next_poll"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	LastHealth          *HealthEvent `json:"last_health,omitempty"`
	Metrics             []Metric     `json:"metrics"`
	ActiveAlerts        []Alert      `json:"active_alerts"`
}
