package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "INFO"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

func (l AlertLevel) Valid() bool {
	return l.Rank() > 0
}

// Rank orders levels by severity; unknown levels rank 0.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertLevelInfo:
		return 1
	case AlertLevelWarning:
		return 2
	case AlertLevelCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as min. An empty min admits everything.
func (l AlertLevel) AtLeast(min AlertLevel) bool {
	if min == "" {
		return true
	}
	return l.Rank() >= min.Rank()
}

// Alert is a rule violation for one subject.
type Alert struct {
	RuleName        string          `json:"rule_name" gorm:"index"`
	Subject         string          `json:"subject" gorm:"index"`
	Metric          string          `json:"metric"`
	Operator        Operator        `json:"operator"`
	Observed        decimal.Decimal `json:"observed" gorm:"type:numeric"`
	Threshold       decimal.Decimal `json:"threshold" gorm:"type:numeric"`
	Level           AlertLevel      `json:"level" gorm:"index"`
	Message         string          `json:"message"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastSeen        time.Time       `json:"last_seen"`
	OccurrenceCount int             `json:"occurrence_count"`
}

// Key identifies the (rule, subject) pair an alert belongs to.
func (a *Alert) Key() AlertKey {
	return AlertKey{Rule: a.RuleName, Subject: a.Subject}
}

type AlertKey struct {
	Rule    string
	Subject string
}

type EventKind string

const (
	EventFired    EventKind = "fired"
	EventRenotify EventKind = "renotify"
)

// AlertEvent is what gets delivered to notifiers and stored in the history.
type AlertEvent struct {
	gorm.Model `json:"-"`
	EventID    string    `json:"event_id" gorm:"uniqueIndex;not null"`
	Kind       EventKind `json:"kind" gorm:"index"`
	Alert      `gorm:"embedded"`
	EmittedAt  time.Time `json:"emitted_at" gorm:"index"`
}
