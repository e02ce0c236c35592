package alert

import (
	"testing"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(ruleName, subject, observed string) models.Alert {
	m := metric("leverage", observed)
	return models.Alert{
		RuleName:  ruleName,
		Subject:   subject,
		Metric:    "leverage",
		Operator:  models.OperatorGT,
		Observed:  m.Value,
		Level:     models.AlertLevelCritical,
		Message:   ruleName + " " + observed,
		FirstSeen: m.Timestamp,
		LastSeen:  m.Timestamp,
	}
}

func TestPersistentViolationFiresOnce(t *testing.T) {
	d := NewDeduplicator(5*time.Minute, 0)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var fired []models.AlertEvent
	for i := 0; i < 10; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Second)
		fired = append(fired, d.Observe(now, []models.Alert{candidate("max-leverage", "s1", "12.5")})...)
	}

	require.Len(t, fired, 1)
	assert.Equal(t, models.EventFired, fired[0].Kind)
	assert.NotEmpty(t, fired[0].EventID)
	assert.Equal(t, start, fired[0].FirstSeen)

	active := d.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 10, active[0].OccurrenceCount)
	assert.Equal(t, start, active[0].FirstSeen)
	assert.Equal(t, start.Add(90*time.Second), active[0].LastSeen)
}

func TestViolationAfterSilenceFiresAgain(t *testing.T) {
	d := NewDeduplicator(time.Minute, 0)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := d.Observe(start, []models.Alert{candidate("r", "s", "11")})
	require.Len(t, events, 1)

	// No violation for the silence period.
	resolved := d.Sweep(start.Add(time.Minute))
	require.Len(t, resolved, 1)
	assert.Empty(t, d.Active())

	events = d.Observe(start.Add(2*time.Minute), []models.Alert{candidate("r", "s", "13")})
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFired, events[0].Kind)
	assert.Equal(t, 1, events[0].OccurrenceCount)
	assert.Equal(t, "13", events[0].Observed.String())
}

func TestSilenceWithoutSweepStillRefires(t *testing.T) {
	d := NewDeduplicator(time.Minute, 0)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.Len(t, d.Observe(start, []models.Alert{candidate("r", "s", "11")}), 1)
	events := d.Observe(start.Add(61*time.Second), []models.Alert{candidate("r", "s", "11")})
	require.Len(t, events, 1)
	assert.Equal(t, models.EventFired, events[0].Kind)
}

func TestRenotifyInterval(t *testing.T) {
	d := NewDeduplicator(10*time.Minute, time.Minute)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var kinds []models.EventKind
	for i := 0; i <= 12; i++ {
		now := start.Add(time.Duration(i) * 10 * time.Second)
		for _, e := range d.Observe(now, []models.Alert{candidate("r", "s", "11")}) {
			kinds = append(kinds, e.Kind)
		}
	}

	// Polls at 0s..120s: fired at 0, renotify at 60s and 120s.
	assert.Equal(t, []models.EventKind{models.EventFired, models.EventRenotify, models.EventRenotify}, kinds)
}

func TestDeduplicationIsPerRuleAndSubject(t *testing.T) {
	d := NewDeduplicator(time.Minute, 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := d.Observe(now, []models.Alert{
		candidate("r1", "s1", "11"),
		candidate("r2", "s1", "11"),
		candidate("r1", "s2", "11"),
	})
	assert.Len(t, events, 3)

	events = d.Observe(now.Add(time.Second), []models.Alert{
		candidate("r1", "s1", "11"),
		candidate("r2", "s1", "11"),
		candidate("r1", "s2", "11"),
	})
	assert.Empty(t, events)

	active := d.Active()
	require.Len(t, active, 3)
	assert.Equal(t, models.AlertKey{Rule: "r1", Subject: "s1"}, active[0].Key())
	assert.Equal(t, models.AlertKey{Rule: "r2", Subject: "s1"}, active[1].Key())
	assert.Equal(t, models.AlertKey{Rule: "r1", Subject: "s2"}, active[2].Key())
}

func TestSweepKeepsRecentAlerts(t *testing.T) {
	d := NewDeduplicator(time.Minute, 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d.Observe(now, []models.Alert{candidate("old", "s", "11")})
	d.Observe(now.Add(50*time.Second), []models.Alert{candidate("new", "s", "11")})

	resolved := d.Sweep(now.Add(70 * time.Second))
	require.Len(t, resolved, 1)
	assert.Equal(t, "old", resolved[0].RuleName)

	active := d.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "new", active[0].RuleName)
}

func TestOutOfOrderObservationKeepsLastSeen(t *testing.T) {
	d := NewDeduplicator(5*time.Minute, 0)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.Len(t, d.Observe(base.Add(2*time.Second), []models.Alert{candidate("max-leverage", "s1", "12.5")}), 1)
	assert.Empty(t, d.Observe(base, []models.Alert{candidate("max-leverage", "s1", "13")}))

	active := d.Active()
	require.Len(t, active, 1)
	assert.Equal(t, base.Add(2*time.Second), active[0].LastSeen)
	assert.False(t, active[0].LastSeen.Before(active[0].FirstSeen))
	assert.Equal(t, 2, active[0].OccurrenceCount)
	assert.Equal(t, "13", active[0].Observed.String())
}
