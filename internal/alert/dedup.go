package alert

import (
	"sort"
	"sync"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/google/uuid"
)

// Deduplicator tracks active alerts per (rule, subject) and decides which
// violations become outward events.
//
// Per rule the state is Inactive until the first violation (emits "fired"),
// Active while violations keep arriving within the silence period (emits
// "renotify" at most once per renotify interval, never if the interval is 0),
// and back to Inactive once the silence period passes with no violation.
type Deduplicator struct {
	silencePeriod    time.Duration
	renotifyInterval time.Duration

	mutex  sync.RWMutex
	active map[models.AlertKey]*trackedAlert
}

type trackedAlert struct {
	alert        models.Alert
	lastNotified time.Time
}

func NewDeduplicator(silencePeriod, renotifyInterval time.Duration) *Deduplicator {
	return &Deduplicator{
		silencePeriod:    silencePeriod,
		renotifyInterval: renotifyInterval,
		active:           make(map[models.AlertKey]*trackedAlert),
	}
}

// Observe records this poll's violations and returns the events to emit.
func (d *Deduplicator) Observe(now time.Time, candidates []models.Alert) []models.AlertEvent {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var events []models.AlertEvent
	for _, candidate := range candidates {
		key := candidate.Key()
		tracked, ok := d.active[key]
		if ok && now.Sub(tracked.alert.LastSeen) >= d.silencePeriod {
			// Went silent between polls; this violation starts a new activation.
			delete(d.active, key)
			ok = false
		}

		if !ok {
			alert := candidate
			alert.FirstSeen = now
			alert.LastSeen = now
			alert.OccurrenceCount = 1
			d.active[key] = &trackedAlert{alert: alert, lastNotified: now}
			events = append(events, newEvent(models.EventFired, alert, now))
			continue
		}

		// An observation stamped earlier than the last one never moves LastSeen back.
		if now.After(tracked.alert.LastSeen) {
			tracked.alert.LastSeen = now
		}
		tracked.alert.OccurrenceCount++
		tracked.alert.Observed = candidate.Observed
		tracked.alert.Message = candidate.Message
		if d.renotifyInterval > 0 && now.Sub(tracked.lastNotified) >= d.renotifyInterval {
			tracked.lastNotified = now
			events = append(events, newEvent(models.EventRenotify, tracked.alert, now))
		}
	}
	return events
}

// Sweep evicts alerts that have seen no violation for the silence period and
// returns them.
func (d *Deduplicator) Sweep(now time.Time) []models.Alert {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var resolved []models.Alert
	for key, tracked := range d.active {
		if now.Sub(tracked.alert.LastSeen) >= d.silencePeriod {
			resolved = append(resolved, tracked.alert)
			delete(d.active, key)
		}
	}
	sortAlerts(resolved)
	return resolved
}

// Active returns a copy of the currently active alerts.
func (d *Deduplicator) Active() []models.Alert {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	alerts := make([]models.Alert, 0, len(d.active))
	for _, tracked := range d.active {
		alerts = append(alerts, tracked.alert)
	}
	sortAlerts(alerts)
	return alerts
}

func newEvent(kind models.EventKind, alert models.Alert, now time.Time) models.AlertEvent {
	return models.AlertEvent{
		EventID:   uuid.NewString(),
		Kind:      kind,
		Alert:     alert,
		EmittedAt: now,
	}
}

func sortAlerts(alerts []models.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Subject != alerts[j].Subject {
			return alerts[i].Subject < alerts[j].Subject
		}
		return alerts[i].RuleName < alerts[j].RuleName
	})
}
