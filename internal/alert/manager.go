package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	alertEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentguard",
			Subsystem: "alerts",
			Name:      "events_total",
			Help:      "Alert events emitted, by kind and level",
		},
		[]string{"kind", "level"},
	)

	notifierFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentguard",
			Subsystem: "alerts",
			Name:      "notifier_failures_total",
			Help:      "Failed deliveries per notifier",
		},
		[]string{"notifier"},
	)
)

// Notifier delivers alert events to one destination. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.AlertEvent) error
}

type route struct {
	notifier Notifier
	minLevel models.AlertLevel
}

// AlertManager fans alert events out to every registered notifier. It is the
// single append-only sink shared by all subject pollers.
type AlertManager struct {
	mutex   sync.RWMutex
	routes  []route
	timeout time.Duration
	logger  *zap.Logger
}

// NewAlertManager bounds every single delivery by timeout. Zero leaves
// deliveries bounded only by the caller's context.
func NewAlertManager(logger *zap.Logger, timeout time.Duration) *AlertManager {
	return &AlertManager{logger: logger, timeout: timeout}
}

// AddNotifier registers n for events at or above minLevel (empty = all levels).
func (am *AlertManager) AddNotifier(n Notifier, minLevel models.AlertLevel) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.routes = append(am.routes, route{notifier: n, minLevel: minLevel})
}

func (am *AlertManager) Notifiers() []string {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	names := make([]string, 0, len(am.routes))
	for _, r := range am.routes {
		names = append(names, r.notifier.Name())
	}
	return names
}

// Dispatch sends every event through every matching notifier. A failing,
// hung or panicking notifier does not stop delivery to the others; all
// failures are returned joined.
func (am *AlertManager) Dispatch(ctx context.Context, events []models.AlertEvent) error {
	am.mutex.RLock()
	routes := am.routes
	am.mutex.RUnlock()

	var errs []error
	for i := range events {
		event := &events[i]
		alertEventsTotal.WithLabelValues(string(event.Kind), string(event.Level)).Inc()

		for _, r := range routes {
			if !event.Level.AtLeast(r.minLevel) {
				continue
			}
			if err := am.deliver(ctx, r.notifier, event); err != nil {
				notifierFailuresTotal.WithLabelValues(r.notifier.Name()).Inc()
				am.logger.Error("Failed to deliver alert event",
					zap.String("notifier", r.notifier.Name()),
					zap.String("event_id", event.EventID),
					zap.String("rule", event.RuleName),
					zap.String("subject", event.Subject),
					zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", r.notifier.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (am *AlertManager) deliver(ctx context.Context, n Notifier, event *models.AlertEvent) (err error) {
	if am.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, am.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return n.Notify(ctx, event)
}

// Close releases notifiers that hold connections.
func (am *AlertManager) Close() error {
	am.mutex.RLock()
	defer am.mutex.RUnlock()

	var errs []error
	for _, r := range am.routes {
		if c, ok := r.notifier.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", r.notifier.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
