package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingNotifier struct {
	name   string
	err    error
	closed bool

	mutex  sync.Mutex
	events []models.AlertEvent
}

func (n *recordingNotifier) Name() string {
	return n.name
}

func (n *recordingNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.events = append(n.events, *event)
	return n.err
}

func (n *recordingNotifier) Close() error {
	n.closed = true
	return nil
}

func event(level models.AlertLevel) models.AlertEvent {
	return models.AlertEvent{
		EventID: "e-" + string(level),
		Kind:    models.EventFired,
		Alert:   models.Alert{RuleName: "r", Subject: "s", Level: level},
	}
}

func TestDispatchFiltersByLevel(t *testing.T) {
	am := NewAlertManager(zaptest.NewLogger(t), time.Second)
	all := &recordingNotifier{name: "all"}
	critical := &recordingNotifier{name: "critical"}
	am.AddNotifier(all, "")
	am.AddNotifier(critical, models.AlertLevelCritical)

	err := am.Dispatch(context.Background(), []models.AlertEvent{
		event(models.AlertLevelInfo),
		event(models.AlertLevelWarning),
		event(models.AlertLevelCritical),
	})
	require.NoError(t, err)

	assert.Len(t, all.events, 3)
	require.Len(t, critical.events, 1)
	assert.Equal(t, models.AlertLevelCritical, critical.events[0].Level)
	assert.Equal(t, []string{"all", "critical"}, am.Notifiers())
}

func TestDispatchContinuesPastFailingNotifier(t *testing.T) {
	am := NewAlertManager(zaptest.NewLogger(t), time.Second)
	broken := &recordingNotifier{name: "broken", err: errors.New("connection refused")}
	healthy := &recordingNotifier{name: "healthy"}
	am.AddNotifier(broken, "")
	am.AddNotifier(healthy, "")

	err := am.Dispatch(context.Background(), []models.AlertEvent{
		event(models.AlertLevelWarning),
		event(models.AlertLevelCritical),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: connection refused")
	assert.Len(t, healthy.events, 2)
	assert.Len(t, broken.events, 2)
}

func TestCloseClosesNotifiers(t *testing.T) {
	am := NewAlertManager(zaptest.NewLogger(t), time.Second)
	n := &recordingNotifier{name: "n"}
	am.AddNotifier(n, "")

	require.NoError(t, am.Close())
	assert.True(t, n.closed)
}

type blockingNotifier struct{}

func (blockingNotifier) Name() string {
	return "blocking"
}

func (blockingNotifier) Notify(ctx context.Context, _ *models.AlertEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

type panickingNotifier struct{}

func (panickingNotifier) Name() string {
	return "panicking"
}

func (panickingNotifier) Notify(context.Context, *models.AlertEvent) error {
	panic("template exploded")
}

func TestDispatchBoundsHungNotifier(t *testing.T) {
	am := NewAlertManager(zaptest.NewLogger(t), 20*time.Millisecond)
	healthy := &recordingNotifier{name: "healthy"}
	am.AddNotifier(blockingNotifier{}, "")
	am.AddNotifier(healthy, "")

	done := make(chan error, 1)
	go func() {
		done <- am.Dispatch(context.Background(), []models.AlertEvent{event(models.AlertLevelCritical)})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "blocking:")
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch did not return while a notifier hung")
	}
	assert.Len(t, healthy.events, 1)
}

func TestDispatchRecoversNotifierPanic(t *testing.T) {
	am := NewAlertManager(zaptest.NewLogger(t), time.Second)
	healthy := &recordingNotifier{name: "healthy"}
	am.AddNotifier(panickingNotifier{}, "")
	am.AddNotifier(healthy, "")

	var err error
	require.NotPanics(t, func() {
		err = am.Dispatch(context.Background(), []models.AlertEvent{
			event(models.AlertLevelWarning),
			event(models.AlertLevelCritical),
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicking: notifier panicked: template exploded")
	assert.Len(t, healthy.events, 2)
}
