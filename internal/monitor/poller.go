package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentguard/internal/alert"
	"github.com/agentguard/internal/datasource"
	"github.com/agentguard/internal/extract"
	"github.com/agentguard/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type MetricExtractor interface {
	Extract(p *datasource.Payload) ([]models.Metric, error)
}

// EventSink receives alert events. *alert.AlertManager is the production sink.
type EventSink interface {
	Dispatch(ctx context.Context, events []models.AlertEvent) error
}

// CycleResult describes one completed poll cycle.
type CycleResult struct {
	Subject  string
	Metrics  []models.Metric
	Events   []models.AlertEvent
	Resolved []models.Alert
	Err      error
	Wait     time.Duration
}

type pollerStats struct {
	cycles             uint64
	providerFailures   uint64
	extractionFailures uint64
	eventsEmitted      uint64
	processingTime     time.Duration
}

// Poller runs the poll loop for one subject. Its state is private to the
// subject; only the rule set and the sink are shared with other pollers.
type Poller struct {
	subject   string
	provider  datasource.Provider
	extractor MetricExtractor
	rules     *alert.RuleSet
	evaluator *alert.RuleEvaluator
	dedup     *alert.Deduplicator
	sink      EventSink
	interval  time.Duration
	timeout   time.Duration
	backoff   Backoff
	sem       *semaphore.Weighted
	logger    *zap.Logger
	now       func() time.Time

	// cycle serializes Poll so on-demand polls never overlap scheduled ones.
	cycle sync.Mutex

	mutex    sync.RWMutex
	failures int
	status   models.SubjectStatus
	stats    pollerStats
}

func (p *Poller) Subject() string {
	return p.subject
}

// Run polls until ctx is cancelled. Cancellation is checked between cycles; a
// provider call already in flight is allowed to finish (it is bounded by the
// timeout) and its results are delivered before the loop exits.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Poll loop started", zap.Duration("interval", p.interval))
	defer p.logger.Info("Poll loop stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		result := p.Poll(ctx)

		timer := time.NewTimer(result.Wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Poll performs exactly one cycle: fetch, extract, evaluate, deduplicate,
// dispatch. It never returns early because of cancellation once the provider
// has been invoked. Concurrent calls for the same subject run one after another.
func (p *Poller) Poll(ctx context.Context) (result CycleResult) {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := p.now()
	result.Subject = p.subject

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("poll cycle panicked: %v", r)
			p.logger.Error("Recovered from panic in poll cycle", zap.Any("panic", r))
			result = p.providerFailed(start, newPanicError(p, err))
		}
		elapsed := p.now().Sub(start)
		pollDuration.WithLabelValues(p.subject).Observe(elapsed.Seconds())
		backoffSeconds.WithLabelValues(p.subject).Set(result.Wait.Seconds())

		p.mutex.Lock()
		p.stats.cycles++
		p.stats.processingTime += elapsed
		p.stats.eventsEmitted += uint64(len(result.Events))
		p.status.NextPoll = start.Add(elapsed).Add(result.Wait)
		p.mutex.Unlock()
	}()

	// Detached so that stopping the monitor cannot cut an invocation short.
	callCtx := context.WithoutCancel(ctx)
	payload, err := p.fetch(ctx, callCtx)
	if errors.Is(err, errStopping) {
		return CycleResult{Subject: p.subject, Err: err, Wait: p.interval}
	}
	if err != nil {
		return p.providerFailed(start, err)
	}

	metrics, err := p.extractor.Extract(payload)
	if err != nil {
		return p.extractionFailed(start, err)
	}

	now := p.now()
	candidates := p.evaluator.Evaluate(p.subject, metrics, p.rules.Rules())
	events := p.dedup.Observe(now, candidates)
	resolved := p.dedup.Sweep(now)
	for _, a := range resolved {
		p.logger.Info("Alert resolved after silence period",
			zap.String("rule", a.RuleName),
			zap.Int("occurrences", a.OccurrenceCount),
			zap.Time("first_seen", a.FirstSeen),
			zap.Time("last_seen", a.LastSeen))
	}

	var dispatchErr error
	if len(events) > 0 {
		dispatchErr = p.sink.Dispatch(callCtx, events)
	}

	p.succeeded(start, metrics)
	pollsTotal.WithLabelValues(p.subject, outcomeSuccess).Inc()

	return CycleResult{
		Subject:  p.subject,
		Metrics:  metrics,
		Events:   events,
		Resolved: resolved,
		Err:      dispatchErr,
		Wait:     p.interval,
	}
}

var errStopping = errors.New("monitor stopping")

// fetch waits for an invocation slot (giving up only if ctx is cancelled) and
// then calls the provider with callCtx.
func (p *Poller) fetch(ctx, callCtx context.Context) (*datasource.Payload, error) {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, errStopping
		}
		defer p.sem.Release(1)
	}
	return p.provider.Fetch(callCtx, p.subject, p.timeout)
}

func (p *Poller) providerFailed(start time.Time, err error) CycleResult {
	p.mutex.Lock()
	p.failures++
	failures := p.failures
	p.stats.providerFailures++
	p.mutex.Unlock()

	wait := p.backoff.Delay(failures)
	health := models.HealthEvent{
		Subject:             p.subject,
		Kind:                healthKind(err),
		Error:               err.Error(),
		ConsecutiveFailures: failures,
		NextAttempt:         p.now().Add(wait),
		Timestamp:           p.now(),
	}
	p.recordHealth(start, health, failures)

	p.logger.Warn("Provider invocation failed",
		zap.String("kind", string(health.Kind)),
		zap.Int("consecutive_failures", failures),
		zap.Duration("backoff", wait),
		zap.Error(err))
	pollsTotal.WithLabelValues(p.subject, outcomeProviderFailure).Inc()
	consecutiveFailures.WithLabelValues(p.subject).Set(float64(failures))

	resolved := p.dedup.Sweep(p.now())
	return CycleResult{Subject: p.subject, Err: err, Wait: wait, Resolved: resolved}
}

func (p *Poller) extractionFailed(start time.Time, err error) CycleResult {
	p.mutex.Lock()
	p.failures = 0
	p.stats.extractionFailures++
	p.status.LastSuccess = start
	p.mutex.Unlock()

	health := models.HealthEvent{
		Subject:     p.subject,
		Kind:        models.HealthExtractionError,
		Error:       err.Error(),
		NextAttempt: p.now().Add(p.interval),
		Timestamp:   p.now(),
	}
	p.recordHealth(start, health, 0)

	p.logger.Warn("Skipping poll cycle: metric extraction failed", zap.Error(err))
	pollsTotal.WithLabelValues(p.subject, outcomeExtractionError).Inc()
	consecutiveFailures.WithLabelValues(p.subject).Set(0)

	resolved := p.dedup.Sweep(p.now())
	return CycleResult{Subject: p.subject, Err: err, Wait: p.interval, Resolved: resolved}
}

func (p *Poller) succeeded(start time.Time, metrics []models.Metric) {
	p.mutex.Lock()
	recovered := p.failures > 0
	previous := p.failures
	p.failures = 0
	p.status.LastPoll = start
	p.status.LastSuccess = start
	p.status.ConsecutiveFailures = 0
	p.status.LastError = ""
	p.status.Metrics = metrics
	if recovered {
		p.status.LastHealth = &models.HealthEvent{
			Subject:   p.subject,
			Kind:      models.HealthRecovered,
			Timestamp: p.now(),
		}
	}
	p.mutex.Unlock()

	if recovered {
		p.logger.Info("Provider recovered", zap.Int("after_failures", previous))
	}
	consecutiveFailures.WithLabelValues(p.subject).Set(0)
	activeAlerts.WithLabelValues(p.subject).Set(float64(len(p.dedup.Active())))
}

func (p *Poller) recordHealth(start time.Time, health models.HealthEvent, failures int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.status.LastPoll = start
	p.status.ConsecutiveFailures = failures
	p.status.LastError = health.Error
	p.status.LastHealth = &health
}

// Status returns a snapshot of the subject's state.
func (p *Poller) Status() models.SubjectStatus {
	p.mutex.RLock()
	status := p.status
	p.mutex.RUnlock()

	status.Metrics = append([]models.Metric(nil), status.Metrics...)
	if status.LastHealth != nil {
		h := *status.LastHealth
		status.LastHealth = &h
	}
	status.ActiveAlerts = p.dedup.Active()
	return status
}

func (p *Poller) snapshotStats() pollerStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.stats
}

func healthKind(err error) models.HealthKind {
	switch {
	case errors.Is(err, datasource.ErrTimeout):
		return models.HealthProviderTimeout
	case errors.Is(err, datasource.ErrMalformedResponse):
		return models.HealthMalformedResponse
	default:
		return models.HealthProviderUnavailable
	}
}

func newPanicError(p *Poller, err error) error {
	return &datasource.ProviderError{
		Kind:     datasource.KindUnavailable,
		Provider: p.provider.Name(),
		Subject:  p.subject,
		Err:      err,
	}
}

var _ MetricExtractor = (*extract.Extractor)(nil)
var _ EventSink = (*alert.AlertManager)(nil)
