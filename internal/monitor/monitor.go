package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/agentguard/internal/alert"
	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/datasource"
	"github.com/agentguard/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var ErrUnknownSubject = errors.New("unknown subject")

type Options struct {
	Subjects  []string
	Provider  datasource.Provider
	Extractor MetricExtractor
	Rules     *alert.RuleSet
	Evaluator *alert.RuleEvaluator
	Sink      EventSink
	Config    config.MonitorConfig
	Logger    *zap.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Monitor owns one Poller per subject and runs them concurrently. Provider
// invocations across all subjects are bounded by MaxConcurrent.
type Monitor struct {
	pollers map[string]*Poller
	order   []string
	logger  *zap.Logger
	sem     *semaphore.Weighted

	maxConcurrent int
	mutex         sync.Mutex
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	startedAt     time.Time
}

func NewMonitor(opts Options) (*Monitor, error) {
	if len(opts.Subjects) == 0 {
		return nil, fmt.Errorf("no subjects to monitor")
	}
	if opts.Provider == nil || opts.Extractor == nil || opts.Rules == nil || opts.Sink == nil {
		return nil, fmt.Errorf("monitor requires a provider, extractor, rule set and sink")
	}
	if opts.Evaluator == nil {
		opts.Evaluator = alert.NewRuleEvaluator()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	maxConcurrent := opts.Config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	m := &Monitor{
		pollers:       make(map[string]*Poller, len(opts.Subjects)),
		logger:        opts.Logger,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
	}

	backoff := Backoff{Base: opts.Config.BackoffBase, Cap: opts.Config.BackoffCap}
	for _, subject := range opts.Subjects {
		if _, dup := m.pollers[subject]; dup {
			return nil, fmt.Errorf("duplicate subject %q", subject)
		}
		m.pollers[subject] = &Poller{
			subject:   subject,
			provider:  opts.Provider,
			extractor: opts.Extractor,
			rules:     opts.Rules,
			evaluator: opts.Evaluator,
			dedup:     alert.NewDeduplicator(opts.Config.SilencePeriod, opts.Config.RenotifyInterval),
			sink:      opts.Sink,
			interval:  opts.Config.PollInterval,
			timeout:   opts.Config.Timeout,
			backoff:   backoff,
			sem:       m.sem,
			logger:    opts.Logger.With(zap.String("subject", subject)),
			now:       opts.Now,
			status: models.SubjectStatus{
				Subject:  subject,
				Provider: opts.Provider.Name(),
			},
		}
		m.order = append(m.order, subject)
	}
	return m, nil
}

// Start launches one poll loop per subject. The loops run until Stop is called
// or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("monitor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.startedAt = time.Now()

	for _, subject := range m.order {
		poller := m.pollers[subject]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			poller.Run(runCtx)
		}()
	}

	m.logger.Info("Monitor started",
		zap.Int("subjects", len(m.order)),
		zap.Int("max_concurrent", m.maxConcurrent))
	return nil
}

// Stop cancels every poll loop and waits for in-flight cycles to finish.
func (m *Monitor) Stop() {
	m.mutex.Lock()
	cancel := m.cancel
	m.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("Monitor stopped")
}

// PollNow runs one synchronous cycle for subject, outside its schedule.
func (m *Monitor) PollNow(ctx context.Context, subject string) (CycleResult, error) {
	poller, ok := m.pollers[subject]
	if !ok {
		return CycleResult{}, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return poller.Poll(ctx), nil
}

// PollAll runs one cycle for every subject concurrently and returns the results
// in subject order.
func (m *Monitor) PollAll(ctx context.Context) []CycleResult {
	results := make([]CycleResult, len(m.order))
	var wg sync.WaitGroup
	for i, subject := range m.order {
		wg.Add(1)
		go func(i int, poller *Poller) {
			defer wg.Done()
			results[i] = poller.Poll(ctx)
		}(i, m.pollers[subject])
	}
	wg.Wait()
	return results
}

func (m *Monitor) Subjects() []string {
	return append([]string(nil), m.order...)
}

func (m *Monitor) Status(subject string) (models.SubjectStatus, error) {
	poller, ok := m.pollers[subject]
	if !ok {
		return models.SubjectStatus{}, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return poller.Status(), nil
}

func (m *Monitor) Statuses() []models.SubjectStatus {
	statuses := make([]models.SubjectStatus, 0, len(m.order))
	for _, subject := range m.order {
		statuses = append(statuses, m.pollers[subject].Status())
	}
	return statuses
}

// ActiveAlerts returns every active alert across subjects.
func (m *Monitor) ActiveAlerts() []models.Alert {
	var alerts []models.Alert
	for _, subject := range m.order {
		alerts = append(alerts, m.pollers[subject].dedup.Active()...)
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if alerts[i].Level.Rank() != alerts[j].Level.Rank() {
			return alerts[i].Level.Rank() > alerts[j].Level.Rank()
		}
		return alerts[i].FirstSeen.Before(alerts[j].FirstSeen)
	})
	return alerts
}

// GetMetrics aggregates per-subject counters for the stats endpoint.
func (m *Monitor) GetMetrics() map[string]interface{} {
	var total pollerStats
	for _, subject := range m.order {
		s := m.pollers[subject].snapshotStats()
		total.cycles += s.cycles
		total.providerFailures += s.providerFailures
		total.extractionFailures += s.extractionFailures
		total.eventsEmitted += s.eventsEmitted
		total.processingTime += s.processingTime
	}

	avg := 0.0
	if total.cycles > 0 {
		avg = total.processingTime.Seconds() / float64(total.cycles)
	}

	m.mutex.Lock()
	startedAt := m.startedAt
	m.mutex.Unlock()

	return map[string]interface{}{
		"subjects":            len(m.order),
		"total_cycles":        total.cycles,
		"provider_failures":   total.providerFailures,
		"extraction_failures": total.extractionFailures,
		"events_emitted":      total.eventsEmitted,
		"avg_cycle_seconds":   avg,
		"active_alerts":       len(m.ActiveAlerts()),
		"goroutines":          runtime.NumGoroutine(),
		"max_concurrent":      m.maxConcurrent,
		"started_at":          startedAt,
	}
}
