package alert

import (
	"fmt"
	"sort"

	"github.com/agentguard/internal/models"
)

// RuleEvaluator compares a subject's metrics against the rule set. It holds no
// state, so one instance can serve every subject.
type RuleEvaluator struct{}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

// Evaluate returns one candidate alert per violated rule, sorted by rule name.
// A rule whose metric is absent is skipped, never violated.
func (e *RuleEvaluator) Evaluate(subject string, metrics []models.Metric, rules []models.AlertRule) []models.Alert {
	set := models.NewMetricSet(metrics)
	alerts := make([]models.Alert, 0)

	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesTo(subject) {
			continue
		}
		metric, ok := set[rule.Metric]
		if !ok {
			continue
		}
		if !rule.Operator.Compare(metric.Value, rule.Threshold) {
			continue
		}
		alerts = append(alerts, models.Alert{
			RuleName:        rule.Name,
			Subject:         subject,
			Metric:          rule.Metric,
			Operator:        rule.Operator,
			Observed:        metric.Value,
			Threshold:       rule.Threshold,
			Level:           rule.Level,
			Message:         formatAlertMessage(rule, subject, metric),
			FirstSeen:       metric.Timestamp,
			LastSeen:        metric.Timestamp,
			OccurrenceCount: 1,
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].RuleName < alerts[j].RuleName
	})
	return alerts
}

func formatAlertMessage(rule *models.AlertRule, subject string, metric models.Metric) string {
	return fmt.Sprintf("%s: %s is %s (%s %s) for subject %s",
		rule.Name,
		rule.Metric,
		metric.Value.String(),
		rule.Operator,
		rule.Threshold.String(),
		subject)
}
