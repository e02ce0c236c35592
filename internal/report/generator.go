package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/agentguard/internal/database"
	"github.com/agentguard/internal/models"
	"gorm.io/gorm"
)

const (
	maxTopRules    = 10
	maxTopSubjects = 10
	maxRuleTargets = 5
)

type ReportGenerator struct {
	db   *gorm.DB
	tmpl *template.Template
}

type ReportData struct {
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	AlertSummary AlertSummary      `json:"alert_summary"`
	TopSubjects  []SubjectSummary  `json:"top_subjects"`
	Trend        []TimeSeriesPoint `json:"trend"`
}

type AlertSummary struct {
	TotalEvents    int           `json:"total_events"`
	FiredEvents    int           `json:"fired_events"`
	RenotifyEvents int           `json:"renotify_events"`
	CriticalAlerts int           `json:"critical_alerts"`
	WarningAlerts  int           `json:"warning_alerts"`
	InfoAlerts     int           `json:"info_alerts"`
	TopRules       []RuleSummary `json:"top_rules"`
}

type RuleSummary struct {
	RuleName    string            `json:"rule_name"`
	AlertCount  int               `json:"alert_count"`
	Level       models.AlertLevel `json:"level"`
	TopSubjects []string          `json:"top_subjects"`
}

type SubjectSummary struct {
	Subject       string    `json:"subject"`
	AlertCount    int       `json:"alert_count"`
	CriticalCount int       `json:"critical_count"`
	LastEvent     time.Time `json:"last_event"`
}

type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     int       `json:"value"`
}

func NewReportGenerator(db *gorm.DB) (*ReportGenerator, error) {
	tmpl, err := template.New("summary").Parse(summaryTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse summary template: %w", err)
	}
	return &ReportGenerator{db: db, tmpl: tmpl}, nil
}

// GenerateReport summarizes the alert history between startTime and endTime.
func (g *ReportGenerator) GenerateReport(ctx context.Context, startTime, endTime time.Time) (*ReportData, error) {
	if !endTime.After(startTime) {
		return nil, fmt.Errorf("report window end must be after start")
	}
	events, err := database.EventsInWindow(ctx, g.db, startTime, endTime)
	if err != nil {
		return nil, fmt.Errorf("failed to collect report data: %w", err)
	}

	return &ReportData{
		StartTime:    startTime,
		EndTime:      endTime,
		AlertSummary: processEvents(events),
		TopSubjects:  processSubjects(events),
		Trend:        calculateTrend(events),
	}, nil
}

func (g *ReportGenerator) RenderHTML(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func processEvents(events []models.AlertEvent) AlertSummary {
	summary := AlertSummary{}
	ruleAlerts := make(map[string]*RuleSummary)

	for _, event := range events {
		summary.TotalEvents++
		switch event.Kind {
		case models.EventFired:
			summary.FiredEvents++
		case models.EventRenotify:
			summary.RenotifyEvents++
		}
		switch event.Level {
		case models.AlertLevelCritical:
			summary.CriticalAlerts++
		case models.AlertLevelWarning:
			summary.WarningAlerts++
		case models.AlertLevelInfo:
			summary.InfoAlerts++
		}

		rs, ok := ruleAlerts[event.RuleName]
		if !ok {
			ruleAlerts[event.RuleName] = &RuleSummary{
				RuleName:    event.RuleName,
				AlertCount:  1,
				Level:       event.Level,
				TopSubjects: []string{event.Subject},
			}
			continue
		}
		rs.AlertCount++
		found := false
		for _, s := range rs.TopSubjects {
			if s == event.Subject {
				found = true
				break
			}
		}
		if !found && len(rs.TopSubjects) < maxRuleTargets {
			rs.TopSubjects = append(rs.TopSubjects, event.Subject)
		}
	}

	for _, rs := range ruleAlerts {
		summary.TopRules = append(summary.TopRules, *rs)
	}
	sort.Slice(summary.TopRules, func(i, j int) bool {
		if summary.TopRules[i].AlertCount != summary.TopRules[j].AlertCount {
			return summary.TopRules[i].AlertCount > summary.TopRules[j].AlertCount
		}
		return summary.TopRules[i].RuleName < summary.TopRules[j].RuleName
	})
	if len(summary.TopRules) > maxTopRules {
		summary.TopRules = summary.TopRules[:maxTopRules]
	}
	return summary
}

func processSubjects(events []models.AlertEvent) []SubjectSummary {
	subjects := make(map[string]*SubjectSummary)
	for _, event := range events {
		ss, ok := subjects[event.Subject]
		if !ok {
			ss = &SubjectSummary{Subject: event.Subject}
			subjects[event.Subject] = ss
		}
		ss.AlertCount++
		if event.Level == models.AlertLevelCritical {
			ss.CriticalCount++
		}
		if event.EmittedAt.After(ss.LastEvent) {
			ss.LastEvent = event.EmittedAt
		}
	}

	result := make([]SubjectSummary, 0, len(subjects))
	for _, ss := range subjects {
		result = append(result, *ss)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CriticalCount != result[j].CriticalCount {
			return result[i].CriticalCount > result[j].CriticalCount
		}
		if result[i].AlertCount != result[j].AlertCount {
			return result[i].AlertCount > result[j].AlertCount
		}
		return result[i].Subject < result[j].Subject
	})
	if len(result) > maxTopSubjects {
		result = result[:maxTopSubjects]
	}
	return result
}

// calculateTrend buckets events per hour.
func calculateTrend(events []models.AlertEvent) []TimeSeriesPoint {
	buckets := make(map[time.Time]int)
	for _, event := range events {
		buckets[event.EmittedAt.UTC().Truncate(time.Hour)]++
	}

	times := make([]time.Time, 0, len(buckets))
	for t := range buckets {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool {
		return times[i].Before(times[j])
	})

	trend := make([]TimeSeriesPoint, 0, len(times))
	for _, t := range times {
		trend = append(trend, TimeSeriesPoint{Timestamp: t, Value: buckets[t]})
	}
	return trend
}

const summaryTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>AgentGuard alert summary</title></head>
<body>
<h1>AgentGuard alert summary</h1>
<p>{{.StartTime.Format "2006-01-02 15:04"}} to {{.EndTime.Format "2006-01-02 15:04"}} (UTC)</p>
<h2>Totals</h2>
<ul>
  <li>Events: {{.AlertSummary.TotalEvents}} ({{.AlertSummary.FiredEvents}} fired, {{.AlertSummary.RenotifyEvents}} re-notified)</li>
  <li>Critical: {{.AlertSummary.CriticalAlerts}}</li>
  <li>Warning: {{.AlertSummary.WarningAlerts}}</li>
  <li>Info: {{.AlertSummary.InfoAlerts}}</li>
</ul>
<h2>Top rules</h2>
<table>
  <tr><th>Rule</th><th>Level</th><th>Events</th><th>Subjects</th></tr>
  {{range .AlertSummary.TopRules}}<tr><td>{{.RuleName}}</td><td>{{.Level}}</td><td>{{.AlertCount}}</td><td>{{range $i, $s := .TopSubjects}}{{if $i}}, {{end}}{{$s}}{{end}}</td></tr>
  {{end}}
</table>
<h2>Top subjects</h2>
<table>
  <tr><th>Subject</th><th>Events</th><th>Critical</th><th>Last event</th></tr>
  {{range .TopSubjects}}<tr><td>{{.Subject}}</td><td>{{.AlertCount}}</td><td>{{.CriticalCount}}</td><td>{{.LastEvent.Format "2006-01-02 15:04:05"}}</td></tr>
  {{end}}
</table>
</body>
</html>
`
