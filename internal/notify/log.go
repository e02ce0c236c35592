package notify

import (
	"context"

	"github.com/agentguard/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("alerts")}
}

func (l *LogNotifier) Name() string {
	return "log"
}

func (l *LogNotifier) Notify(_ context.Context, event *models.AlertEvent) error {
	level := zapcore.InfoLevel
	switch event.Level {
	case models.AlertLevelCritical:
		level = zapcore.ErrorLevel
	case models.AlertLevelWarning:
		level = zapcore.WarnLevel
	}
	l.logger.Log(level, "Alert "+string(event.Kind),
		zap.String("event_id", event.EventID),
		zap.String("rule", event.RuleName),
		zap.String("subject", event.Subject),
		zap.String("metric", event.Metric),
		zap.String("observed", event.Observed.String()),
		zap.String("threshold", string(event.Operator)+" "+event.Threshold.String()),
		zap.String("level", string(event.Level)),
		zap.Int("occurrences", event.OccurrenceCount),
		zap.Time("first_seen", event.FirstSeen),
	)
	return nil
}
