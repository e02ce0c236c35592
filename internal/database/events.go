package database

import (
	"context"
	"time"

	"github.com/agentguard/internal/models"
	"gorm.io/gorm"
)

const maxEventLimit = 1000

type EventFilter struct {
	Subject string
	Rule    string
	Level   models.AlertLevel
	Kind    models.EventKind
	Since   time.Time
	Until   time.Time
	Limit   int
}

// ListAlertEvents returns stored events, newest first.
func ListAlertEvents(ctx context.Context, db *gorm.DB, f EventFilter) ([]models.AlertEvent, error) {
	query := applyFilter(db.WithContext(ctx).Model(&models.AlertEvent{}), f)

	limit := f.Limit
	if limit <= 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}

	var events []models.AlertEvent
	if err := query.Order("emitted_at desc").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// EventsInWindow returns every event emitted in [since, until], oldest first.
func EventsInWindow(ctx context.Context, db *gorm.DB, since, until time.Time) ([]models.AlertEvent, error) {
	var events []models.AlertEvent
	err := applyFilter(db.WithContext(ctx).Model(&models.AlertEvent{}), EventFilter{Since: since, Until: until}).
		Order("emitted_at asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func applyFilter(query *gorm.DB, f EventFilter) *gorm.DB {
	if f.Subject != "" {
		query = query.Where("subject = ?", f.Subject)
	}
	if f.Rule != "" {
		query = query.Where("rule_name = ?", f.Rule)
	}
	if f.Level != "" {
		query = query.Where("level = ?", f.Level)
	}
	if f.Kind != "" {
		query = query.Where("kind = ?", f.Kind)
	}
	if !f.Since.IsZero() {
		query = query.Where("emitted_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query = query.Where("emitted_at <= ?", f.Until.UTC())
	}
	return query
}
