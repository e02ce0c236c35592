package notify

import (
	"context"
	"fmt"

	"github.com/agentguard/internal/models"
	"gorm.io/gorm"
)

// StoreNotifier records every event in the alert history table.
type StoreNotifier struct {
	db *gorm.DB
}

func NewStoreNotifier(db *gorm.DB) *StoreNotifier {
	return &StoreNotifier{db: db}
}

func (s *StoreNotifier) Name() string {
	return "store"
}

func (s *StoreNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	record := *event
	// History times are kept in UTC.
	record.EmittedAt = record.EmittedAt.UTC()
	record.FirstSeen = record.FirstSeen.UTC()
	record.LastSeen = record.LastSeen.UTC()
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save alert event: %w", err)
	}
	return nil
}
