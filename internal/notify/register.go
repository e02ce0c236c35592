package notify

import (
	"strings"

	"github.com/agentguard/internal/alert"
	"github.com/agentguard/internal/config"
	"github.com/agentguard/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterNotifiers wires every configured sink into the alert manager. A sink
// is configured when its address fields are set.
func RegisterNotifiers(am *alert.AlertManager, cfg config.AlertConfig, db *gorm.DB, logger *zap.Logger) {
	if cfg.Log.Enabled {
		am.AddNotifier(NewLogNotifier(logger), level(cfg.Log.MinLevel))
	}
	if cfg.Store.Enabled && db != nil {
		am.AddNotifier(NewStoreNotifier(db), "")
	}
	if cfg.Slack.Token != "" || cfg.Slack.WebhookURL != "" {
		am.AddNotifier(NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, cfg.Slack.WebhookURL, cfg.Slack.Username, cfg.DispatchTimeout), level(cfg.Slack.MinLevel))
	}
	if cfg.Email.SMTPHost != "" {
		am.AddNotifier(NewEmailNotifier(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.Username,
			cfg.Email.Password, cfg.Email.From, cfg.Email.ToReceivers), level(cfg.Email.MinLevel))
	}
	if cfg.Webhook.URL != "" {
		am.AddNotifier(NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.Timeout), level(cfg.Webhook.MinLevel))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		am.AddNotifier(NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic), level(cfg.Kafka.MinLevel))
	}
	if cfg.Redis.Addr != "" {
		am.AddNotifier(NewRedisNotifier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Redis.Stream, cfg.Redis.MaxLen), level(cfg.Redis.MinLevel))
	}

	logger.Info("Alert notifiers registered", zap.Strings("notifiers", am.Notifiers()))
}

func level(raw string) models.AlertLevel {
	return models.AlertLevel(strings.ToUpper(raw))
}
