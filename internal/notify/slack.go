package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agentguard/internal/models"
	"github.com/slack-go/slack"
)

// SlackNotifier posts alert events either through the Web API (bot token and
// channel) or through an incoming webhook when a webhook URL is set.
type SlackNotifier struct {
	client     *slack.Client
	httpClient *http.Client
	channel    string
	webhookURL string
	username   string
}

// NewSlackNotifier builds a notifier whose HTTP calls give up after timeout.
func NewSlackNotifier(token, channel, webhookURL, username string, timeout time.Duration) *SlackNotifier {
	if username == "" {
		username = "AgentGuard"
	}
	n := &SlackNotifier{
		httpClient: &http.Client{Timeout: timeout},
		channel:    channel,
		webhookURL: webhookURL,
		username:   username,
	}
	if token != "" {
		n.client = slack.New(token, slack.OptionHTTPClient(n.httpClient))
	}
	return n
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

func (s *SlackNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	attachment := buildAttachment(event)

	if s.webhookURL != "" {
		msg := &slack.WebhookMessage{
			Channel:     s.channel,
			Username:    s.username,
			IconEmoji:   getAlertEmoji(event.Level),
			Attachments: []slack.Attachment{attachment},
		}
		if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, msg); err != nil {
			return fmt.Errorf("failed to send slack webhook: %w", err)
		}
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("slack notifier has neither token nor webhook url")
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionAttachments(attachment),
		slack.MsgOptionUsername(s.username),
		slack.MsgOptionIconEmoji(getAlertEmoji(event.Level)),
	)
	if err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}

func buildAttachment(event *models.AlertEvent) slack.Attachment {
	title := fmt.Sprintf("AgentGuard Alert: %s", event.RuleName)
	if event.Kind == models.EventRenotify {
		title = fmt.Sprintf("AgentGuard Alert (still active): %s", event.RuleName)
	}
	return slack.Attachment{
		Color: getAlertColor(event.Level),
		Title: title,
		Text:  event.Message,
		Fields: []slack.AttachmentField{
			{Title: "Subject", Value: event.Subject, Short: true},
			{Title: "Level", Value: string(event.Level), Short: true},
			{Title: "Metric", Value: event.Metric, Short: true},
			{Title: "Observed", Value: event.Observed.String(), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%s %s", event.Operator, event.Threshold.String()), Short: true},
			{Title: "Occurrences", Value: strconv.Itoa(event.OccurrenceCount), Short: true},
			{Title: "First Seen", Value: event.FirstSeen.Format(time.RFC3339), Short: true},
		},
		Footer: "AgentGuard Safety Monitor",
		Ts:     json.Number(strconv.FormatInt(event.EmittedAt.Unix(), 10)),
	}
}

func getAlertColor(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelCritical:
		return "#FF0000"
	case models.AlertLevelWarning:
		return "#FFA500"
	case models.AlertLevelInfo:
		return "#0000FF"
	default:
		return "#808080"
	}
}

func getAlertEmoji(level models.AlertLevel) string {
	switch level {
	case models.AlertLevelCritical:
		return ":red_circle:"
	case models.AlertLevelWarning:
		return ":warning:"
	case models.AlertLevelInfo:
		return ":information_source:"
	default:
		return ":bell:"
	}
}
