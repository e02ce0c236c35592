package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/agentguard/internal/models"
	"gopkg.in/gomail.v2"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	sender mailSender
	from   string
	to     []string
}

func NewEmailNotifier(host string, port int, username, password, from string, to []string) *EmailNotifier {
	if username == "" {
		username = from
	}
	return &EmailNotifier{
		sender: gomail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

func (e *EmailNotifier) Name() string {
	return "email"
}

// Notify returns once the message is sent or ctx is done. gomail has no
// context support, so an abandoned send finishes in the background.
func (e *EmailNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] AgentGuard: %s on %s", event.Level, event.RuleName, event.Subject))

	body := fmt.Sprintf(`Subject: %s
Rule: %s
Alert Level: %s
Metric: %s
Observed: %s
Threshold: %s %s
Occurrences: %d
First Seen: %s
Message: %s
Time: %s
`, event.Subject, event.RuleName, event.Level, event.Metric,
		event.Observed.String(), event.Operator, event.Threshold.String(),
		event.OccurrenceCount, event.FirstSeen.Format(time.RFC3339),
		event.Message, event.EmittedAt.Format(time.RFC3339))

	m.SetBody("text/plain", body)

	sent := make(chan error, 1)
	go func() {
		sent <- e.sender.DialAndSend(m)
	}()

	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("failed to send email alert: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email alert: %w", ctx.Err())
	}
}
