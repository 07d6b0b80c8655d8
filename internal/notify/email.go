package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/leozw/monitrix/internal/config"
)

// SendGridSender sends one message per notification with every recipient
// on the To line.
type SendGridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg config.NotifyConfig) *SendGridSender {
	if cfg.SendGridAPIKey == "" {
		return nil
	}
	name := cfg.FromName
	if name == "" {
		name = "Monitrix"
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:   mail.NewEmail(name, cfg.FromEmail),
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, to []string, msg Message) error {
	if len(to) == 0 {
		return nil
	}

	personalization := mail.NewPersonalization()
	for _, addr := range to {
		personalization.AddTos(mail.NewEmail("", addr))
	}

	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = msg.Subject
	m.AddPersonalizations(personalization)
	m.AddContent(mail.NewContent("text/plain", msg.Text))

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
