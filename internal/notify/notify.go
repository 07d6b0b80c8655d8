// Package notify delivers incident open/close notifications by email and
// Slack-compatible webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/evaluator"
)

type Message struct {
	Subject string
	Text    string
}

type EmailSender interface {
	SendEmail(ctx context.Context, to []string, msg Message) error
}

type WebhookSender interface {
	PostWebhook(ctx context.Context, url string, msg Message) error
}

// Dispatcher routes a notification to its targets. Targets containing "@"
// are email addresses and http(s) targets are webhooks. The default webhook,
// when set, receives every notification.
type Dispatcher struct {
	email          EmailSender
	webhook        WebhookSender
	defaultWebhook string
	logger         *zap.Logger
}

func NewDispatcher(email EmailSender, webhook WebhookSender, defaultWebhook string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		email:          email,
		webhook:        webhook,
		defaultWebhook: defaultWebhook,
		logger:         logger,
	}
}

// NewFromConfig wires SendGrid when an API key is set and always wires the
// webhook sender.
func NewFromConfig(cfg config.NotifyConfig, logger *zap.Logger) *Dispatcher {
	var email EmailSender
	if sg := NewSendGridSender(cfg); sg != nil {
		email = sg
	}
	return NewDispatcher(email, NewSlackSender(0), cfg.SlackWebhookURL, logger)
}

func (d *Dispatcher) Notify(ctx context.Context, n evaluator.Notification) error {
	msg := Compose(n)

	var emails, hooks []string
	for _, t := range n.Targets {
		switch {
		case strings.HasPrefix(t, "http://"), strings.HasPrefix(t, "https://"):
			hooks = append(hooks, t)
		case strings.Contains(t, "@"):
			emails = append(emails, t)
		default:
			d.logger.Warn("Ignoring unknown notification target", zap.String("target", t))
		}
	}
	if d.defaultWebhook != "" && !contains(hooks, d.defaultWebhook) {
		hooks = append(hooks, d.defaultWebhook)
	}

	var errs []error
	if len(emails) > 0 {
		if d.email == nil {
			d.logger.Debug("Email sender not configured, skipping", zap.Int("recipients", len(emails)))
		} else if err := d.email.SendEmail(ctx, emails, msg); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if d.webhook != nil {
		for _, hook := range hooks {
			if err := d.webhook.PostWebhook(ctx, hook, msg); err != nil {
				errs = append(errs, fmt.Errorf("webhook: %w", err))
			}
		}
	}

	d.logger.Info("Notification dispatched",
		zap.Int64("resource_id", n.Resource.ID),
		zap.String("alert_status", string(n.Status)),
		zap.Int("emails", len(emails)),
		zap.Int("webhooks", len(hooks)),
		zap.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

// Compose renders the subject and plain-text body for a notification.
func Compose(n evaluator.Notification) Message {
	res := n.Resource
	label := res.Name
	if label == "" {
		label = res.URL
	}

	var subject string
	switch {
	case len(n.Opened) == 0 && len(n.Closed) > 0:
		subject = fmt.Sprintf("[RESOLVED] %s %s", core.ServiceTag(res.Kind), label)
	default:
		subject = fmt.Sprintf("[%s] %s %s", strings.ToUpper(string(n.Status)), core.ServiceTag(res.Kind), label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", subject)
	fmt.Fprintf(&b, "Resource: %s\nURL: %s\nStatus: %s\n", label, res.URL, n.Status)
	if len(n.Opened) > 0 {
		b.WriteString("\nNew incidents:\n")
		for _, inc := range n.Opened {
			fmt.Fprintf(&b, "- %s: %s (%s %s)\n", inc.MetricType, inc.Message, inc.Comparison, inc.LimitAtTime)
		}
	}
	if len(n.Closed) > 0 {
		b.WriteString("\nResolved:\n")
		for _, r := range n.Closed {
			fmt.Fprintf(&b, "- %s: %s\n", r.MetricType, r.Message)
		}
	}
	fmt.Fprintf(&b, "\n---\nResource ID: %s", res.UniqueID)

	return Message{Subject: subject, Text: b.String()}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
