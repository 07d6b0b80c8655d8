package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SlackSender posts {"text": ...} payloads, the format Slack incoming
// webhooks and most chat bridges accept.
type SlackSender struct {
	client *resty.Client
}

func NewSlackSender(timeout time.Duration) *SlackSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &SlackSender{client: client}
}

func (s *SlackSender) PostWebhook(ctx context.Context, url string, msg Message) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": msg.Text}).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}
