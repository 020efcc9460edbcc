package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Slack posts to an incoming webhook
type Slack struct {
	url    string
	client *http.Client
}

// NewSlack creates a Slack notifier for webhookURL
func NewSlack(webhookURL string, timeout time.Duration) *Slack {
	return &Slack{url: webhookURL, client: newHTTPClient(timeout)}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, ev Event) error {
	text := fmt.Sprintf("*%s Email Detected!*\n*Subject:* %s\n*From:* %s", ev.Category, ev.Subject, ev.From)
	if err := postJSON(ctx, s.client, s.url, map[string]string{"text": text}); err != nil {
		return fmt.Errorf("slack notification failed: %w", err)
	}
	return nil
}
