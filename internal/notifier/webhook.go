package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts the event as JSON
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier for url
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: newHTTPClient(timeout)}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, ev Event) error {
	if err := postJSON(ctx, w.client, w.url, ev); err != nil {
		return fmt.Errorf("webhook notification failed: %w", err)
	}
	return nil
}
