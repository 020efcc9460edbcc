// Package notifier delivers alerts for interesting messages.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mail-aggregator-go/internal/config"
)

// Event is the payload every notifier receives
type Event struct {
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Category string `json:"category"`
}

// Notifier sends one alert. Callers treat errors as best effort.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// postJSON posts payload and fails on transport errors and non-2xx statuses
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// FromConfig builds every configured notifier. Unset channels are skipped.
func FromConfig(ctx context.Context, cfg config.NotifiersConfig) ([]Notifier, error) {
	var notifiers []Notifier
	if cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlack(cfg.Slack.WebhookURL, cfg.Timeout))
	}
	if cfg.Webhook.URL != "" {
		notifiers = append(notifiers, NewWebhook(cfg.Webhook.URL, cfg.Timeout))
	}
	if cfg.Gmail.Enabled {
		g, err := NewGmail(ctx, cfg.Gmail)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, g)
	}
	return notifiers, nil
}
