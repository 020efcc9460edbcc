// Package classifier is the client for the external classification service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Classifier labels a message
type Classifier interface {
	Classify(ctx context.Context, req Request) (string, error)
}

// Request carries the text sent for classification. Body is only sent when set.
type Request struct {
	Subject string
	Body    string
}

// ErrEmptyLabel is returned when the service answers without a label
var ErrEmptyLabel = errors.New("classifier returned an empty label")

type predictRequest struct {
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
}

type predictResponse struct {
	Label string `json:"label"`
}

// Client calls a POST endpoint that answers {"label": "..."}
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a classifier client for url
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Classify posts the subject, or subject and body as one text, and returns the label
func (c *Client) Classify(ctx context.Context, req Request) (string, error) {
	payload := predictRequest{Subject: req.Subject}
	if req.Body != "" {
		payload = predictRequest{Text: req.Subject + "\n\n" + req.Body}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode classifier response: %w", err)
	}

	label := strings.TrimSpace(out.Label)
	if label == "" {
		return "", ErrEmptyLabel
	}
	return label, nil
}

// Func adapts a function to Classifier
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Classify(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
