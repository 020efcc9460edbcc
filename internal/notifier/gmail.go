package notifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mail-aggregator-go/internal/config"
)

// Gmail sends alert emails through the Gmail API
type Gmail struct {
	service *gmail.Service
	from    string
	to      string
}

// NewGmail creates a Gmail notifier from OAuth2 credentials
func NewGmail(ctx context.Context, cfg config.GmailConfig) (*Gmail, error) {
	// Create OAuth2 config
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewGmailWithService(service, cfg.From, cfg.To), nil
}

// NewGmailWithService uses an existing service. An empty from sends as the
// authenticated user.
func NewGmailWithService(service *gmail.Service, from, to string) *Gmail {
	return &Gmail{service: service, from: from, to: to}
}

func (g *Gmail) Name() string { return "gmail" }

func (g *Gmail) Send(ctx context.Context, ev Event) error {
	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(g.compose(ev))),
	}
	if _, err := g.service.Users.Messages.Send("me", message).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail notification failed: %w", err)
	}
	return nil
}

// compose builds the alert as a plain-text RFC 5322 message
func (g *Gmail) compose(ev Event) string {
	var b strings.Builder

	if g.from != "" {
		b.WriteString(fmt.Sprintf("From: %s\r\n", g.from))
	}
	b.WriteString(fmt.Sprintf("To: %s\r\n", g.to))
	subject := oneLine(fmt.Sprintf("[%s] %s", ev.Category, ev.Subject))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("%s Email Detected!\r\n\r\n", ev.Category))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", oneLine(ev.Subject)))
	b.WriteString(fmt.Sprintf("From: %s\r\n", oneLine(ev.From)))

	return b.String()
}

// oneLine keeps header values from breaking the message framing
func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
