// Package parser extracts readable text from raw RFC 5322 messages.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// maxDepth bounds multipart nesting
const maxDepth = 10

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// body collects the first text/plain and text/html parts
type body struct {
	plain string
	html  string
}

// PlainText returns the message's text/plain content, falling back to the
// text/html part with tags stripped. Parts in unknown charsets are kept as is.
func PlainText(raw []byte) (string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	var b body
	if err := walk(entity, &b, 0); err != nil {
		return "", err
	}

	if b.plain != "" {
		return strings.TrimSpace(normalizeNewlines(b.plain)), nil
	}
	if b.html != "" {
		return HTMLToPlainText(b.html), nil
	}
	return "", nil
}

func walk(entity *message.Entity, b *body, depth int) error {
	if depth > maxDepth {
		return nil
	}

	// Parse multipart message
	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return fmt.Errorf("failed to read part: %w", err)
			}
			if p == nil {
				break
			}
			if err := walk(p, b, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	contentType, _, err := entity.Header.ContentType()
	if err != nil || contentType == "" {
		contentType = "text/plain"
	}
	disposition, _, _ := entity.Header.ContentDisposition()
	if disposition == "attachment" {
		return nil
	}

	switch contentType {
	case "text/plain":
		if b.plain != "" {
			return nil
		}
	case "text/html":
		if b.html != "" {
			return nil
		}
	default:
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read part body: %w", err)
	}
	if contentType == "text/plain" {
		b.plain = string(content)
	} else {
		b.html = string(content)
	}
	return nil
}

// HTMLToPlainText converts HTML to plain text with a tag-stripping pass
func HTMLToPlainText(html string) string {
	text := html

	replacements := []struct {
		from string
		to   string
	}{
		{"<br>", "\n"},
		{"<br/>", "\n"},
		{"<br />", "\n"},
		{"<p>", "\n"},
		{"</p>", "\n"},
		{"<div>", "\n"},
		{"</div>", "\n"},
	}
	for _, replacement := range replacements {
		text = strings.ReplaceAll(text, replacement.from, replacement.to)
	}

	text = tagPattern.ReplaceAllString(text, "")

	// entities last so escaped brackets survive tag removal
	entities := strings.NewReplacer(
		"&nbsp;", " ",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&amp;", "&",
	)
	text = entities.Replace(text)

	return strings.TrimSpace(normalizeNewlines(text))
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
