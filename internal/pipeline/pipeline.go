// Package pipeline runs one message through classify, notify, index and
// cursor advance.
//
// The cursor is written last. A failure at any earlier step leaves it where it
// was, so the next folder pass sees the message again and repeats the whole
// pipeline; the index upsert makes that repeat harmless.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/classifier"
	"mail-aggregator-go/internal/cursor"
	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/metrics"
	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/notifier"
	"mail-aggregator-go/internal/parser"
)

// InterestedLabel is the category that triggers notifications, compared without case
const InterestedLabel = "Interested"

const (
	noSubject   = "No Subject"
	unknownFrom = "Unknown"
)

// Outcome is how a message left the pipeline
type Outcome int

const (
	// OutcomeIndexed means the record was stored and the cursor advanced
	OutcomeIndexed Outcome = iota
	// OutcomeSkipped means the message lacked an envelope, date or content
	OutcomeSkipped
)

func (o Outcome) String() string {
	if o == OutcomeSkipped {
		return "skipped"
	}
	return "indexed"
}

// Stage errors wrapped by Process
var (
	ErrFetch  = errors.New("fetch failed")
	ErrIndex  = errors.New("index failed")
	ErrCursor = errors.New("cursor advance failed")
)

// Indexer stores message records by composite id
type Indexer interface {
	Upsert(ctx context.Context, id string, rec *model.MessageRecord) error
}

// Journal records notifier attempts
type Journal interface {
	LogNotification(ctx context.Context, messageID, notifier, category, status, errorMsg string) error
}

// Options tunes the pipeline. Journal and Metrics are optional.
type Options struct {
	IncludeBody bool
	Journal     Journal
	Metrics     *metrics.Metrics
}

// Pipeline processes single messages. It is safe for concurrent use by
// different folders as long as its collaborators are.
type Pipeline struct {
	classifier classifier.Classifier
	notifiers  []notifier.Notifier
	index      Indexer
	cursors    cursor.Store
	opts       Options
}

// New creates a pipeline
func New(c classifier.Classifier, notifiers []notifier.Notifier, index Indexer, cursors cursor.Store, opts Options) *Pipeline {
	return &Pipeline{
		classifier: c,
		notifiers:  notifiers,
		index:      index,
		cursors:    cursors,
		opts:       opts,
	}
}

// Process fetches ref from the selected folder and carries it through to the
// cursor advance.
func (p *Pipeline) Process(ctx context.Context, fetcher mailbox.Fetcher, ref model.MessageRef) (Outcome, error) {
	start := time.Now()
	defer func() {
		if p.opts.Metrics != nil {
			p.opts.Metrics.ProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	log := logrus.WithFields(logrus.Fields{
		"account": ref.Account,
		"folder":  ref.Folder,
		"uid":     ref.UID,
	})

	msg, err := fetcher.Fetch(ctx, ref.UID)
	if errors.Is(err, mailbox.ErrNotFound) {
		log.Debug("Message disappeared before fetch, skipping")
		p.skipped(ref)
		return OutcomeSkipped, nil
	}
	if err != nil {
		p.failed(ref, "fetch")
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if msg.Envelope == nil || msg.Envelope.Date.IsZero() || len(msg.Source) == 0 {
		log.Debug("Message has no envelope, date or content, skipping")
		p.skipped(ref)
		return OutcomeSkipped, nil
	}

	env := msg.Envelope
	subject := env.Subject
	if subject == "" {
		subject = noSubject
	}

	category := p.classify(ctx, log, subject, msg.Source)

	if strings.EqualFold(category, InterestedLabel) {
		from := strings.Join(env.From, ",")
		if from == "" {
			from = unknownFrom
		}
		log.WithField("category", category).Info("Interested message detected, notifying")
		p.notify(ctx, log, ref, notifier.Event{Subject: subject, From: from, Category: category})
	}

	rec := &model.MessageRecord{
		Account:  ref.Account,
		Folder:   ref.Folder,
		UID:      ref.UID,
		Date:     env.Date,
		From:     strings.Join(env.From, ","),
		To:       strings.Join(env.To, ","),
		Subject:  subject,
		Body:     string(msg.Source),
		Category: category,
	}
	if err := p.index.Upsert(ctx, ref.ID(), rec); err != nil {
		p.failed(ref, "index")
		return 0, fmt.Errorf("%w: %w", ErrIndex, err)
	}

	if err := p.cursors.Set(ctx, ref.Account, ref.Folder, ref.UID); err != nil {
		p.failed(ref, "cursor")
		return 0, fmt.Errorf("%w: %w", ErrCursor, err)
	}

	if p.opts.Metrics != nil {
		p.opts.Metrics.MessagesProcessed.WithLabelValues(ref.Account).Inc()
	}
	log.WithField("category", category).Debug("Message indexed")
	return OutcomeIndexed, nil
}

// classify never fails: any error or panic yields the default category
func (p *Pipeline) classify(ctx context.Context, log *logrus.Entry, subject string, source []byte) (category string) {
	category = model.DefaultCategory
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Classifier panicked: %v", r)
			category = model.DefaultCategory
			p.classifyFailed()
		}
		if p.opts.Metrics != nil {
			p.opts.Metrics.Classifications.WithLabelValues(category).Inc()
		}
	}()

	req := classifier.Request{Subject: subject}
	if p.opts.IncludeBody {
		body, err := parser.PlainText(source)
		if err != nil {
			log.Warnf("Failed to extract body text, sending raw source: %v", err)
			body = string(source)
		}
		req.Body = body
	}

	label, err := p.classifier.Classify(ctx, req)
	if err == nil && strings.TrimSpace(label) == "" {
		err = classifier.ErrEmptyLabel
	}
	if err != nil {
		log.Warnf("Classification failed, using %s: %v", model.DefaultCategory, err)
		p.classifyFailed()
		return model.DefaultCategory
	}
	return capLabel(strings.TrimSpace(label))
}

// capLabel keeps a label within the category column
func capLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= model.MaxCategoryLength {
		return label
	}
	return string(runes[:model.MaxCategoryLength])
}

func (p *Pipeline) classifyFailed() {
	if p.opts.Metrics != nil {
		p.opts.Metrics.ClassifyFailures.Inc()
	}
}

// notify calls every notifier once; failures are logged and swallowed
func (p *Pipeline) notify(ctx context.Context, log *logrus.Entry, ref model.MessageRef, ev notifier.Event) {
	for _, n := range p.notifiers {
		err := sendRecovered(ctx, n, ev)

		status, errMsg := model.NotificationSuccess, ""
		if err != nil {
			status, errMsg = model.NotificationFailure, err.Error()
			log.WithField("notifier", n.Name()).Errorf("Notification failed: %v", err)
		}

		if p.opts.Metrics != nil {
			if err != nil {
				p.opts.Metrics.NotifyFailures.WithLabelValues(n.Name()).Inc()
			} else {
				p.opts.Metrics.NotifySuccesses.WithLabelValues(n.Name()).Inc()
			}
		}
		if p.opts.Journal != nil {
			if jerr := p.opts.Journal.LogNotification(ctx, ref.ID(), n.Name(), ev.Category, status, errMsg); jerr != nil {
				log.Warnf("Failed to record notification attempt: %v", jerr)
			}
		}
	}
}

func sendRecovered(ctx context.Context, n notifier.Notifier, ev notifier.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier %s panicked: %v", n.Name(), r)
		}
	}()
	return n.Send(ctx, ev)
}

func (p *Pipeline) skipped(ref model.MessageRef) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.MessagesSkipped.WithLabelValues(ref.Account).Inc()
	}
}

func (p *Pipeline) failed(ref model.MessageRef, stage string) {
	if p.opts.Metrics != nil {
		p.opts.Metrics.MessagesFailed.WithLabelValues(ref.Account, stage).Inc()
	}
}
