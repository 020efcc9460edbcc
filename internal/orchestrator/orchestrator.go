// Package orchestrator runs one independent session per configured account.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/metrics"
	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/session"
)

// ErrUnknownAccount is returned for accounts that are not configured
var ErrUnknownAccount = errors.New("unknown account")

// Options configures the orchestrator
type Options struct {
	// BackfillWindow sets the cutoff, computed once at Start
	BackfillWindow time.Duration
	// RescanSchedule is a cron spec with seconds; empty disables the sweep
	RescanSchedule string
	Metrics        *metrics.Metrics
}

// Orchestrator starts and tracks the account sessions
type Orchestrator struct {
	cron     *cron.Cron
	entryID  cron.EntryID
	opts     Options
	sessions []*session.Session
	metrics  *metrics.Metrics
	cutoff   time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	isRunning bool
	mu        sync.RWMutex
}

// New creates a session per account, in configuration order
func New(accounts []model.Account, cfg session.Config, opts Options) *Orchestrator {
	sessions := make([]*session.Session, 0, len(accounts))
	for _, a := range accounts {
		sessions = append(sessions, session.New(a, cfg))
	}

	return &Orchestrator{
		cron:     cron.New(cron.WithSeconds()),
		opts:     opts,
		sessions: sessions,
		metrics:  opts.Metrics,
	}
}

// Start launches every account loop and the optional rescan sweep
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isRunning {
		return fmt.Errorf("orchestrator is already running")
	}

	if o.opts.RescanSchedule != "" {
		entryID, err := o.cron.AddFunc(o.opts.RescanSchedule, o.sweep)
		if err != nil {
			return fmt.Errorf("failed to add cron job: %w", err)
		}
		o.entryID = entryID
	}

	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.cutoff = time.Now().Add(-o.opts.BackfillWindow)

	for _, s := range o.sessions {
		o.wg.Add(1)
		go o.runAccount(s)
	}

	o.cron.Start()
	o.isRunning = true

	logrus.WithFields(logrus.Fields{
		"accounts": len(o.sessions),
		"cutoff":   o.cutoff.Format(time.RFC3339),
		"rescan":   o.opts.RescanSchedule,
	}).Info("Orchestrator started")
	return nil
}

// runAccount owns one account for the life of the process. Errors end only
// this account; there is no reconnect.
func (o *Orchestrator) runAccount(s *session.Session) {
	defer o.wg.Done()
	log := logrus.WithField("account", s.Account().Identity())

	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
		defer o.metrics.ActiveSessions.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Account loop panicked: %v", r)
			s.Close()
		}
	}()

	err := s.Run(o.ctx, o.cutoff)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("Account loop stopped")
	default:
		log.Errorf("Account loop terminated: %v", err)
	}
}

// sweep injects a rescan into every session
func (o *Orchestrator) sweep() {
	queued := o.RescanAll()
	logrus.WithField("sessions", queued).Debug("Rescan sweep")
}

// Stop cancels every account loop and waits for them to finish
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.isRunning {
		return nil
	}

	// Cancel context to stop any running operations
	o.cancel()

	ctx := o.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Orchestrator stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Orchestrator stop timeout, forcing shutdown")
	}

	o.isRunning = false
	return nil
}

// IsRunning returns whether the orchestrator is running
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isRunning
}

// Wait blocks until every account loop has returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Cutoff returns the recency cutoff fixed at Start
func (o *Orchestrator) Cutoff() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cutoff
}

// Statuses returns one status per account in configuration order
func (o *Orchestrator) Statuses() []session.Status {
	statuses := make([]session.Status, 0, len(o.sessions))
	for _, s := range o.sessions {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

// Rescan queues a rescan of account's primary folder. account may be the
// address or the configured name.
func (o *Orchestrator) Rescan(account string) error {
	for _, s := range o.sessions {
		a := s.Account()
		if a.Identity() == account || a.Name == account {
			if !s.Notify(mailbox.Event{Kind: mailbox.EventRescan}) {
				logrus.WithField("account", account).Debug("Rescan already pending")
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
}

// RescanAll queues a rescan on every watching session and returns how many
func (o *Orchestrator) RescanAll() int {
	n := 0
	for _, s := range o.sessions {
		if s.Status().State != session.StateWatching {
			continue
		}
		if s.Notify(mailbox.Event{Kind: mailbox.EventRescan}) {
			n++
		}
	}
	return n
}

// NextRescan returns the time of the next scheduled sweep
func (o *Orchestrator) NextRescan() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.isRunning || o.entryID == 0 {
		return time.Time{}
	}
	return o.cron.Entry(o.entryID).Next
}
