// Package session owns one account's connection: folder enumeration, the
// startup backfill and the push-wait on the primary folder.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/syncer"
)

// State is the lifecycle state of a session
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateWatching
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateWatching:
		return "watching"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrWatchEnded is returned when the primary folder can no longer be synced
	ErrWatchEnded = errors.New("watch ended")
	// ErrConnectionClosed is the cause when the server drops the connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is returned by operations that need a live connection
	ErrNotConnected = errors.New("session not connected")
)

// ConnectionError is an authentication or network failure of one account
type ConnectionError struct {
	Account string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FolderSyncer runs one folder pass
type FolderSyncer interface {
	Sync(ctx context.Context, conn mailbox.Conn, account, folder string, cutoff time.Time) (syncer.Result, error)
}

// Config holds the collaborators shared by every session
type Config struct {
	Dialer mailbox.Dialer
	Syncer FolderSyncer
	// WatchTimeout ends each push-wait with a rescan when > 0. Zero waits
	// until the server pushes or the connection drops.
	WatchTimeout time.Duration
	// EventBuffer sizes the per-account event channel
	EventBuffer int
}

// Status is a point-in-time view of a session
type Status struct {
	Account   string    `json:"account"`
	State     State     `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	Folders   []string  `json:"folders,omitempty"`
	Synced    int       `json:"synced_messages"`
}

// Session is bound to one account for the life of the process
type Session struct {
	account model.Account
	cfg     Config
	events  chan mailbox.Event
	log     *logrus.Entry

	mu       sync.RWMutex
	conn     mailbox.Conn
	state    State
	lastErr  error
	lastSync time.Time
	folders  []string
	synced   int
}

// New creates a disconnected session
func New(account model.Account, cfg Config) *Session {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	return &Session{
		account: account,
		cfg:     cfg,
		events:  make(chan mailbox.Event, cfg.EventBuffer),
		log:     logrus.WithField("account", account.Identity()),
	}
}

// Connect creates a session and connects it
func Connect(ctx context.Context, account model.Account, cfg Config) (*Session, error) {
	s := New(account, cfg)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Account returns the account the session is bound to
func (s *Session) Account() model.Account {
	return s.account
}

// Connect dials and authenticates. Failures are *ConnectionError.
func (s *Session) Connect(ctx context.Context) error {
	conn, err := s.cfg.Dialer.Dial(ctx, s.account, s.events)
	if err != nil {
		cerr := &ConnectionError{Account: s.account.Identity(), Err: err}
		s.setFailed(cerr)
		return cerr
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

func (s *Session) connection() (mailbox.Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// ListFolders returns the folders to synchronize in server order: every
// selectable folder plus force-included ones the server marks \Noselect.
func (s *Session) ListFolders(ctx context.Context) ([]mailbox.Folder, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	all, err := conn.List(ctx)
	if err != nil {
		return nil, err
	}

	var folders []mailbox.Folder
	for _, f := range all {
		if !f.Selectable && !s.account.ForceIncluded(f.Name) {
			s.log.WithField("folder", f.Name).Debug("Skipping non-selectable folder")
			continue
		}
		folders = append(folders, f)
	}
	return folders, nil
}

// Backfill syncs every listed folder one after another. A folder error is
// logged and the next folder still runs.
func (s *Session) Backfill(ctx context.Context, cutoff time.Time) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}

	folders, err := s.ListFolders(ctx)
	if err != nil {
		return &ConnectionError{Account: s.account.Identity(), Err: fmt.Errorf("failed to list folders: %w", err)}
	}

	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.Name)
	}
	s.mu.Lock()
	s.folders = names
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"folders": len(folders),
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Starting backfill")

	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.sync(ctx, conn, f.Name, cutoff); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WithField("folder", f.Name).Errorf("Folder sync failed: %v", err)
		}
	}
	return nil
}

func (s *Session) sync(ctx context.Context, conn mailbox.Conn, folder string, cutoff time.Time) (syncer.Result, error) {
	res, err := s.cfg.Syncer.Sync(ctx, conn, s.account.Identity(), folder, cutoff)

	s.mu.Lock()
	s.lastSync = time.Now()
	s.synced += res.Processed
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	return res, err
}

// Watch opens the primary folder and blocks on the event channel. Each new
// mail or rescan event runs a full pass of the primary folder before waiting
// resumes. It returns on disconnect, on a failed pass, or when ctx ends.
func (s *Session) Watch(ctx context.Context, cutoff time.Time) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}

	primary := s.account.Primary()
	log := s.log.WithField("folder", primary)
	if _, err := conn.Select(ctx, primary, true); err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", ErrWatchEnded, primary, err)
	}
	s.setState(StateWatching)
	log.Info("Watching for new mail")

	for {
		ev, err := s.wait(ctx, conn, primary)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case mailbox.EventDisconnected:
			cause := ev.Err
			if cause == nil {
				cause = ErrConnectionClosed
			}
			return &ConnectionError{Account: s.account.Identity(), Err: cause}
		case mailbox.EventNewMail:
			if ev.Folder != "" && ev.Folder != primary {
				log.WithField("event_folder", ev.Folder).Debug("Ignoring update for another folder")
				continue
			}
		}

		log.WithField("event", ev.Kind.String()).Debug("Woken, syncing")
		if _, err := s.sync(ctx, conn, primary, cutoff); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrWatchEnded, err)
		}
	}
}

// wait idles until an event, the watch timeout, a connection failure or ctx.
// Idle has always returned when wait does.
func (s *Session) wait(ctx context.Context, conn mailbox.Conn, primary string) (mailbox.Event, error) {
	stop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() { idleDone <- conn.Idle(stop) }()

	var timeout <-chan time.Time
	if s.cfg.WatchTimeout > 0 {
		timer := time.NewTimer(s.cfg.WatchTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var ev mailbox.Event
	select {
	case <-ctx.Done():
		close(stop)
		<-idleDone
		return ev, ctx.Err()
	case err := <-idleDone:
		if err == nil {
			err = ErrConnectionClosed
		}
		return ev, &ConnectionError{Account: s.account.Identity(), Err: fmt.Errorf("idle failed: %w", err)}
	case ev = <-s.events:
	case <-timeout:
		ev = mailbox.Event{Kind: mailbox.EventRescan, Folder: primary}
	}

	close(stop)
	if err := <-idleDone; err != nil && ev.Kind != mailbox.EventDisconnected {
		return ev, &ConnectionError{Account: s.account.Identity(), Err: fmt.Errorf("idle failed: %w", err)}
	}
	return ev, nil
}

// Run connects when needed, backfills, then watches until an error or ctx
// ends. The connection is closed on return.
func (s *Session) Run(ctx context.Context, cutoff time.Time) error {
	if _, err := s.connection(); err != nil {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	err := s.Backfill(ctx, cutoff)
	if err == nil {
		err = s.Watch(ctx, cutoff)
	}

	s.Close()
	if err != nil && ctx.Err() == nil {
		s.setFailed(err)
	}
	return err
}

// Notify injects an event without blocking. It reports false when the
// channel is full, in which case a pending event will wake the session anyway.
func (s *Session) Notify(ev mailbox.Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Status returns the current state
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Account:  s.account.Identity(),
		State:    s.state,
		LastSync: s.lastSync,
		Folders:  append([]string(nil), s.folders...),
		Synced:   s.synced,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Close logs out. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.state != StateFailed {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Logout(); err != nil {
		s.log.Warnf("Logout failed: %v", err)
		return err
	}
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.lastErr = err
}
