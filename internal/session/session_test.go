package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/mailbox/mailboxtest"
	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/syncer"
)

var testAccount = model.Account{
	Name:          "a",
	Address:       "a@x.com",
	Host:          "imap.x.com",
	Port:          993,
	Secure:        true,
	ForceInclude:  []string{"[Gmail]/Sent Mail"},
	PrimaryFolder: "INBOX",
}

// recordingSyncer records folder passes
type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	runs  chan string
}

func newRecordingSyncer() *recordingSyncer {
	return &recordingSyncer{errs: make(map[string]error), runs: make(chan string, 64)}
}

func (r *recordingSyncer) Sync(ctx context.Context, conn mailbox.Conn, account, folder string, cutoff time.Time) (syncer.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, folder)
	err := r.errs[folder]
	r.mu.Unlock()

	select {
	case r.runs <- folder:
	default:
	}
	return syncer.Result{Folder: folder, Processed: 1}, err
}

func (r *recordingSyncer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingSyncer) fail(folder string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[folder] = err
}

func gmailConn() *mailboxtest.Conn {
	conn := mailboxtest.NewConn()
	conn.AddFolder(mailbox.Folder{Name: "INBOX", Selectable: true})
	conn.AddFolder(mailbox.Folder{Name: "[Gmail]", Attributes: []string{`\Noselect`}})
	conn.AddFolder(mailbox.Folder{Name: "[Gmail]/Sent Mail", Attributes: []string{`\Noselect`, `\Sent`}, SpecialUse: `\Sent`})
	conn.AddFolder(mailbox.Folder{Name: "Trash", Selectable: true})
	return conn
}

func setup(t *testing.T, opts ...func(*Config)) (*Session, *mailboxtest.Conn, *recordingSyncer) {
	t.Helper()
	conn := gmailConn()
	dialer := mailboxtest.NewDialer()
	dialer.Add(testAccount.Identity(), conn)
	rec := newRecordingSyncer()

	cfg := Config{Dialer: dialer, Syncer: rec}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(testAccount, cfg), conn, rec
}

func waitRun(t *testing.T, rec *recordingSyncer, folder string) {
	t.Helper()
	select {
	case got := <-rec.runs:
		assert.Equal(t, folder, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no sync of %s", folder)
	}
}

func waitIdle(t *testing.T, conn *mailboxtest.Conn) {
	t.Helper()
	select {
	case <-conn.Idling():
	case <-time.After(2 * time.Second):
		t.Fatal("session never started idling")
	}
}

func TestConnectFailure(t *testing.T) {
	dialer := mailboxtest.NewDialer()
	dialer.Fail(testAccount.Identity(), &mailbox.AuthError{Account: testAccount.Identity(), Err: errors.New("bad credentials")})

	s, err := Connect(context.Background(), testAccount, Config{Dialer: dialer, Syncer: newRecordingSyncer()})
	assert.Nil(t, s)

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "a@x.com", cerr.Account)
	assert.True(t, mailbox.IsAuthError(err))
}

func TestListFoldersHonoursAllowList(t *testing.T) {
	s, _, _ := setup(t)
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.Status().State)

	folders, err := s.ListFolders(context.Background())
	require.NoError(t, err)

	var names []string
	for _, f := range folders {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"INBOX", "[Gmail]/Sent Mail", "Trash"}, names)
}

func TestListFoldersRequiresConnection(t *testing.T) {
	s, _, _ := setup(t)
	_, err := s.ListFolders(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestBackfillIsSequentialAndSurvivesFolderErrors(t *testing.T) {
	s, _, rec := setup(t)
	rec.fail("[Gmail]/Sent Mail", errors.New("NO [NONEXISTENT]"))
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Backfill(context.Background(), time.Now().Add(-24*time.Hour)))
	assert.Equal(t, []string{"INBOX", "[Gmail]/Sent Mail", "Trash"}, rec.Calls())

	st := s.Status()
	assert.Equal(t, []string{"INBOX", "[Gmail]/Sent Mail", "Trash"}, st.Folders)
	assert.Contains(t, st.LastError, "NONEXISTENT")
}

func TestWatchHandlesEventsUntilDisconnect(t *testing.T) {
	s, conn, rec := setup(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Now().Add(-24*time.Hour)) }()

	for _, folder := range []string{"INBOX", "[Gmail]/Sent Mail", "Trash"} {
		waitRun(t, rec, folder)
	}
	waitIdle(t, conn)
	assert.Equal(t, StateWatching, s.Status().State)

	// synthetic event
	require.True(t, s.Notify(mailbox.Event{Kind: mailbox.EventRescan}))
	waitRun(t, rec, "INBOX")
	waitIdle(t, conn)

	// server push
	conn.Push(mailbox.Event{Kind: mailbox.EventNewMail, Folder: "INBOX", Count: 4})
	waitRun(t, rec, "INBOX")
	waitIdle(t, conn)

	conn.Break(errors.New("EOF"))

	select {
	case err := <-done:
		var cerr *ConnectionError
		assert.ErrorAs(t, err, &cerr)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not end after the connection broke")
	}

	st := s.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.NotEmpty(t, st.LastError)
	assert.False(t, conn.LoggedIn())
}

func TestWatchDisconnectedEvent(t *testing.T) {
	s, conn, rec := setup(t)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), time.Now()) }()

	for i := 0; i < 3; i++ {
		<-rec.runs
	}
	waitIdle(t, conn)
	conn.Push(mailbox.Event{Kind: mailbox.EventDisconnected})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not end")
	}
}

func TestWatchIgnoresOtherFolders(t *testing.T) {
	s, conn, rec := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, time.Now())

	for i := 0; i < 3; i++ {
		<-rec.runs
	}
	waitIdle(t, conn)

	conn.Push(mailbox.Event{Kind: mailbox.EventNewMail, Folder: "Trash"})
	waitIdle(t, conn)

	select {
	case folder := <-rec.runs:
		t.Fatalf("unexpected sync of %s", folder)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchTimeoutTriggersRescan(t *testing.T) {
	s, _, rec := setup(t, func(c *Config) { c.WatchTimeout = 20 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, time.Now())

	for i := 0; i < 3; i++ {
		<-rec.runs
	}
	waitRun(t, rec, "INBOX")
	waitRun(t, rec, "INBOX")
}

func TestWatchWithoutTimeoutBlocks(t *testing.T) {
	s, conn, rec := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, time.Now())

	for i := 0; i < 3; i++ {
		<-rec.runs
	}
	waitIdle(t, conn)

	select {
	case folder := <-rec.runs:
		t.Fatalf("sync of %s without an event", folder)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, conn, rec := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Now()) }()
	for i := 0; i < 3; i++ {
		<-rec.runs
	}
	waitIdle(t, conn)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run ignored cancellation")
	}
	assert.Equal(t, StateDisconnected, s.Status().State)
	assert.False(t, conn.LoggedIn())
}

func TestWatchEndsWhenPrimaryFails(t *testing.T) {
	s, conn, rec := setup(t)
	conn.SelectErr["INBOX"] = errors.New("NO mailbox gone")

	// backfill passes through the recording syncer; the watch select fails
	err := s.Run(context.Background(), time.Now())
	assert.ErrorIs(t, err, ErrWatchEnded)
	assert.Len(t, rec.Calls(), 3)
	assert.Equal(t, StateFailed, s.Status().State)
}

func TestWatchEndsWhenPrimarySyncFails(t *testing.T) {
	s, conn, rec := setup(t)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), time.Now()) }()

	for i := 0; i < 3; i++ {
		<-rec.runs
	}
	waitIdle(t, conn)
	rec.fail("INBOX", errors.New("BAD search"))
	s.Notify(mailbox.Event{Kind: mailbox.EventRescan})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWatchEnded)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not end")
	}
}

func TestNotifyDoesNotBlock(t *testing.T) {
	s, _, _ := setup(t, func(c *Config) { c.EventBuffer = 1 })
	assert.True(t, s.Notify(mailbox.Event{Kind: mailbox.EventRescan}))
	assert.False(t, s.Notify(mailbox.Event{Kind: mailbox.EventRescan}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "watching", StateWatching.String())
	text, err := StateFailed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(text))
}
