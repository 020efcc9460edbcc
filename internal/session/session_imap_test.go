package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-aggregator-go/internal/cursor"
	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/mailbox/mailboxtest"
	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/pipeline"
	"mail-aggregator-go/internal/syncer"
)

// fetchingProcessor fetches each message and advances the cursor
type fetchingProcessor struct {
	cursors cursor.Store

	mu   sync.Mutex
	uids []uint32
}

func (p *fetchingProcessor) Process(ctx context.Context, fetcher mailbox.Fetcher, ref model.MessageRef) (pipeline.Outcome, error) {
	if _, err := fetcher.Fetch(ctx, ref.UID); err != nil {
		return pipeline.OutcomeSkipped, err
	}
	if err := p.cursors.Set(ctx, ref.Account, ref.Folder, ref.UID); err != nil {
		return pipeline.OutcomeSkipped, err
	}
	p.mu.Lock()
	p.uids = append(p.uids, ref.UID)
	p.mu.Unlock()
	return pipeline.OutcomeIndexed, nil
}

func (p *fetchingProcessor) Processed() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.uids...)
}

// countingSyncer counts passes of the real folder synchronizer
type countingSyncer struct {
	inner FolderSyncer
	runs  chan string

	mu     sync.Mutex
	passes int
}

func (c *countingSyncer) Sync(ctx context.Context, conn mailbox.Conn, account, folder string, cutoff time.Time) (syncer.Result, error) {
	res, err := c.inner.Sync(ctx, conn, account, folder, cutoff)
	c.mu.Lock()
	c.passes++
	c.mu.Unlock()
	select {
	case c.runs <- folder:
	default:
	}
	return res, err
}

func (c *countingSyncer) Passes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passes
}

func TestWatchOverIMAPWakesOnlyForNewMail(t *testing.T) {
	srv := mailboxtest.NewIMAPServer(t)

	cursors, err := cursor.OpenFile(filepath.Join(t.TempDir(), "cursors.json"))
	require.NoError(t, err)
	defer cursors.Close()

	proc := &fetchingProcessor{cursors: cursors}
	counter := &countingSyncer{
		inner: syncer.New(cursors, proc, nil, nil),
		runs:  make(chan string, 64),
	}
	s := New(srv.Account(), Config{
		Dialer: mailbox.NewIMAPDialer(time.Minute),
		Syncer: counter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Now().Add(-24*time.Hour)) }()

	// backfill: the memory server has a single INBOX
	select {
	case folder := <-counter.runs:
		assert.Equal(t, "INBOX", folder)
	case <-time.After(5 * time.Second):
		t.Fatal("no backfill pass")
	}
	assert.Eventually(t, func() bool { return s.Status().State == StateWatching }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint32{6}, proc.Processed())

	// nothing arrives, nothing runs
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, counter.Passes(), "primary folder synced without new mail")

	uid := srv.Deliver(t, "INBOX", "pushed", time.Now())
	select {
	case folder := <-counter.runs:
		assert.Equal(t, "INBOX", folder)
	case <-time.After(5 * time.Second):
		t.Fatal("pushed mail did not wake the session")
	}
	assert.Equal(t, []uint32{6, uid}, proc.Processed())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, counter.Passes(), "one delivery must cause exactly one pass")

	last, err := cursors.Get(context.Background(), srv.Account().Identity(), "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uid, last)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run ignored cancellation")
	}
}
