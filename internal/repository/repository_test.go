package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-aggregator-go/internal/db/dbtest"
	"mail-aggregator-go/internal/model"
)

func record(uid uint32, category string) *model.MessageRecord {
	return &model.MessageRecord{
		Account:  "a@x.com",
		Folder:   "INBOX",
		UID:      uid,
		Date:     time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		From:     "bob@example.com",
		To:       "a@x.com",
		Subject:  "Re: demo",
		Body:     "raw",
		Category: category,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))

	first := record(101, "Spam")
	id := first.Ref().ID()
	require.Equal(t, "a@x.com-INBOX-101", id)

	require.NoError(t, repo.Upsert(ctx, id, first))
	require.NoError(t, repo.Upsert(ctx, id, record(101, "Interested")))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Interested", got.Category)
	assert.Equal(t, "bob@example.com", got.From)
	assert.False(t, got.IndexedAt.IsZero())
}

func TestUpsertRequiresID(t *testing.T) {
	repo := New(dbtest.Open(t))
	assert.Error(t, repo.Upsert(context.Background(), "", record(1, "Spam")))
}

func TestGetMissing(t *testing.T) {
	repo := New(dbtest.Open(t))
	got, err := repo.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestListByFolderOrdersByUID(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))

	for _, uid := range []uint32{7, 5, 6} {
		rec := record(uid, "Spam")
		require.NoError(t, repo.Upsert(ctx, rec.Ref().ID(), rec))
	}

	recs, err := repo.ListByFolder(ctx, "a@x.com", "INBOX")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []uint32{5, 6, 7}, []uint32{recs[0].UID, recs[1].UID, recs[2].UID})
}

func TestLogNotification(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))

	require.NoError(t, repo.LogNotification(ctx, "a@x.com-INBOX-101", "slack", "Interested", model.NotificationSuccess, ""))
	require.NoError(t, repo.LogNotification(ctx, "a@x.com-INBOX-101", "webhook", "Interested", model.NotificationFailure, "status 500"))

	logs, err := repo.Notifications(ctx, "a@x.com-INBOX-101")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "slack", logs[0].Notifier)
	assert.Equal(t, model.NotificationFailure, logs[1].Status)
	assert.Equal(t, "status 500", logs[1].ErrorMsg)
}

func TestRecentNotifications(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))

	for _, id := range []string{"a-INBOX-1", "a-INBOX-2", "a-INBOX-3"} {
		require.NoError(t, repo.LogNotification(ctx, id, "slack", "Interested", model.NotificationSuccess, ""))
	}

	logs, err := repo.RecentNotifications(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a-INBOX-3", logs[0].MessageID)
	assert.Equal(t, "a-INBOX-2", logs[1].MessageID)

	require.NoError(t, repo.Ping(ctx))
}
