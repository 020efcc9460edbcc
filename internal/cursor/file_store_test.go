package cursor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "uid_tracker.json")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a@x.com", "INBOX", 103))
	require.NoError(t, s.SetEpoch(ctx, "a@x.com", "INBOX", 5))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]map[string]uint32
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, uint32(103), doc["cursors"]["a@x.com"]["INBOX"])
	assert.Equal(t, uint32(5), doc["epochs"]["a@x.com"]["INBOX"])

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	defer reopened.Close()

	uid, err := reopened.Get(ctx, "a@x.com", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(103), uid)
}

func TestFileStoreImportsLegacyMapping(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "uid_tracker.json")
	legacy := `{"a@x.com": {"INBOX": 12, "[Gmail]/Sent Mail": 4}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s, err := OpenFile(path)
	require.NoError(t, err)
	defer s.Close()

	uid, err := s.Get(ctx, "a@x.com", "[Gmail]/Sent Mail")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), uid)

	_, ok, err := s.Epoch(ctx, "a@x.com", "INBOX")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uid_tracker.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestFileStoreClosed(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "uid_tracker.json"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "a@x.com", "INBOX")
	assert.ErrorIs(t, err, ErrClosed)
}
