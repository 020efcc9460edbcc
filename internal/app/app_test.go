package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-aggregator-go/internal/config"
	"mail-aggregator-go/internal/cursor"
	"mail-aggregator-go/internal/db/dbtest"
)

func TestNewCursorStore(t *testing.T) {
	ctx := context.Background()

	t.Run("database", func(t *testing.T) {
		store, err := newCursorStore(config.CursorConfig{Driver: config.CursorDatabase}, dbtest.Open(t))
		require.NoError(t, err)
		assert.IsType(t, &cursor.GormStore{}, store)
		require.NoError(t, store.Set(ctx, "a@x.com", "INBOX", 7))
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "uid_tracker.json")
		store, err := newCursorStore(config.CursorConfig{Driver: config.CursorFile, Path: path}, nil)
		require.NoError(t, err)
		require.NoError(t, store.Set(ctx, "a@x.com", "INBOX", 7))
		closer, ok := store.(io.Closer)
		require.True(t, ok)
		require.NoError(t, closer.Close())
		assert.FileExists(t, path)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := newCursorStore(config.CursorConfig{Driver: "redis"}, nil)
		assert.Error(t, err)
	})
}

func TestSetLogLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	setLogLevel("debug")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	setLogLevel("loud")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, Run(path))
}
