package cursor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-aggregator-go/internal/db/dbtest"
)

// storeFactories lets every contract test run against both backends
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"gorm": func(t *testing.T) Store {
			return NewGormStore(dbtest.Open(t))
		},
		"file": func(t *testing.T) Store {
			s, err := OpenFile(filepath.Join(t.TempDir(), "uid_tracker.json"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreDefaultsToZero(t *testing.T) {
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			uid, err := open(t).Get(context.Background(), "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.Equal(t, uint32(0), uid)
		})
	}
}

func TestStoreIsMonotonic(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			steps := []struct {
				set  uint32
				want uint32
			}{
				{5, 5},
				{3, 5},
				{5, 5},
				{9, 9},
				{1, 9},
			}
			for _, step := range steps {
				require.NoError(t, s.Set(ctx, "a@x.com", "INBOX", step.set))
				got, err := s.Get(ctx, "a@x.com", "INBOX")
				require.NoError(t, err)
				assert.Equal(t, step.want, got, "after set %d", step.set)
			}
		})
	}
}

func TestStoreConcurrentSetsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	accounts := []string{"a@x.com", "b@x.com"}
	folders := []string{"INBOX", "Sent", "Archive", "Work"}

	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			var wg sync.WaitGroup
			for _, account := range accounts {
				for _, folder := range folders {
					wg.Add(1)
					go func(account, folder string) {
						defer wg.Done()
						for uid := uint32(1); uid <= 25; uid++ {
							assert.NoError(t, s.Set(ctx, account, folder, uid))
						}
					}(account, folder)
				}
			}
			wg.Wait()

			for _, account := range accounts {
				for _, folder := range folders {
					got, err := s.Get(ctx, account, folder)
					require.NoError(t, err)
					assert.Equal(t, uint32(25), got, "%s/%s", account, folder)
				}
			}
		})
	}
}

func TestStoreEpochs(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, ok, err := s.Epoch(ctx, "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "a@x.com", "INBOX", 40))
			require.NoError(t, s.SetEpoch(ctx, "a@x.com", "INBOX", 1001))

			validity, ok, err := s.Epoch(ctx, "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint32(1001), validity)

			uid, err := s.Get(ctx, "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.Equal(t, uint32(40), uid, "recording an epoch keeps the cursor")

			require.NoError(t, s.ResetEpoch(ctx, "a@x.com", "INBOX", 2002))
			uid, err = s.Get(ctx, "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.Equal(t, uint32(0), uid)

			validity, _, err = s.Epoch(ctx, "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.Equal(t, uint32(2002), validity)

			require.NoError(t, s.Set(ctx, "a@x.com", "INBOX", 2))
			uid, err = s.Get(ctx, "a@x.com", "INBOX")
			require.NoError(t, err)
			assert.Equal(t, uint32(2), uid)
		})
	}
}

func TestStoreResetEpochCreatesMissingRow(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.ResetEpoch(ctx, "a@x.com", "Sent", 7))

			validity, ok, err := s.Epoch(ctx, "a@x.com", "Sent")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint32(7), validity)
		})
	}
}

func TestStoreKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			for i, key := range [][2]string{{"a@x.com", "INBOX"}, {"a@x.com", "Sent"}, {"b@x.com", "INBOX"}} {
				require.NoError(t, s.Set(ctx, key[0], key[1], uint32(10*(i+1))))
			}
			for i, key := range [][2]string{{"a@x.com", "INBOX"}, {"a@x.com", "Sent"}, {"b@x.com", "INBOX"}} {
				got, err := s.Get(ctx, key[0], key[1])
				require.NoError(t, err)
				assert.Equal(t, uint32(10*(i+1)), got, fmt.Sprintf("%s/%s", key[0], key[1]))
			}
		})
	}
}
