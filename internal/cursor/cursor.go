// Package cursor persists the per-(account, folder) progress watermark.
//
// A cursor only moves forward within a folder epoch: Set ignores any uid at or
// below the stored value. ResetEpoch is the single way to lower it, used when a
// folder's UIDVALIDITY changes and its uids are renumbered.
package cursor

import (
	"context"
	"errors"
)

// ErrClosed is returned by a store after Close
var ErrClosed = errors.New("cursor store closed")

// Store is the sole authority for which uids have been handled
type Store interface {
	// Get returns the last processed uid, 0 when none is recorded
	Get(ctx context.Context, account, folder string) (uint32, error)
	// Set durably advances the cursor to uid; lower values are ignored
	Set(ctx context.Context, account, folder string, uid uint32) error
	// Epoch returns the UIDVALIDITY the cursor belongs to; ok is false when unknown
	Epoch(ctx context.Context, account, folder string) (validity uint32, ok bool, err error)
	// SetEpoch records the UIDVALIDITY without moving the cursor
	SetEpoch(ctx context.Context, account, folder string, validity uint32) error
	// ResetEpoch sets the cursor to 0 under a new UIDVALIDITY
	ResetEpoch(ctx context.Context, account, folder string, validity uint32) error
}
