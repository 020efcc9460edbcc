// Package syncer computes the unseen-message delta of one folder and drives
// the pipeline over it.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/cursor"
	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/metrics"
	"mail-aggregator-go/internal/model"
	"mail-aggregator-go/internal/pipeline"
)

// Processor handles one message
type Processor interface {
	Process(ctx context.Context, fetcher mailbox.Fetcher, ref model.MessageRef) (pipeline.Outcome, error)
}

// Result summarizes one folder run
type Result struct {
	Folder    string
	Found     int
	Delta     int
	Processed int
	Skipped   int
	Failed    int
	LastUID   uint32
	Reset     bool
}

// Syncer runs folder passes. One Syncer is shared by every account; the lock
// registry keeps runs on the same folder from overlapping.
type Syncer struct {
	cursors cursor.Store
	proc    Processor
	locks   *Locks
	metrics *metrics.Metrics
}

// New creates a syncer. m may be nil.
func New(cursors cursor.Store, proc Processor, locks *Locks, m *metrics.Metrics) *Syncer {
	if locks == nil {
		locks = NewLocks()
	}
	return &Syncer{cursors: cursors, proc: proc, locks: locks, metrics: m}
}

// Sync processes every message in folder that arrived at or after cutoff and
// lies above the cursor, in ascending uid order. Failures of single messages
// are logged and counted; an error is only returned when the folder could not
// be opened, searched or its cursor read.
func (s *Syncer) Sync(ctx context.Context, conn mailbox.Conn, account, folder string, cutoff time.Time) (res Result, err error) {
	res.Folder = folder
	start := time.Now()
	log := logrus.WithFields(logrus.Fields{
		"account": account,
		"folder":  folder,
		"run_id":  uuid.New().String(),
	})

	unlock := s.locks.Lock(account, folder)
	defer unlock()

	defer func() {
		if s.metrics == nil {
			return
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		s.metrics.FolderSyncs.WithLabelValues(result).Inc()
		s.metrics.FolderSyncTime.Observe(time.Since(start).Seconds())
	}()

	status, err := conn.Select(ctx, folder, true)
	if err != nil {
		return res, fmt.Errorf("failed to open folder %s: %w", folder, err)
	}

	res.Reset, err = s.checkEpoch(ctx, log, account, folder, status.UIDValidity)
	if err != nil {
		return res, err
	}

	last, err := s.cursors.Get(ctx, account, folder)
	if err != nil {
		return res, fmt.Errorf("failed to read cursor: %w", err)
	}
	res.LastUID = last

	hits, err := conn.Search(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("failed to search folder %s: %w", folder, err)
	}
	delta := Delta(hits, last, cutoff)
	res.Found, res.Delta = len(hits), len(delta)

	log.WithFields(logrus.Fields{
		"found":  res.Found,
		"delta":  res.Delta,
		"cursor": last,
	}).Info("Folder sync started")

	for _, uid := range delta {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ref := model.MessageRef{Account: account, Folder: folder, UID: uid}
		outcome, err := s.process(ctx, conn, ref)
		if err != nil {
			res.Failed++
			log.WithField("uid", uid).Errorf("Failed to process message: %v", err)
			continue
		}

		switch outcome {
		case pipeline.OutcomeSkipped:
			res.Skipped++
		default:
			res.Processed++
			if uid > res.LastUID {
				res.LastUID = uid
			}
		}
	}

	log.WithFields(logrus.Fields{
		"processed": res.Processed,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"cursor":    res.LastUID,
		"duration":  time.Since(start).String(),
	}).Info("Folder sync complete")
	return res, nil
}

// process isolates a panicking message from the rest of the run
func (s *Syncer) process(ctx context.Context, conn mailbox.Conn, ref model.MessageRef) (outcome pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %s: %v", ref, r)
		}
	}()
	return s.proc.Process(ctx, conn, ref)
}

// checkEpoch records a folder's first UIDVALIDITY and rewinds the cursor when
// the server has renumbered the folder since.
func (s *Syncer) checkEpoch(ctx context.Context, log *logrus.Entry, account, folder string, validity uint32) (bool, error) {
	if validity == 0 {
		return false, nil
	}

	stored, ok, err := s.cursors.Epoch(ctx, account, folder)
	if err != nil {
		return false, fmt.Errorf("failed to read folder epoch: %w", err)
	}
	if !ok {
		if err := s.cursors.SetEpoch(ctx, account, folder, validity); err != nil {
			return false, fmt.Errorf("failed to record folder epoch: %w", err)
		}
		return false, nil
	}
	if stored == validity {
		return false, nil
	}

	log.WithFields(logrus.Fields{
		"old_uid_validity": stored,
		"new_uid_validity": validity,
	}).Warn("UIDVALIDITY changed, resetting cursor")
	if err := s.cursors.ResetEpoch(ctx, account, folder, validity); err != nil {
		return false, fmt.Errorf("failed to reset cursor: %w", err)
	}
	if s.metrics != nil {
		s.metrics.EpochResets.Inc()
	}
	return true, nil
}

// Delta returns the uids above cursor that arrived at or after cutoff, in
// ascending order without duplicates. Hits without a date are kept since the
// server already matched them against the cutoff day.
func Delta(hits []mailbox.Hit, cursor uint32, cutoff time.Time) []uint32 {
	seen := make(map[uint32]bool, len(hits))
	var uids []uint32
	for _, h := range hits {
		if h.UID <= cursor || seen[h.UID] {
			continue
		}
		if !h.Date.IsZero() && h.Date.Before(cutoff) {
			continue
		}
		seen[h.UID] = true
		uids = append(uids, h.UID)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}
