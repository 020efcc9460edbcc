package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// fileState is the persisted document. Cursors is the account -> folder -> uid
// mapping; Epochs holds the UIDVALIDITY each folder's cursor belongs to.
type fileState struct {
	Cursors map[string]map[string]uint32 `json:"cursors"`
	Epochs  map[string]map[string]uint32 `json:"epochs"`
}

func newFileState() *fileState {
	return &fileState{
		Cursors: make(map[string]map[string]uint32),
		Epochs:  make(map[string]map[string]uint32),
	}
}

func (st *fileState) get(m map[string]map[string]uint32, account, folder string) (uint32, bool) {
	v, ok := m[account][folder]
	return v, ok
}

func (st *fileState) put(m map[string]map[string]uint32, account, folder string, v uint32) {
	if m[account] == nil {
		m[account] = make(map[string]uint32)
	}
	m[account][folder] = v
}

type fileRequest struct {
	fn   func(st *fileState) error
	errc chan error
}

// FileStore keeps cursors in a JSON file. A single owner goroutine holds the
// state and performs every read and write, so callers never race on it.
type FileStore struct {
	path string
	reqs chan fileRequest
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// OpenFile loads path (a missing file is an empty mapping) and starts the
// owner goroutine. Files holding a bare account -> folder -> uid mapping are
// accepted and rewritten in the current layout on the next write.
func OpenFile(path string) (*FileStore, error) {
	st, err := load(path)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path: path,
		reqs: make(chan fileRequest),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop(st)
	return s, nil
}

func load(path string) (*fileState, error) {
	st := newFileState()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor file: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}

	var doc fileState
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cursor file: %w", err)
	}
	if doc.Cursors == nil {
		var legacy map[string]map[string]uint32
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("parse cursor file: %w", err)
		}
		logrus.WithField("path", path).Info("Importing legacy cursor file")
		doc.Cursors = legacy
	}
	if doc.Cursors != nil {
		st.Cursors = doc.Cursors
	}
	if doc.Epochs != nil {
		st.Epochs = doc.Epochs
	}
	return st, nil
}

func (s *FileStore) loop(st *fileState) {
	defer close(s.done)
	for {
		select {
		case req := <-s.reqs:
			req.errc <- req.fn(st)
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish
func (s *FileStore) do(ctx context.Context, fn func(st *fileState) error) error {
	req := fileRequest{fn: fn, errc: make(chan error, 1)}
	select {
	case s.reqs <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.errc
}

// persist writes st next to the target and renames it into place
func (s *FileStore) persist(st *fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cursors: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cursor dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cursor file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cursor file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync cursor file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cursor file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cursor file: %w", err)
	}
	return nil
}

// Get returns the stored uid or 0
func (s *FileStore) Get(ctx context.Context, account, folder string) (uint32, error) {
	var uid uint32
	err := s.do(ctx, func(st *fileState) error {
		uid, _ = st.get(st.Cursors, account, folder)
		return nil
	})
	return uid, err
}

// Set advances the cursor and persists the file; a failed write leaves the
// in-memory value unchanged.
func (s *FileStore) Set(ctx context.Context, account, folder string, uid uint32) error {
	return s.do(ctx, func(st *fileState) error {
		prev, ok := st.get(st.Cursors, account, folder)
		if ok && uid <= prev {
			return nil
		}
		st.put(st.Cursors, account, folder, uid)
		if err := s.persist(st); err != nil {
			restore(st.Cursors, account, folder, prev, ok)
			return err
		}
		return nil
	})
}

// Epoch returns the recorded UIDVALIDITY
func (s *FileStore) Epoch(ctx context.Context, account, folder string) (uint32, bool, error) {
	var validity uint32
	var ok bool
	err := s.do(ctx, func(st *fileState) error {
		validity, ok = st.get(st.Epochs, account, folder)
		return nil
	})
	return validity, ok && validity != 0, err
}

// SetEpoch records validity, keeping the stored uid
func (s *FileStore) SetEpoch(ctx context.Context, account, folder string, validity uint32) error {
	return s.do(ctx, func(st *fileState) error {
		prev, had := st.get(st.Epochs, account, folder)
		st.put(st.Epochs, account, folder, validity)
		if err := s.persist(st); err != nil {
			restore(st.Epochs, account, folder, prev, had)
			return err
		}
		return nil
	})
}

// ResetEpoch records validity and rewinds the cursor to 0
func (s *FileStore) ResetEpoch(ctx context.Context, account, folder string, validity uint32) error {
	return s.do(ctx, func(st *fileState) error {
		prevUID, hadUID := st.get(st.Cursors, account, folder)
		prevEpoch, hadEpoch := st.get(st.Epochs, account, folder)
		st.put(st.Cursors, account, folder, 0)
		st.put(st.Epochs, account, folder, validity)
		if err := s.persist(st); err != nil {
			restore(st.Cursors, account, folder, prevUID, hadUID)
			restore(st.Epochs, account, folder, prevEpoch, hadEpoch)
			return err
		}
		return nil
	})
}

func restore(m map[string]map[string]uint32, account, folder string, v uint32, had bool) {
	if had {
		m[account][folder] = v
		return
	}
	delete(m[account], folder)
}

// Close stops the owner goroutine. Later calls return ErrClosed.
func (s *FileStore) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.done
	return nil
}
