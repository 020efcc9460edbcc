// Package notifiertest provides a recording Notifier for tests.
package notifiertest

import (
	"context"
	"sync"

	"mail-aggregator-go/internal/notifier"
)

// Recorder records every event it is sent
type Recorder struct {
	name string

	mu     sync.Mutex
	events []notifier.Event
	// Err is returned from Send after recording the event
	Err error
	// Panic makes Send panic after recording the event
	Panic bool
}

// New creates a recorder reporting name
func New(name string) *Recorder {
	return &Recorder{name: name}
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) Send(ctx context.Context, ev notifier.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	err, panics := r.Err, r.Panic
	r.mu.Unlock()

	if panics {
		panic("notifier exploded")
	}
	return err
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []notifier.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifier.Event(nil), r.events...)
}
