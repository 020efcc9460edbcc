// Package mailbox defines the connection surface the sync engine drives and
// its go-imap implementation.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mail-aggregator-go/internal/model"
)

// EventKind identifies what woke a watching session
type EventKind int

const (
	// EventNewMail is pushed by the server when the selected folder grows
	EventNewMail EventKind = iota
	// EventRescan is a synthetic event asking for another pass
	EventRescan
	// EventDisconnected reports that the connection is gone
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventNewMail:
		return "new_mail"
	case EventRescan:
		return "rescan"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on an account's event channel
type Event struct {
	Kind   EventKind
	Folder string
	Count  uint32
	Err    error
}

// Folder is one entry of the server's folder list
type Folder struct {
	Name       string
	Delimiter  string
	Attributes []string
	Selectable bool
	SpecialUse string
}

// Status is the state of a selected folder
type Status struct {
	Name        string
	UIDValidity uint32
	Messages    uint32
	UIDNext     uint32
}

// Envelope holds the header fields the pipeline indexes
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []string
	To        []string
	MessageID string
}

// Message is a fetched message. Envelope may be nil and Source empty when the
// server could not supply them.
type Message struct {
	UID          uint32
	Envelope     *Envelope
	InternalDate time.Time
	Source       []byte
}

// Hit is one search result with its arrival date
type Hit struct {
	UID  uint32
	Date time.Time
}

// Fetcher retrieves single messages from the selected folder
type Fetcher interface {
	Fetch(ctx context.Context, uid uint32) (*Message, error)
}

// Conn is one authenticated connection. It is not safe for concurrent
// commands; Idle must return before any other method is called.
type Conn interface {
	Fetcher
	List(ctx context.Context) ([]Folder, error)
	Select(ctx context.Context, name string, readOnly bool) (*Status, error)
	Search(ctx context.Context, since time.Time) ([]Hit, error)
	// Idle blocks until stop is closed or the connection fails
	Idle(stop <-chan struct{}) error
	Logout() error
}

// Dialer opens connections. Server pushes for the connection are sent to
// events without blocking.
type Dialer interface {
	Dial(ctx context.Context, account model.Account, events chan<- Event) (Conn, error)
}

// ErrNotFound is returned by Fetch when the uid no longer exists
var ErrNotFound = errors.New("message not found")

// AuthError indicates that the server rejected the account's credentials
type AuthError struct {
	Account string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %v", e.Account, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
