// Package mailboxtest provides an in-memory mailbox.Conn for tests.
package mailboxtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mail-aggregator-go/internal/mailbox"
	"mail-aggregator-go/internal/model"
)

// ErrBroken is returned by a Conn after Break
var ErrBroken = errors.New("connection broken")

// Conn is a scriptable in-memory connection
type Conn struct {
	mu sync.Mutex

	folders  []mailbox.Folder
	messages map[string]map[uint32]*mailbox.Message
	validity map[string]uint32
	selected string

	// FetchErr, SelectErr and SearchErr inject failures
	FetchErr  map[uint32]error
	SelectErr map[string]error
	SearchErr error

	selects  []string
	fetches  []uint32
	events   chan<- mailbox.Event
	idling   chan struct{}
	broken   chan struct{}
	breakErr error
	loggedIn bool
}

// NewConn creates an empty connection
func NewConn() *Conn {
	return &Conn{
		messages:  make(map[string]map[uint32]*mailbox.Message),
		validity:  make(map[string]uint32),
		FetchErr:  make(map[uint32]error),
		SelectErr: make(map[string]error),
		idling:    make(chan struct{}, 16),
		broken:    make(chan struct{}),
		loggedIn:  true,
	}
}

// AddFolder appends a folder to the list result
func (c *Conn) AddFolder(f mailbox.Folder) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.folders = append(c.folders, f)
	if c.validity[f.Name] == 0 {
		c.validity[f.Name] = 1
	}
	return c
}

// SetValidity changes a folder's UIDVALIDITY
func (c *Conn) SetValidity(folder string, validity uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validity[folder] = validity
}

// AddMessage stores msg in folder
func (c *Conn) AddMessage(folder string, msg *mailbox.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messages[folder] == nil {
		c.messages[folder] = make(map[uint32]*mailbox.Message)
	}
	c.messages[folder][msg.UID] = msg
	if c.validity[folder] == 0 {
		c.validity[folder] = 1
	}
}

// NewMessage builds a complete message for tests
func NewMessage(uid uint32, subject, from string, date time.Time) *mailbox.Message {
	return &mailbox.Message{
		UID: uid,
		Envelope: &mailbox.Envelope{
			Date:    date,
			Subject: subject,
			From:    []string{from},
			To:      []string{"me@x.com"},
		},
		InternalDate: date,
		Source: []byte(fmt.Sprintf("From: %s\r\nTo: me@x.com\r\nSubject: %s\r\nContent-Type: text/plain\r\n\r\nbody of %d\r\n",
			from, subject, uid)),
	}
}

// Push delivers ev as if the server had sent it
func (c *Conn) Push(ev mailbox.Event) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events != nil {
		events <- ev
	}
}

// Break fails the current and later Idle calls with err
func (c *Conn) Break(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.broken:
		return
	default:
	}
	if err == nil {
		err = ErrBroken
	}
	c.breakErr = err
	close(c.broken)
}

// Idling is signalled each time Idle starts
func (c *Conn) Idling() <-chan struct{} { return c.idling }

// Selects returns the folders selected so far
func (c *Conn) Selects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.selects...)
}

// Fetches returns the uids fetched so far
func (c *Conn) Fetches() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.fetches...)
}

// LoggedIn reports whether Logout has not been called
func (c *Conn) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *Conn) List(ctx context.Context) ([]mailbox.Folder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mailbox.Folder(nil), c.folders...), nil
}

func (c *Conn) Select(ctx context.Context, name string, readOnly bool) (*mailbox.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selects = append(c.selects, name)
	if err := c.SelectErr[name]; err != nil {
		return nil, err
	}
	c.selected = name
	return &mailbox.Status{
		Name:        name,
		UIDValidity: c.validity[name],
		Messages:    uint32(len(c.messages[name])),
	}, nil
}

// Search applies IMAP SINCE semantics: only the calendar day of since counts
func (c *Conn) Search(ctx context.Context, since time.Time) ([]mailbox.Hit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SearchErr != nil {
		return nil, c.SearchErr
	}

	day := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, since.Location())
	var hits []mailbox.Hit
	for uid, msg := range c.messages[c.selected] {
		if msg.InternalDate.IsZero() || !msg.InternalDate.Before(day) {
			hits = append(hits, mailbox.Hit{UID: uid, Date: msg.InternalDate})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].UID < hits[j].UID })
	return hits, nil
}

func (c *Conn) Fetch(ctx context.Context, uid uint32) (*mailbox.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches = append(c.fetches, uid)
	if err := c.FetchErr[uid]; err != nil {
		return nil, err
	}
	msg, ok := c.messages[c.selected][uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrNotFound)
	}
	cp := *msg
	return &cp, nil
}

func (c *Conn) Idle(stop <-chan struct{}) error {
	select {
	case c.idling <- struct{}{}:
	default:
	}
	select {
	case <-stop:
		return nil
	case <-c.broken:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.breakErr
	}
}

func (c *Conn) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = false
	return nil
}

// Dialer hands out one Conn per account identity
type Dialer struct {
	mu    sync.Mutex
	conns map[string]*Conn
	errs  map[string]error
	dials map[string]int
}

// NewDialer creates a dialer with no accounts
func NewDialer() *Dialer {
	return &Dialer{
		conns: make(map[string]*Conn),
		errs:  make(map[string]error),
		dials: make(map[string]int),
	}
}

// Add registers the connection returned for account
func (d *Dialer) Add(account string, conn *Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[account] = conn
}

// Fail makes dialing account return err
func (d *Dialer) Fail(account string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[account] = err
}

// Dials returns how often account was dialed
func (d *Dialer) Dials(account string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[account]
}

func (d *Dialer) Dial(ctx context.Context, account model.Account, events chan<- mailbox.Event) (mailbox.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := account.Identity()
	d.dials[id]++
	if err := d.errs[id]; err != nil {
		return nil, err
	}
	conn, ok := d.conns[id]
	if !ok {
		return nil, fmt.Errorf("no server for %s", id)
	}
	conn.mu.Lock()
	conn.events = events
	conn.loggedIn = true
	conn.mu.Unlock()
	return conn, nil
}
