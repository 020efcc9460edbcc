package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mail-aggregator-go/internal/model"
)

// GmailScope grants full IMAP access for OAUTHBEARER
const GmailScope = "https://mail.google.com/"

// specialUse lists the RFC 6154 attributes reported as Folder.SpecialUse
var specialUse = []string{
	imap.AllAttr,
	imap.ArchiveAttr,
	imap.DraftsAttr,
	imap.FlaggedAttr,
	imap.JunkAttr,
	imap.SentAttr,
	imap.TrashAttr,
}

// IMAPDialer connects to IMAP servers with go-imap
type IMAPDialer struct {
	// DialTimeout bounds the TCP and TLS handshake
	DialTimeout time.Duration
	// IdleRefresh is how often IDLE is re-issued to keep the connection alive
	IdleRefresh time.Duration
	// TLSConfig is used for implicit TLS accounts; ServerName defaults to the host
	TLSConfig *tls.Config
	// TokenSource builds the OAuth token source for oauthbearer accounts.
	// Nil uses Google's endpoint with the account's refresh token.
	TokenSource func(ctx context.Context, creds model.Credentials) oauth2.TokenSource
}

// NewIMAPDialer creates a dialer with the given IDLE refresh interval
func NewIMAPDialer(idleRefresh time.Duration) *IMAPDialer {
	return &IMAPDialer{
		DialTimeout: 30 * time.Second,
		IdleRefresh: idleRefresh,
	}
}

type contextDialer struct {
	ctx context.Context
	net.Dialer
}

func (d *contextDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(d.ctx, network, addr)
}

// Dial connects and authenticates account
func (d *IMAPDialer) Dial(ctx context.Context, account model.Account, events chan<- Event) (Conn, error) {
	dialer := &contextDialer{ctx: ctx, Dialer: net.Dialer{Timeout: d.DialTimeout}}
	addr := account.Addr()

	var (
		c   *client.Client
		err error
	)
	if account.Secure {
		tlsConfig := d.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = account.Host
		}
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}

	if err := d.authenticate(ctx, c, account); err != nil {
		c.Logout()
		return nil, &AuthError{Account: account.Identity(), Err: err}
	}

	conn := &imapConn{
		client:  c,
		account: account.Identity(),
		refresh: d.IdleRefresh,
		updates: make(chan client.Update, 32),
		events:  events,
		done:    make(chan struct{}),
		seen:    make(map[string]uint32),
	}
	c.Updates = conn.updates
	go conn.pump()

	logrus.WithFields(logrus.Fields{
		"account": account.Identity(),
		"addr":    addr,
	}).Info("Connected to IMAP server")
	return conn, nil
}

func (d *IMAPDialer) authenticate(ctx context.Context, c *client.Client, account model.Account) error {
	creds := account.Auth
	switch creds.Mechanism {
	case model.AuthOAuthBearer:
		source := d.TokenSource
		if source == nil {
			source = googleTokenSource
		}
		token, err := source(ctx, creds).Token()
		if err != nil {
			return fmt.Errorf("failed to obtain access token: %w", err)
		}
		auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: creds.Username,
			Token:    token.AccessToken,
			Host:     account.Host,
			Port:     account.Port,
		})
		if err := c.Authenticate(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	default:
		if err := c.Login(creds.Username, creds.Password); err != nil {
			return fmt.Errorf("failed to login: %w", err)
		}
	}
	return nil
}

func googleTokenSource(ctx context.Context, creds model.Credentials) oauth2.TokenSource {
	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       []string{GmailScope},
		Endpoint:     google.Endpoint,
	}
	return config.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
}

// imapConn adapts a go-imap client to Conn
type imapConn struct {
	client  *client.Client
	account string
	refresh time.Duration
	updates chan client.Update
	events  chan<- Event

	done      chan struct{}
	closeOnce sync.Once

	// seen is the last message count reported per folder. Only pump touches it.
	seen map[string]uint32
}

// pump drains unilateral server updates, which go-imap delivers blocking,
// and turns them into events.
func (c *imapConn) pump() {
	for {
		select {
		case update := <-c.updates:
			switch u := update.(type) {
			case *client.MailboxUpdate:
				messages, ok := messageCount(u.Mailbox)
				if ok && c.grew(u.Mailbox.Name, messages) {
					c.emit(Event{Kind: EventNewMail, Folder: u.Mailbox.Name, Count: messages})
				}
			case *client.ExpungeUpdate:
				if mbox := c.client.Mailbox(); mbox != nil && c.seen[mbox.Name] > 0 {
					c.seen[mbox.Name]--
				}
			}
		case <-c.client.LoggedOut():
			c.emit(Event{Kind: EventDisconnected, Err: errors.New("connection closed by server")})
			return
		case <-c.done:
			return
		}
	}
}

// messageCount reports the folder size once an EXISTS has been seen for it.
// A RECENT during SELECT can arrive first, while Messages is still zero.
func messageCount(mbox *imap.MailboxStatus) (uint32, bool) {
	if mbox == nil {
		return 0, false
	}
	mbox.ItemsLocker.Lock()
	_, ok := mbox.Items[imap.StatusMessages]
	mbox.ItemsLocker.Unlock()
	return mbox.Messages, ok
}

// grew records the folder's message count and reports whether it went up.
// Every SELECT repeats the current EXISTS, so only growth over the last count
// seen for that folder is new mail. The first count for a folder is a baseline.
func (c *imapConn) grew(folder string, messages uint32) bool {
	last, known := c.seen[folder]
	c.seen[folder] = messages
	return known && messages > last
}

func (c *imapConn) emit(ev Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		// a pending event already wakes the session
		logrus.WithFields(logrus.Fields{
			"account": c.account,
			"event":   ev.Kind.String(),
		}).Debug("Event channel full, dropping event")
	}
}

func (c *imapConn) List(ctx context.Context) ([]Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []Folder
	for m := range mailboxes {
		folders = append(folders, toFolder(m))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func toFolder(m *imap.MailboxInfo) Folder {
	f := Folder{
		Name:       m.Name,
		Delimiter:  m.Delimiter,
		Attributes: m.Attributes,
		Selectable: true,
	}
	for _, attr := range m.Attributes {
		if strings.EqualFold(attr, imap.NoSelectAttr) || strings.EqualFold(attr, `\NonExistent`) {
			f.Selectable = false
		}
		for _, use := range specialUse {
			if strings.EqualFold(attr, use) {
				f.SpecialUse = use
			}
		}
	}
	return f
}

func (c *imapConn) Select(ctx context.Context, name string, readOnly bool) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mbox, err := c.client.Select(name, readOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", name, err)
	}
	return &Status{
		Name:        mbox.Name,
		UIDValidity: mbox.UidValidity,
		Messages:    mbox.Messages,
		UIDNext:     mbox.UidNext,
	}, nil
}

// Search returns uids of messages that arrived on or after since's day,
// ordered by uid, with their internal dates. The server match is widened by a
// day; callers filter the exact cutoff on Hit.Date.
func (c *imapConn) Search(ctx context.Context, since time.Time) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uids, err := c.client.UidSearch(sinceCriteria(since))
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()

	hits := make([]Hit, 0, len(uids))
	for msg := range messages {
		hits = append(hits, Hit{UID: msg.Uid, Date: msg.InternalDate})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message dates: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].UID < hits[j].UID })
	return hits, nil
}

// sinceCriteria builds SINCE for the day before since in UTC. SINCE carries a
// bare date that the server reads in its own zone, which may trail ours by up
// to a day.
func sinceCriteria(since time.Time) *imap.SearchCriteria {
	day := since.UTC()
	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return criteria
}

// Fetch reads the envelope and full source without setting \Seen
func (c *imapConn) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		if msg.Uid == uid {
			fetched = msg
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch uid %d: %w", uid, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrNotFound)
	}

	msg := &Message{
		UID:          fetched.Uid,
		Envelope:     toEnvelope(fetched.Envelope),
		InternalDate: fetched.InternalDate,
	}
	for _, literal := range fetched.Body {
		if literal == nil {
			continue
		}
		source, err := io.ReadAll(literal)
		if err != nil {
			return nil, fmt.Errorf("failed to read uid %d: %w", uid, err)
		}
		msg.Source = source
		break
	}
	return msg, nil
}

func toEnvelope(env *imap.Envelope) *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Date:      env.Date,
		Subject:   env.Subject,
		From:      addresses(env.From),
		To:        addresses(env.To),
		MessageID: env.MessageId,
	}
}

func addresses(list []*imap.Address) []string {
	var out []string
	for _, addr := range list {
		if addr == nil {
			continue
		}
		if a := addr.Address(); a != "" && a != "@" {
			out = append(out, a)
		}
	}
	return out
}

// Idle waits for server pushes. Servers without IDLE are polled instead.
func (c *imapConn) Idle(stop <-chan struct{}) error {
	return c.client.Idle(stop, &client.IdleOptions{
		LogoutTimeout: c.refresh,
	})
}

func (c *imapConn) Logout() error {
	defer c.closeOnce.Do(func() { close(c.done) })

	select {
	case <-c.client.LoggedOut():
		return nil
	default:
	}
	if err := c.client.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}
