package mailboxtest

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"

	"mail-aggregator-go/internal/model"
)

// Credentials of the single user of the go-imap memory backend
const (
	Username = "username"
	Password = "password"
)

// pushBackend lets the memory backend announce new mail to selected
// connections, which the plain memory backend never does.
type pushBackend struct {
	*memory.Backend
	updates chan backend.Update
}

func (b *pushBackend) Updates() <-chan backend.Update {
	return b.updates
}

// IMAPServer is a go-imap memory server on a loopback port. Its INBOX starts
// with one message (uid 6) dated at server start.
type IMAPServer struct {
	backend *pushBackend
	account model.Account
}

// NewIMAPServer starts a server that is closed when t ends
func NewIMAPServer(t testing.TB) *IMAPServer {
	t.Helper()

	be := &pushBackend{Backend: memory.New(), updates: make(chan backend.Update, 8)}
	s := server.New(be)
	s.AllowInsecureAuth = true
	s.ErrorLog = nopLogger{}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)

	return &IMAPServer{
		backend: be,
		account: model.Account{
			Name:          "memory",
			Address:       Username,
			Host:          host,
			Port:          port,
			PrimaryFolder: "INBOX",
			Auth: model.Credentials{
				Mechanism: model.AuthLogin,
				Username:  Username,
				Password:  Password,
			},
		},
	}
}

// Account returns an account that logs in to the server
func (s *IMAPServer) Account() model.Account {
	return s.account
}

// Deliver appends a message to folder and pushes the new EXISTS count to
// every connection that has folder selected. It returns the new uid.
func (s *IMAPServer) Deliver(t testing.TB, folder, subject string, date time.Time) uint32 {
	t.Helper()

	user, err := s.backend.Login(nil, Username, Password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	mbox, err := user.GetMailbox(folder)
	if err != nil {
		t.Fatalf("get mailbox %s: %v", folder, err)
	}

	body := fmt.Sprintf("From: sender@example.org\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nContent-Type: text/plain\r\n\r\nnew mail\r\n",
		Username, subject, date.Format(time.RFC1123Z))
	if err := mbox.CreateMessage(nil, date, bytes.NewBufferString(body)); err != nil {
		t.Fatalf("append: %v", err)
	}

	status, err := mbox.Status([]imap.StatusItem{imap.StatusMessages, imap.StatusUidNext})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	uid := status.UidNext - 1

	// announce only the new count
	push := imap.NewMailboxStatus(folder, []imap.StatusItem{imap.StatusMessages})
	push.Messages = status.Messages
	s.backend.updates <- &backend.MailboxUpdate{
		Update:        backend.NewUpdate(Username, folder),
		MailboxStatus: push,
	}
	return uid
}

type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{}) {}
func (nopLogger) Println(v ...interface{})               {}
