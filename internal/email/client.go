package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrAuthFailed is returned when the server rejects the credentials
var ErrAuthFailed = errors.New("authentication failed")

// ErrNotConnected is returned by commands issued on a closed session
var ErrNotConnected = errors.New("not connected")

// RawEmail represents a raw email message from IMAP
type RawEmail struct {
	UID        uint32
	MessageID  string
	InReplyTo  string
	References string
	From       *Address
	To         string
	Subject    string
	Date       time.Time
	BodyHTML   string
	BodyText   string
}

// Address represents an email address
type Address struct {
	Name    string
	Address string
}

// Mailbox is the selected INBOX state
type Mailbox struct {
	UIDValidity uint32
	UIDNext     uint32
	Messages    uint32
}

// ClientConfig configuration for IMAP client
type ClientConfig struct {
	Email       string
	Username    string
	Password    string
	Server      string // host:port, 143 uses STARTTLS
	DialTimeout time.Duration
}

// Client IMAP session for a single email account
type Client struct {
	config    ClientConfig
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("email", cfg.Email),
	}
}

// Connect connects and logs in to the IMAP server
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.logger.Debug("connecting to IMAP server", "server", c.config.Server)

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	imapClient, err := dial(c.config.Server, timeout)
	if err != nil {
		return err
	}
	imapClient.Timeout = timeout

	username := c.config.Username
	if username == "" {
		username = c.config.Email
	}
	if err := imapClient.Login(username, c.config.Password); err != nil {
		dropped := imapClient.State() == imap.LogoutState
		imapClient.Logout()
		return loginError(err, dropped)
	}

	c.client = imapClient
	c.connected = true
	return nil
}

// loginError tags a LOGIN failure as ErrAuthFailed only when the server
// answered it. A dropped or timed out connection stays a network error.
func loginError(err error, dropped bool) error {
	if dropped || isNetworkError(err) {
		return fmt.Errorf("login interrupted: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	// go-imap reports a connection lost mid-command as a plain string
	return strings.HasPrefix(err.Error(), "imap: connection closed")
}

func dial(server string, timeout time.Duration) (*client.Client, error) {
	host, port, err := net.SplitHostPort(server)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP server %q: %w", server, err)
	}

	dialer := &net.Dialer{Timeout: timeout}
	if port == "143" {
		imapClient, err := client.DialWithDialer(dialer, server)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		if err := imapClient.StartTLS(&tls.Config{ServerName: host}); err != nil {
			imapClient.Logout()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
		return imapClient, nil
	}

	conn, err := tls.DialWithDialer(dialer, "tcp", server, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	return imapClient, nil
}

// Noop round-trips a NOOP to check the session is alive
func (c *Client) Noop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return ErrNotConnected
	}
	if err := c.client.Noop(); err != nil {
		return fmt.Errorf("noop failed: %w", err)
	}
	return nil
}

// SelectInbox selects the INBOX mailbox
func (c *Client) SelectInbox(ctx context.Context) (Mailbox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return Mailbox{}, ErrNotConnected
	}

	mbox, err := c.client.Select("INBOX", false)
	if err != nil {
		return Mailbox{}, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return Mailbox{
		UIDValidity: mbox.UidValidity,
		UIDNext:     mbox.UidNext,
		Messages:    mbox.Messages,
	}, nil
}

// FetchSince fetches messages with UID > sinceUID in ascending UID order
func (c *Client) FetchSince(ctx context.Context, sinceUID uint32) ([]*RawEmail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, ErrNotConnected
	}

	// N:* always returns the highest message, even when its UID < N
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(sinceUID+1, 0)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var emails []*RawEmail
	for msg := range messages {
		if msg.Uid <= sinceUID {
			continue
		}
		emails = append(emails, c.parseMessage(msg, section))
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	sort.Slice(emails, func(i, j int) bool { return emails[i].UID < emails[j].UID })
	return emails, nil
}

// parseMessage parses an IMAP message into RawEmail
func (c *Client) parseMessage(msg *imap.Message, section *imap.BodySectionName) *RawEmail {
	email := &RawEmail{
		UID:  msg.Uid,
		From: &Address{},
	}

	if env := msg.Envelope; env != nil {
		email.Subject = env.Subject
		email.Date = env.Date
		email.MessageID = env.MessageId
		email.InReplyTo = env.InReplyTo

		if len(env.From) > 0 {
			email.From = &Address{
				Name:    env.From[0].PersonalName,
				Address: env.From[0].Address(),
			}
		}
		if len(env.To) > 0 {
			email.To = env.To[0].Address()
		}
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return email
	}

	mr, err := mail.CreateReader(bodyReader)
	if err != nil {
		c.logger.Warn("failed to create mail reader", "uid", msg.Uid, "error", err)
		return email
	}
	defer mr.Close()

	email.References = mr.Header.Get("References")
	if email.InReplyTo == "" {
		email.InReplyTo = mr.Header.Get("In-Reply-To")
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachment
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/html") && email.BodyHTML == "":
			email.BodyHTML = string(body)
		case strings.HasPrefix(ct, "text/plain") && email.BodyText == "":
			email.BodyText = string(body)
		}
	}

	return email
}

// MarkAsRead marks a message as read (adds \Seen flag)
func (c *Client) MarkAsRead(ctx context.Context, uid uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return ErrNotConnected
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}

	return nil
}

// HighestUID returns the highest UID in the selected mailbox
func (c *Client) HighestUID(ctx context.Context) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return 0, ErrNotConnected
	}

	uids, err := c.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return 0, fmt.Errorf("failed to search: %w", err)
	}

	var highest uint32
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}

	return highest, nil
}

// Logout closes the session. Waits at most two seconds for the server.
func (c *Client) Logout() error {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if imapClient == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- imapClient.Logout()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		// Force close if logout takes too long
		return imapClient.Terminate()
	}
}
