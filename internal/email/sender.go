package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mixelka/autoreply/pkg/models"
)

// ErrDeliveryUnknown means the message data reached the server but its
// verdict did not come back. The reply may or may not have been delivered.
var ErrDeliveryUnknown = errors.New("delivery outcome unknown")

// SMTPDialFunc opens the transport connection to an SMTP server.
// implicitTLS is set for port 465.
type SMTPDialFunc func(ctx context.Context, addr string, implicitTLS bool) (net.Conn, error)

// SendError is returned when the SMTP server rejects or drops a message
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "smtp send failed: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// Temporary reports whether the submission may succeed later. A failure
// after the data was handed over is never temporary.
func (e *SendError) Temporary() bool {
	if errors.Is(e.Err, ErrDeliveryUnknown) {
		return false
	}
	var smtpErr *smtp.SMTPError
	if errors.As(e.Err, &smtpErr) {
		return smtpErr.Code < 500
	}
	return true
}

// Sender submits replies over SMTP
type Sender struct {
	decrypt   DecryptFunc
	dial      SMTPDialFunc
	newClient func(conn net.Conn, host string, implicitTLS bool) (*smtp.Client, error)
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSender creates a new SMTP sender. timeout bounds a whole submission.
func NewSender(decrypt DecryptFunc, timeout time.Duration, logger *slog.Logger) *Sender {
	if decrypt == nil {
		decrypt = func(s string) (string, error) { return s, nil }
	}
	return &Sender{
		decrypt:   decrypt,
		dial:      dialSMTP,
		newClient: newSMTPClient,
		timeout:   timeout,
		logger:    logger.With("component", "smtp_sender"),
	}
}

func dialSMTP(ctx context.Context, addr string, implicitTLS bool) (net.Conn, error) {
	if implicitTLS {
		d := &tls.Dialer{}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func newSMTPClient(conn net.Conn, host string, implicitTLS bool) (*smtp.Client, error) {
	if implicitTLS {
		return smtp.NewClient(conn), nil
	}
	return smtp.NewClientStartTLS(conn, &tls.Config{ServerName: host})
}

// Send composes reply and submits it through the account's SMTP server.
// Hitting the timeout closes the connection, so no submission outlives
// the call.
func (s *Sender) Send(ctx context.Context, account *models.Account, reply *models.OutboundReply) error {
	if account.SMTPServer == "" {
		return fmt.Errorf("account %d has no SMTP server", account.ID)
	}
	host, port, err := net.SplitHostPort(account.SMTPServer)
	if err != nil {
		return fmt.Errorf("invalid SMTP server %q: %w", account.SMTPServer, err)
	}
	implicitTLS := port == "465"

	password, err := s.decrypt(account.Password)
	if err != nil {
		return fmt.Errorf("failed to decrypt password: %w", err)
	}

	body, err := Compose(reply)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	conn, err := s.dial(ctx, account.SMTPServer, implicitTLS)
	if err != nil {
		return &SendError{Err: s.explain(ctx, err)}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := s.newClient(conn, host, implicitTLS)
	if err != nil {
		conn.Close()
		return &SendError{Err: s.explain(ctx, err)}
	}
	defer c.Close()
	if s.timeout > 0 {
		c.CommandTimeout = s.timeout
		c.SubmissionTimeout = s.timeout
	}

	auth := sasl.NewPlainClient("", account.Login(), password)
	if err := s.submit(ctx, c, auth, reply.From, reply.To, body); err != nil {
		return &SendError{Err: err}
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit failed", "error", err)
	}

	s.logger.Info("reply sent", "account_id", account.ID, "to", reply.To, "message_id", reply.MessageID)
	return nil
}

// submit runs one SMTP transaction. Errors before the final DATA reply are
// returned as is. A lost connection while waiting for that reply is
// reported as ErrDeliveryUnknown.
func (s *Sender) submit(ctx context.Context, c *smtp.Client, auth sasl.Client, from, to string, body []byte) error {
	if ok, _ := c.Extension("AUTH"); !ok {
		return errors.New("server does not support AUTH")
	}
	if err := c.Auth(auth); err != nil {
		return s.explain(ctx, err)
	}
	if err := c.Mail(from, nil); err != nil {
		return s.explain(ctx, err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return s.explain(ctx, err)
	}

	w, err := c.Data()
	if err != nil {
		return s.explain(ctx, err)
	}
	if _, err := w.Write(body); err != nil {
		return s.explain(ctx, err)
	}
	if err := w.Close(); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeliveryUnknown, s.explain(ctx, err))
	}
	return nil
}

// explain replaces the closed-connection error left by a hit deadline
// with the deadline itself. The context error is not wrapped so the
// failure keeps its own retry classification.
func (s *Sender) explain(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && s.timeout > 0 {
		return fmt.Errorf("timed out after %s: %v", s.timeout, err)
	}
	return fmt.Errorf("%v: %v", ctx.Err(), err)
}

// Compose renders reply as a multipart/alternative message
func Compose(reply *models.OutboundReply) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: reply.FromName, Address: reply.From}})
	h.SetAddressList("To", []*mail.Address{{Address: reply.To}})
	h.SetSubject(reply.Subject)
	h.SetMessageID(strings.Trim(reply.MessageID, "<>"))
	if reply.InReplyTo != "" {
		h.Set("In-Reply-To", reply.InReplyTo)
	}
	if reply.References != "" {
		h.Set("References", reply.References)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create inline writer: %w", err)
	}

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", reply.Text},
		{"text/html", reply.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		w, err := tw.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return nil, fmt.Errorf("failed to write %s part: %w", p.contentType, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close %s part: %w", p.contentType, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
