package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mixelka/autoreply/internal/parser"
	"github.com/mixelka/autoreply/internal/retry"
	"github.com/mixelka/autoreply/pkg/models"
)

// Sender delivers a reply through the account's outbound transport
type Sender interface {
	Send(ctx context.Context, account *models.Account, reply *models.OutboundReply) error
}

// Dispatcher composes and sends approved drafts
type Dispatcher struct {
	sender   Sender
	attempts int
	backoff  retry.Backoff
	html     *parser.HTMLParser
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(sender Sender, attempts int, backoff retry.Backoff) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		attempts: attempts,
		backoff:  backoff,
		html:     parser.NewHTMLParser(),
	}
}

// Compose builds the threaded reply to msg
func (d *Dispatcher) Compose(account *models.Account, msg *models.Message) *models.OutboundReply {
	text := strings.TrimSpace(msg.Draft)
	if sig := strings.TrimSpace(account.Signature); sig != "" {
		text += "\n\n" + sig
	}

	return &models.OutboundReply{
		MessageID:  newMessageID(account.Email),
		From:       account.Email,
		FromName:   account.Name,
		To:         msg.FromAddr,
		Subject:    parser.ReplySubject(msg.Subject),
		InReplyTo:  msg.MessageID,
		References: parser.References(msg.References, msg.MessageID),
		Text:       text,
		HTML:       d.html.ToHTML(text),
	}
}

// Dispatch sends the reply, retrying transient failures
func (d *Dispatcher) Dispatch(ctx context.Context, account *models.Account, msg *models.Message) error {
	if strings.TrimSpace(msg.Draft) == "" {
		return &Error{Kind: KindFatal, Stage: StageDispatch, Err: ErrNoDraft}
	}
	if msg.FromAddr == "" {
		return &Error{Kind: KindFatal, Stage: StageDispatch, Err: fmt.Errorf("message %d has no sender address", msg.ID)}
	}

	reply := d.Compose(account, msg)
	return retry.Do(ctx, d.attempts, d.backoff, IsRetryable, func(ctx context.Context) error {
		return wrap(StageDispatch, d.sender.Send(ctx, account, reply))
	})
}

func newMessageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
