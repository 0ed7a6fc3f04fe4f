package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/parser"
	"github.com/mixelka/autoreply/internal/retry"
	"github.com/mixelka/autoreply/pkg/models"
)

// MessageStore persists discovered messages and poller markers
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByKey(ctx context.Context, accountID int64, uidValidity, uid uint32) (*models.Message, error)
	UpdateAccountMarker(ctx context.Context, id int64, marker models.Marker, polledAt time.Time) error
}

// Enqueuer hands a stored message to the processing pipeline
type Enqueuer interface {
	Enqueue(ctx context.Context, accountID, messageID int64) error
}

// PollerConfig configuration for Poller
type PollerConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	// Bound on one tick's network work
	TickTimeout time.Duration
}

// Poller discovers new mail for one account
type Poller struct {
	account *models.Account
	pool    *Pool
	store   MessageStore
	queue   Enqueuer
	html    *parser.HTMLParser
	cfg     PollerConfig
	backoff retry.Backoff
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	status PollStatus
}

// NewPoller creates a poller for account; the account is copied
func NewPoller(account *models.Account, pool *Pool, store MessageStore, queue Enqueuer, cfg PollerConfig, logger *slog.Logger) *Poller {
	acc := *account
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	p := &Poller{
		account: &acc,
		pool:    pool,
		store:   store,
		queue:   queue,
		html:    parser.NewHTMLParser(),
		cfg:     cfg,
		backoff: retry.Backoff{Base: cfg.Interval, Max: cfg.MaxBackoff, Jitter: true},
		logger:  logger.With("account_id", acc.ID, "email", acc.Email),
		now:     time.Now,
	}
	p.status = PollStatus{
		AccountID: acc.ID,
		Email:     acc.Email,
		Marker:    acc.Marker(),
	}
	if acc.LastPolled != nil {
		p.status.LastPolled = *acc.LastPolled
	}
	return p
}

// Run polls until ctx is done. Returns a non-nil error only when the
// account cannot be polled without operator action.
func (p *Poller) Run(ctx context.Context) error {
	p.setActive(true)
	defer p.setActive(false)
	// Only this goroutine uses the pooled session, so only it releases it
	defer p.pool.Release(p.account.ID)

	p.logger.Info("poller started", "interval", p.cfg.Interval)
	defer p.logger.Info("poller stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		err := p.tickWithTimeout(ctx)
		if ctx.Err() != nil {
			return nil
		}

		next := p.cfg.Interval
		if err != nil {
			var connErr *ConnError
			if errors.As(err, &connErr) && !connErr.Transient() {
				p.logger.Error("poller giving up", "error", err)
				p.pool.Release(p.account.ID)
				return err
			}
			failures++
			next = p.backoff.Delay(failures)
			p.logger.Warn("poll failed", "error", err, "failures", failures, "retry_in", next)
			p.pool.Release(p.account.ID)
		} else {
			failures = 0
		}
		timer.Reset(next)
	}
}

func (p *Poller) tickWithTimeout(ctx context.Context) error {
	if p.cfg.TickTimeout <= 0 {
		return p.Tick(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, p.cfg.TickTimeout)
	defer cancel()
	return p.Tick(tctx)
}

// Tick runs one discovery pass
func (p *Poller) Tick(ctx context.Context) (err error) {
	defer func() { p.recordResult(err) }()

	session, err := p.pool.Acquire(ctx, p.account)
	if err != nil {
		return err
	}

	mbox, err := session.SelectInbox(ctx)
	if err != nil {
		return &ConnError{AccountID: p.account.ID, Op: "select inbox", Err: err}
	}

	marker := p.account.Marker()
	if marker.IsZero() || marker.UIDValidity != mbox.UIDValidity {
		return p.baseline(ctx, session, mbox, marker)
	}

	emails, err := session.FetchSince(ctx, marker.LastUID)
	if err != nil {
		return &ConnError{AccountID: p.account.ID, Op: "fetch", Err: err}
	}

	next, handErr := p.handOff(ctx, session, mbox, marker, emails)

	// The marker is persisted even when the batch stopped early
	if err := p.saveMarker(ctx, next); err != nil {
		return errors.Join(handErr, err)
	}
	return handErr
}

// baseline records the current mailbox position without emitting anything,
// so a fresh marker or a new mailbox generation never replays history.
func (p *Poller) baseline(ctx context.Context, session Session, mbox Mailbox, old models.Marker) error {
	highest, err := session.HighestUID(ctx)
	if err != nil {
		return &ConnError{AccountID: p.account.ID, Op: "highest uid", Err: err}
	}

	marker := models.Marker{UIDValidity: mbox.UIDValidity, LastUID: highest}
	if !old.IsZero() {
		p.logger.Warn("UIDVALIDITY changed, rebaselining", "old", old.UIDValidity, "new", mbox.UIDValidity)
	}
	if err := p.saveMarker(ctx, marker); err != nil {
		return err
	}
	p.logger.Info("marker baselined", "uid_validity", marker.UIDValidity, "last_uid", marker.LastUID)
	return nil
}

// handOff stores and enqueues emails in UID order and returns the marker
// covering every message handed off.
func (p *Poller) handOff(ctx context.Context, session Session, mbox Mailbox, marker models.Marker, emails []*RawEmail) (models.Marker, error) {
	for _, raw := range emails {
		if raw.UID <= marker.LastUID {
			continue
		}

		msg := p.newMessage(mbox, raw)
		err := p.store.CreateMessage(ctx, msg)
		switch {
		case errors.Is(err, database.ErrAlreadyExists):
			existing, gerr := p.store.GetMessageByKey(ctx, msg.AccountID, msg.UIDValidity, msg.UID)
			if gerr != nil {
				return marker, fmt.Errorf("failed to load existing message uid %d: %w", raw.UID, gerr)
			}
			if existing.Status != models.StatusNew {
				marker.LastUID = raw.UID
				continue
			}
			// Stored but never picked up
			msg = existing
		case err != nil:
			return marker, fmt.Errorf("failed to store message uid %d: %w", raw.UID, err)
		}

		if err := p.queue.Enqueue(ctx, msg.AccountID, msg.ID); err != nil {
			return marker, fmt.Errorf("failed to enqueue message uid %d: %w", raw.UID, err)
		}
		marker.LastUID = raw.UID

		if err := session.MarkAsRead(ctx, raw.UID); err != nil {
			p.logger.Warn("failed to mark message as read", "uid", raw.UID, "error", err)
		}
		p.logger.Info("new message", "uid", raw.UID, "message_id", msg.ID, "from", msg.FromAddr)
	}
	return marker, nil
}

func (p *Poller) newMessage(mbox Mailbox, raw *RawEmail) *models.Message {
	body := parser.StripQuoted(p.html.Body(raw.BodyText, raw.BodyHTML))
	received := raw.Date
	if received.IsZero() {
		received = p.now()
	}
	recipient := raw.To
	if recipient == "" {
		recipient = p.account.Email
	}

	return &models.Message{
		AccountID:   p.account.ID,
		UIDValidity: mbox.UIDValidity,
		UID:         raw.UID,
		MessageID:   raw.MessageID,
		ThreadID:    parser.ThreadID(raw.InReplyTo, raw.References, raw.Subject, p.account.Email),
		InReplyTo:   raw.InReplyTo,
		References:  raw.References,
		FromAddr:    raw.From.Address,
		FromName:    raw.From.Name,
		Recipient:   recipient,
		Subject:     raw.Subject,
		BodyText:    body,
		BodyHTML:    raw.BodyHTML,
		ReceivedAt:  received,
		Status:      models.StatusNew,
	}
}

func (p *Poller) saveMarker(ctx context.Context, marker models.Marker) error {
	now := p.now()
	if err := p.store.UpdateAccountMarker(ctx, p.account.ID, marker, now); err != nil {
		return fmt.Errorf("failed to persist marker: %w", err)
	}
	p.account.UIDValidity = marker.UIDValidity
	p.account.LastUID = marker.LastUID

	p.mu.Lock()
	p.status.Marker = marker
	p.status.LastPolled = now
	p.mu.Unlock()
	return nil
}

func (p *Poller) recordResult(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = ""
	}
}

func (p *Poller) setActive(active bool) {
	p.mu.Lock()
	p.status.Active = active
	p.mu.Unlock()
}

func (p *Poller) markCrashed(cause string) {
	p.mu.Lock()
	p.status.Active = false
	p.status.Crashed = true
	p.status.LastError = cause
	p.mu.Unlock()
}

// Status returns a snapshot of the poller state
func (p *Poller) Status() PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
