package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/autoreply/pkg/models"
)

// Session is one live IMAP connection
type Session interface {
	Noop() error
	SelectInbox(ctx context.Context) (Mailbox, error)
	HighestUID(ctx context.Context) (uint32, error)
	FetchSince(ctx context.Context, sinceUID uint32) ([]*RawEmail, error)
	MarkAsRead(ctx context.Context, uid uint32) error
	Logout() error
}

// Dialer opens and authenticates a session
type Dialer func(ctx context.Context, cfg ClientConfig) (Session, error)

// DecryptFunc turns a stored password into plain text
type DecryptFunc func(encrypted string) (string, error)

// ConnError is returned when a session cannot be established or used
type ConnError struct {
	AccountID int64
	Op        string
	Err       error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("account %d: %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// Transient reports whether retrying later may succeed
func (e *ConnError) Transient() bool {
	return !errors.Is(e.Err, ErrAuthFailed)
}

// TLSDialer returns a Dialer opening real IMAP sessions
func TLSDialer(logger *slog.Logger) Dialer {
	return func(ctx context.Context, cfg ClientConfig) (Session, error) {
		c := NewClient(cfg, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// PoolConfig configuration for Pool
type PoolConfig struct {
	Dial        Dialer
	Decrypt     DecryptFunc
	DialTimeout time.Duration
}

// Pool keeps at most one live session per account
type Pool struct {
	mu       sync.Mutex
	sessions map[int64]Session
	dial     Dialer
	decrypt  DecryptFunc
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPool creates a new connection pool
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	decrypt := cfg.Decrypt
	if decrypt == nil {
		decrypt = func(s string) (string, error) { return s, nil }
	}
	return &Pool{
		sessions: make(map[int64]Session),
		dial:     cfg.Dial,
		decrypt:  decrypt,
		timeout:  cfg.DialTimeout,
		logger:   logger.With("component", "imap_pool"),
	}
}

// Acquire returns the account's pooled session, reconnecting if it is unhealthy
func (p *Pool) Acquire(ctx context.Context, account *models.Account) (Session, error) {
	p.mu.Lock()
	s, ok := p.sessions[account.ID]
	p.mu.Unlock()

	if ok {
		if p.Healthy(s) {
			return s, nil
		}
		p.logger.Info("session unhealthy, reconnecting", "account_id", account.ID, "email", account.Email)
		p.Release(account.ID)
	}

	password, err := p.decrypt(account.Password)
	if err != nil {
		return nil, &ConnError{AccountID: account.ID, Op: "decrypt password", Err: fmt.Errorf("%w: %v", ErrAuthFailed, err)}
	}

	s, err = p.dial(ctx, ClientConfig{
		Email:       account.Email,
		Username:    account.Login(),
		Password:    password,
		Server:      account.IMAPServer,
		DialTimeout: p.timeout,
	})
	if err != nil {
		return nil, &ConnError{AccountID: account.ID, Op: "connect", Err: err}
	}

	p.mu.Lock()
	p.sessions[account.ID] = s
	p.mu.Unlock()

	p.logger.Info("connected to IMAP server", "account_id", account.ID, "email", account.Email, "server", account.IMAPServer)
	return s, nil
}

// Healthy reports whether a NOOP round trip succeeds
func (p *Pool) Healthy(s Session) bool {
	return s != nil && s.Noop() == nil
}

// Release logs out and forgets the account's session. Safe to call repeatedly.
func (p *Pool) Release(accountID int64) {
	p.mu.Lock()
	s, ok := p.sessions[accountID]
	delete(p.sessions, accountID)
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := s.Logout(); err != nil {
		p.logger.Debug("logout failed", "account_id", accountID, "error", err)
	}
	p.logger.Info("disconnected from IMAP server", "account_id", accountID)
}

// Connected reports whether the account has a pooled session
func (p *Pool) Connected(accountID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[accountID]
	return ok
}

// TestConnection dials, selects INBOX and logs out without pooling the session
func (p *Pool) TestConnection(ctx context.Context, cfg ClientConfig) error {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = p.timeout
	}
	s, err := p.dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Logout()

	if _, err := s.SelectInbox(ctx); err != nil {
		return err
	}
	return nil
}
