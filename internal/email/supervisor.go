package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mixelka/autoreply/pkg/models"
)

// ErrAccountInactive is returned when starting a poller for a disabled account
var ErrAccountInactive = errors.New("account is not active")

// AccountStore is what the supervisor needs from persistence
type AccountStore interface {
	MessageStore
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	GetAllActiveAccounts(ctx context.Context) ([]*models.Account, error)
}

// PollStatus is a point-in-time view of one account's poller
type PollStatus struct {
	AccountID  int64
	Email      string
	Active     bool // poller goroutine running
	Connected  bool // pooled IMAP session present
	Crashed    bool // poller died from a panic
	LastError  string
	LastPolled time.Time
	Marker     models.Marker
}

// GlobalStatus aggregates every registered poller
type GlobalStatus struct {
	Accounts  []PollStatus
	Active    int
	Connected int
	Crashed   int
	Queue     int // messages waiting for a worker
}

// Supervisor starts, stops and reports on account pollers
type Supervisor struct {
	mu      sync.Mutex
	pollers map[int64]*pollerHandle
	pool    *Pool
	store   AccountStore
	queue   Enqueuer
	cfg     PollerConfig
	logger  *slog.Logger
	// StopTimeout bounds how long Stop waits for an in-flight tick
	StopTimeout time.Duration
}

type pollerHandle struct {
	poller *Poller
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *pollerHandle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// NewSupervisor creates a new polling supervisor
func NewSupervisor(pool *Pool, store AccountStore, queue Enqueuer, cfg PollerConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		pollers:     make(map[int64]*pollerHandle),
		pool:        pool,
		store:       store,
		queue:       queue,
		cfg:         cfg,
		logger:      logger.With("component", "poll_supervisor"),
		StopTimeout: 30 * time.Second,
	}
}

// Start launches the account's poller. No-op if it is already running.
func (s *Supervisor) Start(ctx context.Context, accountID int64) error {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	if !account.IsActive {
		return ErrAccountInactive
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.pollers[accountID]; ok && h.running() {
		return nil
	}

	poller := NewPoller(account, s.pool, s.store, s.queue, s.cfg, s.logger)
	// Poller lifetime is independent of the caller's context
	pctx, cancel := context.WithCancel(context.Background())
	h := &pollerHandle{poller: poller, cancel: cancel, done: make(chan struct{})}
	s.pollers[accountID] = h

	poller.setActive(true)
	go s.run(pctx, h)

	s.logger.Info("started poller", "account_id", accountID, "email", account.Email)
	return nil
}

func (s *Supervisor) run(ctx context.Context, h *pollerHandle) {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Sprintf("panic: %v", r)
			h.poller.markCrashed(cause)
			s.logger.Error("poller crashed", "account_id", h.poller.account.ID, "cause", cause)
		}
	}()

	if err := h.poller.Run(ctx); err != nil {
		h.poller.recordResult(err)
	}
}

// Stop cancels the account's poller and waits for its current tick. The
// poller releases its pooled session on exit, so a tick that outlives
// StopTimeout keeps the session until it returns. No-op if nothing is
// registered.
func (s *Supervisor) Stop(accountID int64) {
	s.mu.Lock()
	h, ok := s.pollers[accountID]
	delete(s.pollers, accountID)
	s.mu.Unlock()

	if !ok {
		return
	}

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(s.StopTimeout):
		s.logger.Warn("poller did not stop in time, session is released when its tick returns", "account_id", accountID)
	}

	s.logger.Info("stopped poller", "account_id", accountID)
}

// Status returns the account's poll status. Accounts without a registered
// poller are reported from the stored marker.
func (s *Supervisor) Status(ctx context.Context, accountID int64) (PollStatus, error) {
	s.mu.Lock()
	h, ok := s.pollers[accountID]
	s.mu.Unlock()

	if ok {
		st := h.poller.Status()
		st.Connected = s.pool.Connected(accountID)
		return st, nil
	}

	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	st := PollStatus{
		AccountID: account.ID,
		Email:     account.Email,
		Connected: s.pool.Connected(accountID),
		Marker:    account.Marker(),
	}
	if account.LastPolled != nil {
		st.LastPolled = *account.LastPolled
	}
	return st, nil
}

// StartAll starts a poller for every active account concurrently.
// A failing account does not prevent the others from starting.
func (s *Supervisor) StartAll(ctx context.Context) error {
	accounts, err := s.store.GetAllActiveAccounts(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("starting pollers", "count", len(accounts))

	var g errgroup.Group
	for _, account := range accounts {
		g.Go(func() error {
			if err := s.Start(ctx, account.ID); err != nil {
				s.logger.Error("failed to start poller", "email", account.Email, "error", err)
				return fmt.Errorf("account %d: %w", account.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every registered poller
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Info("stopping all pollers", "count", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.Stop(id)
		}(id)
	}
	wg.Wait()

	s.logger.Info("all pollers stopped")
}

// GlobalStatus returns every registered poller's status
func (s *Supervisor) GlobalStatus() GlobalStatus {
	s.mu.Lock()
	handles := make([]*pollerHandle, 0, len(s.pollers))
	for _, h := range s.pollers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var g GlobalStatus
	for _, h := range handles {
		st := h.poller.Status()
		st.Connected = s.pool.Connected(st.AccountID)
		g.Accounts = append(g.Accounts, st)
		if st.Active {
			g.Active++
		}
		if st.Connected {
			g.Connected++
		}
		if st.Crashed {
			g.Crashed++
		}
	}
	sort.Slice(g.Accounts, func(i, j int) bool { return g.Accounts[i].AccountID < g.Accounts[j].AccountID })

	if q, ok := s.queue.(interface{ Pending() int }); ok {
		g.Queue = q.Pending()
	}
	return g
}
