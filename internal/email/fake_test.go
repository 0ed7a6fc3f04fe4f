package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeMailbox is an in-memory INBOX shared by every session dialed to it
type fakeMailbox struct {
	mu          sync.Mutex
	uidValidity uint32
	emails      []*RawEmail
	seen        map[uint32]bool
	fetchErr    error
	noopErr     error
	panicSelect bool
	selectGate  chan struct{} // when set, SelectInbox blocks until closed
	blocked     int
}

func newFakeMailbox(uidValidity uint32, uids ...uint32) *fakeMailbox {
	b := &fakeMailbox{uidValidity: uidValidity, seen: make(map[uint32]bool)}
	for _, uid := range uids {
		b.add(uid)
	}
	return b
}

func (b *fakeMailbox) add(uid uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emails = append(b.emails, &RawEmail{
		UID:       uid,
		MessageID: fmt.Sprintf("<%d@example.com>", uid),
		From:      &Address{Name: "Alice", Address: "alice@example.com"},
		Subject:   fmt.Sprintf("Question %d", uid),
		Date:      time.Now(),
		BodyText:  "Hello\n\nOn Mon, Bob wrote:\n> old",
	})
}

func (b *fakeMailbox) set(fn func(b *fakeMailbox)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeMailbox) blockedSelects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blocked
}

func (b *fakeMailbox) isSeen(uid uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seen[uid]
}

type fakeSession struct {
	box    *fakeMailbox
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Noop() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrNotConnected
	}
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	return s.box.noopErr
}

func (s *fakeSession) SelectInbox(ctx context.Context) (Mailbox, error) {
	s.box.mu.Lock()
	gate := s.box.selectGate
	if gate != nil {
		s.box.blocked++
	}
	s.box.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if s.box.panicSelect {
		panic("mailbox exploded")
	}
	return Mailbox{UIDValidity: s.box.uidValidity, Messages: uint32(len(s.box.emails))}, nil
}

func (s *fakeSession) HighestUID(ctx context.Context) (uint32, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	var highest uint32
	for _, e := range s.box.emails {
		if e.UID > highest {
			highest = e.UID
		}
	}
	return highest, nil
}

func (s *fakeSession) FetchSince(ctx context.Context, since uint32) ([]*RawEmail, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if s.box.fetchErr != nil {
		return nil, s.box.fetchErr
	}
	var out []*RawEmail
	for _, e := range s.box.emails {
		if e.UID > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSession) MarkAsRead(ctx context.Context, uid uint32) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.seen[uid] = true
	return nil
}

func (s *fakeSession) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeDialer routes each account's login to a mailbox by email
type fakeDialer struct {
	mu      sync.Mutex
	boxes   map[string]*fakeMailbox
	dials   int
	authErr error
	// loginErrs fail the next logins in order, the way a LOGIN command
	// over a live connection would
	loginErrs []error
}

func (d *fakeDialer) dial(ctx context.Context, cfg ClientConfig) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.authErr != nil {
		return nil, loginError(d.authErr, false)
	}
	if len(d.loginErrs) > 0 {
		err := d.loginErrs[0]
		d.loginErrs = d.loginErrs[1:]
		return nil, loginError(err, false)
	}
	box, ok := d.boxes[cfg.Email]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return &fakeSession{box: box}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeQueue records enqueued message ids
type fakeQueue struct {
	mu        sync.Mutex
	ids       []int64
	failAfter int // fail once this many items were accepted, 0 = never
}

func (q *fakeQueue) Enqueue(ctx context.Context, accountID, messageID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAfter > 0 && len(q.ids) >= q.failAfter {
		return errors.New("queue closed")
	}
	q.ids = append(q.ids, messageID)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
