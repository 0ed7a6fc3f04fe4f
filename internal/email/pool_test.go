package email

import (
	"context"
	"errors"
	"testing"

	"github.com/mixelka/autoreply/pkg/models"
)

func TestPoolAcquireReusesHealthySession(t *testing.T) {
	box := newFakeMailbox(1)
	d := &fakeDialer{boxes: map[string]*fakeMailbox{"a@example.com": box}}
	pool := NewPool(PoolConfig{Dial: d.dial}, discard)
	acc := &models.Account{ID: 1, Email: "a@example.com", IMAPServer: "imap.example.com:993"}
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, acc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	s2, err := pool.Acquire(ctx, acc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if s1 != s2 || d.dialCount() != 1 {
		t.Errorf("expected reuse, dials = %d", d.dialCount())
	}
	if !pool.Connected(1) {
		t.Error("Connected() = false")
	}
}

func TestPoolAcquireReconnectsUnhealthySession(t *testing.T) {
	box := newFakeMailbox(1)
	d := &fakeDialer{boxes: map[string]*fakeMailbox{"a@example.com": box}}
	pool := NewPool(PoolConfig{Dial: d.dial}, discard)
	acc := &models.Account{ID: 1, Email: "a@example.com"}
	ctx := context.Background()

	s1, err := pool.Acquire(ctx, acc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Server dropped the connection
	s1.(*fakeSession).Logout()

	s2, err := pool.Acquire(ctx, acc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if s1 == s2 {
		t.Error("unhealthy session was reused")
	}
	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", d.dialCount())
	}
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	box := newFakeMailbox(1)
	d := &fakeDialer{boxes: map[string]*fakeMailbox{"a@example.com": box}}
	pool := NewPool(PoolConfig{Dial: d.dial}, discard)
	acc := &models.Account{ID: 1, Email: "a@example.com"}

	s, err := pool.Acquire(context.Background(), acc)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	pool.Release(1)
	pool.Release(1)
	pool.Release(42)

	if pool.Connected(1) {
		t.Error("Connected() = true after Release")
	}
	if s.Noop() == nil {
		t.Error("released session still answers NOOP")
	}
}

func TestPoolAcquireErrors(t *testing.T) {
	tests := []struct {
		name          string
		dialer        *fakeDialer
		decrypt       DecryptFunc
		wantTransient bool
	}{
		{
			name:          "network failure",
			dialer:        &fakeDialer{},
			wantTransient: true,
		},
		{
			name:          "rejected credentials",
			dialer:        &fakeDialer{authErr: errors.New("NO [AUTHENTICATIONFAILED]")},
			wantTransient: false,
		},
		{
			name:   "undecryptable password",
			dialer: &fakeDialer{},
			decrypt: func(string) (string, error) {
				return "", errors.New("cipher: message authentication failed")
			},
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(PoolConfig{Dial: tt.dialer.dial, Decrypt: tt.decrypt}, discard)
			_, err := pool.Acquire(context.Background(), &models.Account{ID: 9, Email: "x@example.com"})

			var connErr *ConnError
			if !errors.As(err, &connErr) {
				t.Fatalf("Acquire() error = %v, want *ConnError", err)
			}
			if connErr.Transient() != tt.wantTransient {
				t.Errorf("Transient() = %v, want %v", connErr.Transient(), tt.wantTransient)
			}
			if pool.Connected(9) {
				t.Error("failed session was pooled")
			}
		})
	}
}
