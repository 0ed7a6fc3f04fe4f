package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown is a shared "do not call before" deadline
type Cooldown interface {
	// Until returns the deadline, zero when none is set
	Until(ctx context.Context) (time.Time, error)
	// Extend pushes the deadline to at least now+d
	Extend(ctx context.Context, d time.Duration) error
}

// MemoryCooldown is a Cooldown shared within one process
type MemoryCooldown struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// NewMemoryCooldown creates an in-process cooldown
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{now: time.Now}
}

// Until implements Cooldown
func (c *MemoryCooldown) Until(context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.until.After(c.now()) {
		return time.Time{}, nil
	}
	return c.until, nil
}

// Extend implements Cooldown
func (c *MemoryCooldown) Extend(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := c.now().Add(d); until.After(c.until) {
		c.until = until
	}
	return nil
}

// RedisCooldown is a Cooldown shared by every process using the same key
type RedisCooldown struct {
	rdb *redis.Client
	key string
}

// NewRedisCooldown creates a cooldown stored under key
func NewRedisCooldown(rdb *redis.Client, key string) *RedisCooldown {
	return &RedisCooldown{rdb: rdb, key: key}
}

// Until implements Cooldown
func (c *RedisCooldown) Until(ctx context.Context) (time.Time, error) {
	ttl, err := c.rdb.PTTL(ctx, c.key).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cooldown: %w", err)
	}
	// -2: no key, -1: no expiry
	if ttl <= 0 {
		return time.Time{}, nil
	}
	return time.Now().Add(ttl), nil
}

// Extend implements Cooldown
func (c *RedisCooldown) Extend(ctx context.Context, d time.Duration) error {
	ttl, err := c.rdb.PTTL(ctx, c.key).Result()
	if err != nil {
		return fmt.Errorf("failed to read cooldown: %w", err)
	}
	if ttl >= d {
		return nil
	}
	if err := c.rdb.Set(ctx, c.key, time.Now().Add(d).Unix(), d).Err(); err != nil {
		return fmt.Errorf("failed to set cooldown: %w", err)
	}
	return nil
}
