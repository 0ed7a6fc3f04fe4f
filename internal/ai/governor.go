package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mixelka/autoreply/internal/retry"
)

// GovernorConfig configuration for Governor
type GovernorConfig struct {
	Name            string
	BreakerFailures uint32        // consecutive temporary failures that open the breaker
	BreakerTimeout  time.Duration // open state duration before a trial call
	RateLimitPause  time.Duration // cooldown set by a rate-limit response
}

// Governor throttles every call to the AI service across all accounts:
// one circuit breaker and one cooldown shared by all callers.
type Governor struct {
	cb       *gobreaker.CircuitBreaker
	cooldown Cooldown
	pause    time.Duration
	logger   *slog.Logger
}

// NewGovernor creates a new governor
func NewGovernor(cfg GovernorConfig, cooldown Cooldown, logger *slog.Logger) *Governor {
	if cfg.Name == "" {
		cfg.Name = "ai-service"
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.RateLimitPause == 0 {
		cfg.RateLimitPause = 20 * time.Second
	}
	if cooldown == nil {
		cooldown = NewMemoryCooldown()
	}
	logger = logger.With("component", "ai_governor")

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Rejected requests say nothing about service health
		IsSuccessful: func(err error) bool {
			var se *ServiceError
			if errors.As(err, &se) {
				return !se.Temporary()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Governor{
		cb:       gobreaker.NewCircuitBreaker(settings),
		cooldown: cooldown,
		pause:    cfg.RateLimitPause,
		logger:   logger,
	}
}

// Do waits out any shared cooldown and runs fn through the circuit breaker.
// fn should return errors already classified as *ServiceError.
func (g *Governor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.wait(ctx); err != nil {
		return err
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return classify(op, err)
	}

	var se *ServiceError
	if errors.As(err, &se) && se.RateLimited {
		if cerr := g.cooldown.Extend(ctx, g.pause); cerr != nil {
			g.logger.Warn("failed to extend cooldown", "error", cerr)
		}
		g.logger.Warn("rate limited, pausing AI calls", "op", op, "pause", g.pause)
	}
	return err
}

// State returns the breaker state name
func (g *Governor) State() string {
	return g.cb.State().String()
}

func (g *Governor) wait(ctx context.Context) error {
	until, err := g.cooldown.Until(ctx)
	if err != nil {
		// Shared store unreachable; the breaker still protects the service
		g.logger.Warn("failed to read cooldown", "error", err)
		return nil
	}
	if until.IsZero() {
		return nil
	}
	return retry.Sleep(ctx, time.Until(until))
}
