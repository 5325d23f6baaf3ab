package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// CallPolicy bounds every call an adapter makes to an external collaborator:
// each attempt gets its own timeout and transient failures are retried with backoff.
type CallPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     gax.Backoff
}

// NewCallPolicy returns a policy with the default exponential backoff.
func NewCallPolicy(timeout time.Duration, maxAttempts int) CallPolicy {
	return CallPolicy{
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		Backoff: gax.Backoff{
			Initial:    200 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2,
		},
	}
}

// Do runs fn under the policy. The returned error wraps the last failure and keeps
// its classification, so callers can still use IsRetryable and errors.Is on it.
func (p CallPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := p.Backoff

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if attempt >= maxAttempts || !IsRetryable(lastErr) || ctx.Err() != nil {
			break
		}

		pause := backoff.Pause()
		slog.Warn(
			"External call failed, will retry.",
			"op", op,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", pause.String(),
			"error", lastErr,
		)
		if err := gax.Sleep(ctx, pause); err != nil {
			break
		}
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func (p CallPolicy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(callCtx)
}
