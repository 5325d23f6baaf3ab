package gcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastPolicy(attempts int, timeout time.Duration) CallPolicy {
	return CallPolicy{
		Timeout:     timeout,
		MaxAttempts: attempts,
		Backoff:     gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc not found", status.Error(codes.NotFound, "nope"), false},
		{"grpc failed precondition", status.Error(codes.FailedPrecondition, "no"), false},
		{"http 503", &googleapi.Error{Code: 503}, true},
		{"http 429", &googleapi.Error{Code: 429}, true},
		{"http 412", &googleapi.Error{Code: 412}, false},
		{"sentinel", ErrRecordNotFound, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestCallPolicyRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3, 0).Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "try again")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCallPolicyStopsOnPermanentErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(5, 0).Do(context.Background(), "get record", func(ctx context.Context) error {
		calls++
		return ErrRecordNotFound
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Contains(t, err.Error(), "get record")
}

func TestCallPolicyGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(2, 0).Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &googleapi.Error{Code: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, IsRetryable(err))
}

func TestCallPolicyAppliesPerAttemptTimeout(t *testing.T) {
	err := fastPolicy(1, 10*time.Millisecond).Do(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsRetryable(err))
}
