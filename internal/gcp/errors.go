package gcp

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRecordNotFound is returned when a state record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists is returned when creating a state record that already exists.
	ErrRecordExists = errors.New("record already exists")

	// ErrPreconditionFailed is returned when a conditional update does not apply.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// IsRetryable reports whether err is a transient failure of an external call.
// Timeouts count as transient; cancellation by the caller does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return true
		}
	}
	return false
}
