package outbound

import (
	"context"
	"errors"
	"net"
)

// SendError wraps a delivery failure with retry advice.
type SendError struct {
	Op        string
	Code      int
	Err       error
	Retryable bool
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return "outbound " + e.Op + ": " + e.Err.Error()
	}
	return "outbound " + e.Op + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// ShouldRetry reports whether the error is worth another attempt:
// explicit retryable send errors, timeouts, and transient net failures.
// Context cancellation is never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
