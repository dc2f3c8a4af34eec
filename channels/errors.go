package channels

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoPlatformFactory is returned by New for an unknown platform.
type ErrNoPlatformFactory struct {
	Platform string
}

func (e *ErrNoPlatformFactory) Error() string {
	return fmt.Sprintf("channels: no factory for platform %q", e.Platform)
}

// SendError is returned when a message could not be delivered.
type SendError struct {
	Platform string
	// Status is the HTTP status of the platform reply, 0 for transport errors.
	Status     int
	Retryable  bool
	RetryAfter time.Duration
	Cause      error
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("channels: send failed on %s (status %d): %v", e.Platform, e.Status, e.Cause)
	}
	return fmt.Sprintf("channels: send failed on %s: %v", e.Platform, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// Retryable reports whether err is worth another attempt and any wait the
// platform asked for. Errors that are not *SendError count as transport
// failures unless they come from context cancellation.
func Retryable(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable, se.RetryAfter
	}
	return true, 0
}

// classifyStatus maps an HTTP reply status to retryability.
func classifyStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}
