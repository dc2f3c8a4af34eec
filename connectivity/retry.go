// CLAUDE:SUMMARY Exponential backoff, Retry-After parsing and a context-aware retry loop shared by fetch and dispatch.
// Package connectivity holds the retry and circuit-breaking primitives used
// wherever avis talks to a remote party: source sites and messaging APIs.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff is a doubling delay schedule capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// ParseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date
// form. ok is false when the value is absent or unparseable.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Outcome tells Retry what to do after one attempt.
type Outcome struct {
	Err error
	// Retry asks for another attempt when attempts remain.
	Retry bool
	// Wait overrides the backoff delay when positive (Retry-After).
	Wait time.Duration
}

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// MaxWait caps an Outcome.Wait hint. Zero means no cap.
	MaxWait time.Duration
}

// Retry calls op until it succeeds, asks not to be retried, or MaxAttempts
// is exhausted. It returns the last error and the number of attempts made.
func Retry(ctx context.Context, p Policy, logger *slog.Logger, op func(ctx context.Context, attempt int) Outcome) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out := op(ctx, attempt)
		if out.Err == nil {
			return attempt, nil
		}
		last = out.Err
		if !out.Retry || attempt == maxAttempts || ctx.Err() != nil {
			return attempt, last
		}
		wait := p.Backoff.Delay(attempt)
		if out.Wait > 0 {
			wait = out.Wait
			if p.MaxWait > 0 && wait > p.MaxWait {
				wait = p.MaxWait
			}
		}
		if logger != nil {
			logger.DebugContext(ctx, "connectivity: retrying",
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"backoff_ms", wait.Milliseconds(),
				"error", out.Err)
		}
		if err := Sleep(ctx, wait); err != nil {
			return attempt, last
		}
	}
	return maxAttempts, last
}
