// CLAUDE:SUMMARY Delivers formatted notices through a channels.Sender with retry, Retry-After, minimum inter-send delay and an optional breaker.
// CLAUDE:DEPENDS channels, connectivity
// CLAUDE:EXPORTS Dispatcher, New, Config, Notice, Format, Stats, ErrDeliveryFailed
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/avis/channels"
	"github.com/hazyhaar/avis/connectivity"
)

// ErrDeliveryFailed wraps every final delivery failure. The item stays
// un-ledgered and is retried next run.
var ErrDeliveryFailed = errors.New("dispatch: delivery failed")

// DefaultMinInterval keeps a single chat under Telegram's one message per
// second limit.
const DefaultMinInterval = time.Second

// Config configures delivery.
type Config struct {
	Recipient      string        `yaml:"recipient"`
	AlertRecipient string        `yaml:"alert_recipient"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	MaxRetryAfter  time.Duration `yaml:"max_retry_after"`
	// MinInterval is the minimum delay between consecutive sends. Zero means
	// DefaultMinInterval; a negative value disables pacing.
	MinInterval time.Duration `yaml:"min_interval"`
	// BreakerThreshold opens the breaker after that many consecutive failed
	// deliveries. Zero disables it.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = time.Minute
	}
	if c.MinInterval == 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 5 * time.Minute
	}
}

// Stats are cumulative delivery counters.
type Stats struct {
	Attempts int64 `json:"attempts"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
}

// Dispatcher is safe for concurrent use; sends are serialized by the limiter.
type Dispatcher struct {
	sender  channels.Sender
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *connectivity.CircuitBreaker
	now     func() time.Time

	attempts atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
}

// New returns a Dispatcher over sender.
func New(sender channels.Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	d := &Dispatcher{sender: sender, cfg: cfg, logger: logger, limiter: lim, now: time.Now}
	if cfg.BreakerThreshold > 0 {
		d.breaker = connectivity.NewCircuitBreaker(
			connectivity.WithBreakerThreshold(cfg.BreakerThreshold),
			connectivity.WithBreakerResetTimeout(cfg.BreakerReset),
		)
	}
	return d
}

// Platform names the underlying sender.
func (d *Dispatcher) Platform() string { return d.sender.Platform() }

// Notify formats n and delivers it to the configured recipient.
func (d *Dispatcher) Notify(ctx context.Context, n Notice) error {
	return d.Deliver(ctx, channels.Message{
		Recipient:  d.cfg.Recipient,
		Text:       Format(n, d.now()),
		RenderMode: channels.RenderHTML,
		Metadata:   map[string]string{"link": n.Link, "source": n.SourceURL},
	})
}

// Alert sends text to the alert recipient. No-op when none is configured.
func (d *Dispatcher) Alert(ctx context.Context, text string) error {
	if d.cfg.AlertRecipient == "" {
		return nil
	}
	return d.Deliver(ctx, channels.Message{Recipient: d.cfg.AlertRecipient, Text: text, RenderMode: channels.RenderHTML})
}

// Deliver sends msg with retries. nil means Sent.
func (d *Dispatcher) Deliver(ctx context.Context, msg channels.Message) error {
	if d.breaker != nil && !d.breaker.Allow() {
		d.failed.Add(1)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, &connectivity.ErrCircuitOpen{Target: d.sender.Platform()})
	}

	policy := connectivity.Policy{
		MaxAttempts: d.cfg.MaxAttempts,
		Backoff:     connectivity.Backoff{Base: d.cfg.BackoffBase, Max: d.cfg.BackoffMax},
		MaxWait:     d.cfg.MaxRetryAfter,
	}
	attempts, err := connectivity.Retry(ctx, policy, d.logger, func(ctx context.Context, attempt int) connectivity.Outcome {
		if err := d.limiter.Wait(ctx); err != nil {
			return connectivity.Outcome{Err: err}
		}
		d.attempts.Add(1)
		err := d.sender.Send(ctx, msg)
		if err == nil {
			return connectivity.Outcome{}
		}
		retry, wait := channels.Retryable(err)
		d.logger.Warn("dispatch: send failed",
			"platform", d.sender.Platform(), "attempt", attempt, "retryable", retry, "error", err)
		return connectivity.Outcome{Err: err, Retry: retry, Wait: wait}
	})
	if err != nil {
		d.failed.Add(1)
		if d.breaker != nil {
			d.breaker.RecordFailure()
		}
		return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, attempts, err)
	}
	d.sent.Add(1)
	if d.breaker != nil {
		d.breaker.RecordSuccess()
	}
	return nil
}

// Stats returns the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Attempts: d.attempts.Load(), Sent: d.sent.Load(), Failed: d.failed.Load()}
}
