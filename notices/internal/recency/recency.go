// CLAUDE:SUMMARY Recency window policy: window bounds, explicit undated policy, and ordering-based early exit per source pass.
// CLAUDE:EXPORTS Window, Undated, Filter, Pass, Decision, ParseWindow, ParseUndated
package recency

import (
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/avis/notices/internal/dates"
)

// Window is the deployment-level recency policy.
type Window string

const (
	SameDay         Window = "same-day"
	TodayOrTomorrow Window = "today-or-tomorrow"
	CurrentWeek     Window = "current-week"
	CurrentMonth    Window = "current-month"
)

// Undated is the policy for candidates without a resolved date.
type Undated string

const (
	UndatedReject Undated = "reject"
	// UndatedLatest treats the first undated item of each source pass as
	// tentatively current.
	UndatedLatest Undated = "accept-as-candidate-latest"
)

var (
	ErrUnknownWindow  = errors.New("recency: unknown window")
	ErrUnknownUndated = errors.New("recency: unknown undated policy")
)

// ParseWindow validates s.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case SameDay, TodayOrTomorrow, CurrentWeek, CurrentMonth:
		return w, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownWindow, s)
}

// ParseUndated validates s.
func ParseUndated(s string) (Undated, error) {
	switch u := Undated(s); u {
	case UndatedReject, UndatedLatest:
		return u, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownUndated, s)
}

// Bounds returns the inclusive first and last day of the window around
// today. Both are midnights in today's location.
func (w Window) Bounds(today time.Time) (lo, hi time.Time) {
	today = midnight(today)
	switch w {
	case TodayOrTomorrow:
		return today, today.AddDate(0, 0, 1)
	case CurrentWeek:
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		lo = today.AddDate(0, 0, -offset)
		return lo, lo.AddDate(0, 0, 6)
	case CurrentMonth:
		lo = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
		return lo, lo.AddDate(0, 1, -1)
	default:
		return today, today
	}
}

// Days is the nominal window length.
func (w Window) Days() int {
	switch w {
	case TodayOrTomorrow:
		return 2
	case CurrentWeek:
		return 7
	case CurrentMonth:
		return 31
	default:
		return 1
	}
}

// Retention is the default ledger horizon for the window: ten window lengths.
func (w Window) Retention() time.Duration {
	return time.Duration(10*w.Days()) * 24 * time.Hour
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Decision is the outcome for one candidate.
type Decision int

const (
	Reject Decision = iota
	Accept
	// Stop rejects the candidate and ends the source pass.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Stop:
		return "stop"
	default:
		return "reject"
	}
}

// Config configures a Filter.
type Config struct {
	Window    Window  `yaml:"window"`
	Undated   Undated `yaml:"undated"`
	EarlyExit bool    `yaml:"early_exit"`
}

func (c *Config) defaults() {
	if c.Window == "" {
		c.Window = TodayOrTomorrow
	}
	if c.Undated == "" {
		c.Undated = UndatedReject
	}
}

// trendRun is the number of consecutive non-increasing dates that
// establishes a newest-first listing.
const trendRun = 3

// Filter holds the recency policy. Safe for concurrent use; per-source
// state lives in Pass.
type Filter struct {
	cfg   Config
	today func() time.Time
}

// New returns a Filter. today returns the current local date; nil uses time.Now.
func New(cfg Config, today func() time.Time) *Filter {
	cfg.defaults()
	if today == nil {
		today = time.Now
	}
	return &Filter{cfg: cfg, today: today}
}

// Window returns the active window.
func (f *Filter) Window() Window { return f.cfg.Window }

// InWindow reports whether date falls inside the window.
func (f *Filter) InWindow(date time.Time) bool {
	lo, hi := f.cfg.Window.Bounds(f.today())
	d := midnight(date.In(lo.Location()))
	return !d.Before(lo) && !d.After(hi)
}

// NewPass starts the stateful scan of one source, in document order.
func (f *Filter) NewPass() *Pass {
	lo, hi := f.cfg.Window.Bounds(f.today())
	return &Pass{f: f, lo: lo, hi: hi}
}

// Pass is the per-source recency state. Not safe for concurrent use.
type Pass struct {
	f      *Filter
	lo, hi time.Time

	undatedTaken bool
	inWindowSeen bool
	prev         time.Time
	run          int
	stopped      bool
}

// Accept decides one candidate. After Stop every later call returns Stop.
func (p *Pass) Accept(rd dates.ResolvedDate) Decision {
	if p.stopped {
		return Stop
	}
	if rd.IsZero() {
		if p.f.cfg.Undated == UndatedLatest && !p.undatedTaken {
			p.undatedTaken = true
			return Accept
		}
		return Reject
	}

	d := midnight(rd.Date.In(p.lo.Location()))
	if p.run > 0 && !d.After(p.prev) {
		p.run++
	} else {
		p.run = 1
	}
	p.prev = d

	if !d.Before(p.lo) && !d.After(p.hi) {
		p.inWindowSeen = true
		return Accept
	}
	if p.f.cfg.EarlyExit && d.Before(p.lo) && (p.inWindowSeen || p.run >= trendRun) {
		p.stopped = true
		return Stop
	}
	return Reject
}

// Stopped reports whether the pass ended early.
func (p *Pass) Stopped() bool { return p.stopped }
