// CLAUDE:SUMMARY Strategy-chain fetcher: direct → alt → browser with per-strategy retry, challenge detection, courtesy delay and adaptive ordering.
// CLAUDE:DEPENDS connectivity (backoff, Retry-After), horosafe (bounded reads)
// CLAUDE:EXPORTS Fetcher, New, Config, Target, Strategy, RawDocument, FetchFailure, Classify, DetectChallenge
// Package fetch retrieves a source page under adversarial conditions.
//
// Strategies are tried in order until one returns a usable body. Each
// strategy gets its own retry budget; a failure escalates to the next
// eligible strategy, and the last failure is reported as *FetchFailure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hazyhaar/avis/connectivity"
)

// RawDocument is a fetched page.
type RawDocument struct {
	SourceURL   string
	FinalURL    string
	Body        []byte
	ContentType string
	StatusCode  int
	Strategy    string
	FetchedAt   time.Time
}

// Strategy is one way of retrieving a URL.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, url string) (*RawDocument, error)
}

// Escalator is implemented by strategies that only make sense after
// certain failure classes.
type Escalator interface {
	Eligible(prev Class) bool
}

// StrategyStats persists consecutive failure counts per source and strategy.
type StrategyStats interface {
	ConsecutiveFailures(ctx context.Context, source string) (map[string]int, error)
	RecordStrategy(ctx context.Context, source, strategy string, ok bool) error
}

// FetchFailure is the persistent failure of every eligible strategy.
type FetchFailure struct {
	Source     string
	Strategy   string
	Class      Class
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchFailure) Error() string {
	return fmt.Sprintf("fetch: %s failed (%s via %s after %d attempts): %v", e.Source, e.Class, e.Strategy, e.Attempts, e.Err)
}

func (e *FetchFailure) Unwrap() error { return e.Err }

// ErrNoStrategy is returned when a target names no known strategy.
var ErrNoStrategy = errors.New("fetch: no usable strategy")

// Config configures every strategy and the chain.
type Config struct {
	Strategies    []string      `yaml:"strategies"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxBytes      int64         `yaml:"max_bytes"`
	UserAgent     string        `yaml:"user_agent"`
	AltUserAgent  string        `yaml:"alt_user_agent"`
	// AltInsecureTLS disables certificate checks in the alt strategy.
	AltInsecureTLS *bool `yaml:"alt_insecure_tls"`
	RespectRobots  bool  `yaml:"respect_robots"`
	// RobotsAgent is the token matched against robots.txt groups.
	RobotsAgent string `yaml:"robots_agent"`
	DemoteAfter int    `yaml:"demote_after"`
}

func (c *Config) defaults() {
	if len(c.Strategies) == 0 {
		c.Strategies = []string{"direct", "alt", "browser"}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = 2 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 8 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if c.AltUserAgent == "" {
		c.AltUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
	}
	if c.AltInsecureTLS == nil {
		t := true
		c.AltInsecureTLS = &t
	}
	if c.RobotsAgent == "" {
		c.RobotsAgent = "avis"
	}
	if c.DemoteAfter <= 0 {
		c.DemoteAfter = 3
	}
}

// Target is what to fetch and how.
type Target struct {
	URL        string
	CrawlDelay time.Duration
	// Strategies overrides Config.Strategies for this target.
	Strategies []string
}

// Fetcher runs the strategy chain. Safe for concurrent use.
type Fetcher struct {
	cfg    Config
	logger *slog.Logger
	stats  StrategyStats

	mu         sync.RWMutex
	strategies map[string]Strategy

	robots *robotsCache
	pacer  *pacer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithStrategy registers or replaces a strategy under its Name.
func WithStrategy(s Strategy) Option {
	return func(f *Fetcher) { f.strategies[s.Name()] = s }
}

// WithStats enables adaptive ordering.
func WithStats(s StrategyStats) Option { return func(f *Fetcher) { f.stats = s } }

// New returns a Fetcher with the direct and alt strategies registered.
// The browser strategy is added by the caller with WithStrategy.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg.defaults()
	f := &Fetcher{
		cfg:        cfg,
		logger:     slog.Default(),
		strategies: make(map[string]Strategy),
		pacer:      newPacer(),
	}
	f.strategies["direct"] = NewDirect(cfg)
	f.strategies["alt"] = newAltWith(cfg, *cfg.AltInsecureTLS)
	for _, o := range opts {
		o(f)
	}
	if cfg.RespectRobots {
		f.robots = newRobotsCache(cfg.RobotsAgent, 10*time.Second)
	}
	return f
}

// ResetRun clears per-run caches (robots.txt).
func (f *Fetcher) ResetRun() {
	if f.robots != nil {
		f.robots.reset()
	}
}

// Fetch runs the chain for t.
func (f *Fetcher) Fetch(ctx context.Context, t Target) (*RawDocument, error) {
	chain := f.order(ctx, t)
	if len(chain) == 0 {
		return nil, &FetchFailure{Source: t.URL, Class: ClassUnknown, Err: ErrNoStrategy}
	}

	var last *FetchFailure
	for i, s := range chain {
		if i > 0 && last != nil {
			if esc, ok := s.(Escalator); ok && !esc.Eligible(last.Class) {
				f.logger.Debug("fetch: strategy not eligible", "source", t.URL, "strategy", s.Name(), "after", last.Class)
				continue
			}
		}
		doc, failure := f.attempt(ctx, s, t)
		f.record(ctx, t.URL, s.Name(), failure == nil)
		if failure == nil {
			return doc, nil
		}
		last = failure
		f.logger.Warn("fetch: strategy failed",
			"source", t.URL, "strategy", s.Name(), "class", failure.Class,
			"attempts", failure.Attempts, "error", failure.Err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, last
}

// attempt runs one strategy with its retry budget.
func (f *Fetcher) attempt(ctx context.Context, s Strategy, t Target) (*RawDocument, *FetchFailure) {
	var (
		doc    *RawDocument
		class  Class
		status int
	)
	policy := connectivity.Policy{
		MaxAttempts: f.cfg.MaxAttempts,
		Backoff:     connectivity.Backoff{Base: f.cfg.BackoffBase, Max: f.cfg.BackoffMax},
		MaxWait:     f.cfg.MaxRetryAfter,
	}
	attempts, err := connectivity.Retry(ctx, policy, f.logger, func(ctx context.Context, attempt int) connectivity.Outcome {
		if err := f.courtesy(ctx, t); err != nil {
			class, status = ClassTransport, 0
			return connectivity.Outcome{Err: err}
		}
		d, err := s.Fetch(ctx, t.URL)
		if err == nil && DetectChallenge(d.Body) {
			status = d.StatusCode
			err = ErrChallenge
		}
		if err == nil {
			doc = d
			return connectivity.Outcome{}
		}
		status = 0
		var wait time.Duration
		var se *StatusError
		if errors.As(err, &se) {
			status, wait = se.Code, se.RetryAfter
		}
		class = Classify(status, err)
		return connectivity.Outcome{Err: err, Retry: class.Retryable(status), Wait: wait}
	})
	if err == nil {
		return doc, nil
	}
	return nil, &FetchFailure{
		Source:     t.URL,
		Strategy:   s.Name(),
		Class:      class,
		StatusCode: status,
		Attempts:   attempts,
		Err:        err,
	}
}

// courtesy waits the crawl delay (per-source, else robots.txt) since the
// previous request to the same host.
func (f *Fetcher) courtesy(ctx context.Context, t Target) error {
	delay := t.CrawlDelay
	if delay <= 0 && f.robots != nil {
		delay = f.robots.crawlDelay(ctx, t.URL)
	}
	host := t.URL
	if u, err := url.Parse(t.URL); err == nil {
		host = u.Host
	}
	return f.pacer.wait(ctx, host, delay)
}

// order resolves the target's chain and moves strategies with too many
// consecutive failures to the end.
func (f *Fetcher) order(ctx context.Context, t Target) []Strategy {
	names := t.Strategies
	if len(names) == 0 {
		names = f.cfg.Strategies
	}
	f.mu.RLock()
	var chain []Strategy
	for _, n := range names {
		if s, ok := f.strategies[n]; ok {
			chain = append(chain, s)
		} else {
			f.logger.Warn("fetch: unknown strategy", "source", t.URL, "strategy", n)
		}
	}
	f.mu.RUnlock()

	if f.stats == nil || len(chain) < 2 {
		return chain
	}
	failures, err := f.stats.ConsecutiveFailures(ctx, t.URL)
	if err != nil {
		f.logger.Warn("fetch: strategy stats unavailable", "source", t.URL, "error", err)
		return chain
	}
	var healthy, demoted []Strategy
	for _, s := range chain {
		if failures[s.Name()] >= f.cfg.DemoteAfter {
			demoted = append(demoted, s)
		} else {
			healthy = append(healthy, s)
		}
	}
	if len(demoted) > 0 {
		f.logger.Info("fetch: demoted strategies", "source", t.URL, "count", len(demoted))
	}
	return append(healthy, demoted...)
}

func (f *Fetcher) record(ctx context.Context, source, strategy string, ok bool) {
	if f.stats == nil {
		return
	}
	if err := f.stats.RecordStrategy(ctx, source, strategy, ok); err != nil {
		f.logger.Warn("fetch: record strategy outcome", "source", source, "strategy", strategy, "error", err)
	}
}

// Get fetches a linked document (detail page or PDF) with the direct
// strategy and a single attempt.
func (f *Fetcher) Get(ctx context.Context, link string) ([]byte, string, error) {
	f.mu.RLock()
	s := f.strategies["direct"]
	f.mu.RUnlock()
	if s == nil {
		return nil, "", ErrNoStrategy
	}
	if err := f.courtesy(ctx, Target{URL: link}); err != nil {
		return nil, "", err
	}
	doc, err := s.Fetch(ctx, link)
	if err != nil {
		return nil, "", err
	}
	return doc.Body, doc.ContentType, nil
}
