// CLAUDE:SUMMARY Headless Chrome fetch strategy (go-rod + stealth), launched lazily on first escalation and shared across sources.
// Package browser renders JavaScript-gated or bot-challenged pages in a
// headless Chrome and returns the resulting DOM as a fetch strategy.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/avis/notices/internal/fetch"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("browser: closed")

// Config configures the browser strategy.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string `yaml:"remote_url"`
	// Bin overrides the Chrome binary path.
	Bin string `yaml:"bin"`
	// NavTimeout bounds navigation plus load. Default: 45s.
	NavTimeout time.Duration `yaml:"nav_timeout"`
	// Settle is an extra wait after load for client-side rendering. Default: 1.5s.
	Settle time.Duration `yaml:"settle"`
	// Block lists resource types to drop (images, fonts, media, stylesheets).
	Block []string `yaml:"block"`
	// MaxPages caps concurrent tabs. Default: 2.
	MaxPages int `yaml:"max_pages"`
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 1500 * time.Millisecond
	}
	if c.Block == nil {
		c.Block = []string{"images", "fonts", "media"}
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 2
	}
}

// Strategy is the "browser" fetch strategy. Safe for concurrent use.
type Strategy struct {
	cfg    Config
	logger *slog.Logger
	slots  chan struct{}

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

var _ fetch.Strategy = (*Strategy)(nil)

// New returns a browser strategy. Chrome is not started until the first Fetch.
func New(cfg Config, logger *slog.Logger) *Strategy {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{cfg: cfg, logger: logger, slots: make(chan struct{}, cfg.MaxPages)}
}

func (s *Strategy) Name() string { return "browser" }

// Eligible reports true: rendering may help after any failure class.
func (s *Strategy) Eligible(fetch.Class) bool { return true }

// Fetch navigates a stealth page to url and returns the rendered DOM.
func (s *Strategy) Fetch(ctx context.Context, url string) (*fetch.RawDocument, error) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b, err := s.ensure()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	defer page.Close()

	if len(s.cfg.Block) > 0 {
		router := blockResources(page, s.cfg.Block)
		defer router.Stop()
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.logger.Warn("browser: wait load", "url", url, "error", err)
	}
	select {
	case <-time.After(s.cfg.Settle):
	case <-navCtx.Done():
		return nil, navCtx.Err()
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM: %w", err)
	}
	final := url
	if info, err := p.Info(); err == nil && info.URL != "" {
		final = info.URL
	}
	return &fetch.RawDocument{
		SourceURL:   url,
		FinalURL:    final,
		Body:        []byte(res.Value.Str()),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
		Strategy:    s.Name(),
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// ensure launches or connects to Chrome once.
func (s *Strategy) ensure() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.browser != nil {
		return s.browser, nil
	}

	wsURL := s.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
		s.logger.Info("browser: launched local chrome", "url", wsURL)
	} else {
		s.logger.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanupLocked()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		s.logger.Warn("browser: ignore cert errors failed", "error", err)
	}
	s.browser = b
	return b, nil
}

// Close shuts Chrome down. Safe to call when Chrome was never started.
func (s *Strategy) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cleanupLocked()
	return nil
}

func (s *Strategy) cleanupLocked() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Debug("browser: close", "error", err)
		}
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
}
