package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/avis/connectivity"
	"github.com/hazyhaar/avis/horosafe"
)

// StatusError is an HTTP reply outside 2xx/3xx.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: http %d %s", e.Code, http.StatusText(e.Code))
}

// browserHeaders mimics a desktop browser's navigation request.
func browserHeaders(ua string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Cache-Control", "no-cache")
	return h
}

// HTTPStrategy fetches with a plain net/http client.
type HTTPStrategy struct {
	name     string
	client   *http.Client
	headers  http.Header
	maxBytes int64
	// transportOnly restricts escalation into this strategy to transport failures.
	transportOnly bool
}

func (s *HTTPStrategy) Name() string { return s.name }

// Eligible reports whether the strategy may follow a failure of class prev.
func (s *HTTPStrategy) Eligible(prev Class) bool {
	return !s.transportOnly || prev == ClassTransport
}

// Fetch performs one GET. Non-2xx/3xx replies return *StatusError.
func (s *HTTPStrategy) Fetch(ctx context.Context, url string) (*RawDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	for k, v := range s.headers {
		req.Header[k] = v
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		se := &StatusError{Code: resp.StatusCode}
		if d, ok := connectivity.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			se.RetryAfter = d
		}
		return nil, se
	}
	body, err := horosafe.LimitedReadAll(resp.Body, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return &RawDocument{
		SourceURL:   url,
		FinalURL:    resp.Request.URL.String(),
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		Strategy:    s.name,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("fetch: too many redirects (%d)", len(via))
	}
	if _, err := horosafe.ValidateScheme(req.URL.String()); err != nil {
		return fmt.Errorf("fetch: redirect blocked: %w", err)
	}
	return nil
}

// NewDirect returns the default strategy: browser-like headers, a cookie
// jar, HTTP/2 when offered.
func NewDirect(cfg Config) *HTTPStrategy {
	cfg.defaults()
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &HTTPStrategy{
		name: "direct",
		client: &http.Client{
			Timeout:       cfg.Timeout,
			Jar:           jar,
			CheckRedirect: checkRedirect,
		},
		headers:  browserHeaders(cfg.UserAgent),
		maxBytes: cfg.MaxBytes,
	}
}

// NewAlt returns the fallback client: HTTP/1.1 only, its own connection
// pool, TLS 1.0 minimum and optionally no certificate verification. It is
// only tried after a transport-level failure.
func NewAlt(cfg Config) *HTTPStrategy {
	cfg.defaults()
	return newAltWith(cfg, *cfg.AltInsecureTLS)
}

func newAltWith(cfg Config, insecure bool) *HTTPStrategy {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS10,
			InsecureSkipVerify: insecure, //nolint:gosec // opt-in for sites with broken chains
		},
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		ForceAttemptHTTP2:     false,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
	}
	return &HTTPStrategy{
		name: "alt",
		client: &http.Client{
			Timeout:       cfg.Timeout,
			Jar:           jar,
			Transport:     tr,
			CheckRedirect: checkRedirect,
		},
		headers:       browserHeaders(cfg.AltUserAgent),
		maxBytes:      cfg.MaxBytes,
		transportOnly: true,
	}
}
