package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
		MaxRetryAfter: 10 * time.Millisecond,
		Timeout:       5 * time.Second,
	}
}

type fakeStrategy struct {
	name     string
	eligible func(Class) bool
	fn       func(call int) (*RawDocument, error)
	calls    atomic.Int32
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Eligible(prev Class) bool {
	if s.eligible == nil {
		return true
	}
	return s.eligible(prev)
}

func (s *fakeStrategy) Fetch(_ context.Context, url string) (*RawDocument, error) {
	n := int(s.calls.Add(1))
	return s.fn(n)
}

func okDoc(strategy string) func(int) (*RawDocument, error) {
	return func(int) (*RawDocument, error) {
		return &RawDocument{Body: []byte("<html>ok</html>"), StatusCode: 200, Strategy: strategy}, nil
	}
}

type fakeStats struct {
	failures map[string]int
	recorded []string
}

func (s *fakeStats) ConsecutiveFailures(context.Context, string) (map[string]int, error) {
	return s.failures, nil
}

func (s *fakeStats) RecordStrategy(_ context.Context, _, strategy string, ok bool) error {
	r := strategy + ":fail"
	if ok {
		r = strategy + ":ok"
	}
	s.recorded = append(s.recorded, r)
	return nil
}

func TestFetch_DirectSendsBrowserHeaders(t *testing.T) {
	var ua, lang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua, lang = r.Header.Get("User-Agent"), r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>notices</html>"))
	}))
	defer srv.Close()

	f := New(testConfig())
	doc, err := f.Fetch(context.Background(), Target{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Strategy != "direct" || string(doc.Body) != "<html>notices</html>" || doc.ContentType != "text/html" {
		t.Errorf("doc: got %+v", doc)
	}
	if !strings.Contains(ua, "Mozilla/5.0") || lang == "" {
		t.Errorf("headers: ua=%q lang=%q", ua, lang)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	// WHAT: 5xx replies are retried within the strategy.
	// WHY: Government portals often flap under load.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html>back</html>"))
	}))
	defer srv.Close()

	doc, err := New(testConfig()).Fetch(context.Background(), Target{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits.Load() != 3 || doc.Strategy != "direct" {
		t.Errorf("hits=%d strategy=%s", hits.Load(), doc.Strategy)
	}
}

func TestFetch_RateLimitHonorsRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	if _, err := New(testConfig()).Fetch(context.Background(), Target{URL: srv.URL}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits: got %d, want 2", hits.Load())
	}
}

func TestFetch_NotFoundNotRetriedButEscalates(t *testing.T) {
	// WHAT: A 404 is not retried by direct, skips alt, and escalates to browser.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	browser := &fakeStrategy{name: "browser", fn: okDoc("browser")}
	f := New(testConfig(), WithStrategy(browser))
	doc, err := f.Fetch(context.Background(), Target{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("direct hits: got %d, want 1", hits.Load())
	}
	if doc.Strategy != "browser" {
		t.Errorf("strategy: got %s, want browser", doc.Strategy)
	}
}

func TestFetch_ChallengeEscalates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`<html><title>Just a moment...</title><div>Checking your browser before accessing</div></html>`))
	}))
	defer srv.Close()

	browser := &fakeStrategy{name: "browser", fn: okDoc("browser")}
	doc, err := New(testConfig(), WithStrategy(browser)).Fetch(context.Background(), Target{URL: srv.URL})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits.Load() != 1 || doc.Strategy != "browser" {
		t.Errorf("hits=%d strategy=%s", hits.Load(), doc.Strategy)
	}
}

func TestFetch_TransportFailureUsesAlt(t *testing.T) {
	direct := &fakeStrategy{name: "direct", fn: func(int) (*RawDocument, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection reset by peer")}
	}}
	alt := &fakeStrategy{name: "alt", eligible: func(c Class) bool { return c == ClassTransport }, fn: okDoc("alt")}
	f := New(testConfig(), WithStrategy(direct), WithStrategy(alt))
	doc, err := f.Fetch(context.Background(), Target{URL: "https://example.org/"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.Strategy != "alt" {
		t.Errorf("strategy: got %s", doc.Strategy)
	}
	if direct.calls.Load() != 3 {
		t.Errorf("direct attempts: got %d, want 3", direct.calls.Load())
	}
}

func TestFetch_AllFailReturnsFetchFailure(t *testing.T) {
	direct := &fakeStrategy{name: "direct", fn: func(int) (*RawDocument, error) {
		return nil, &StatusError{Code: 403}
	}}
	browser := &fakeStrategy{name: "browser", fn: func(int) (*RawDocument, error) {
		return nil, ErrChallenge
	}}
	f := New(testConfig(), WithStrategy(direct), WithStrategy(browser))
	_, err := f.Fetch(context.Background(), Target{URL: "https://example.org/"})
	var ff *FetchFailure
	if !errors.As(err, &ff) {
		t.Fatalf("expected *FetchFailure, got %v", err)
	}
	if ff.Strategy != "browser" || ff.Class != ClassChallenge {
		t.Errorf("failure: got %+v", ff)
	}
	if direct.calls.Load() != 1 || browser.calls.Load() != 1 {
		t.Errorf("calls: direct=%d browser=%d, want 1 each", direct.calls.Load(), browser.calls.Load())
	}
}

func TestFetch_DemotesFailingStrategy(t *testing.T) {
	// WHAT: A strategy with too many consecutive failures moves to the end.
	// WHY: Sources that always need the browser should not pay for direct first.
	direct := &fakeStrategy{name: "direct", fn: okDoc("direct")}
	browser := &fakeStrategy{name: "browser", fn: okDoc("browser")}
	stats := &fakeStats{failures: map[string]int{"direct": 3}}
	f := New(testConfig(), WithStrategy(direct), WithStrategy(browser), WithStats(stats))

	doc, err := f.Fetch(context.Background(), Target{URL: "https://example.org/", Strategies: []string{"direct", "browser"}})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Strategy != "browser" || direct.calls.Load() != 0 {
		t.Errorf("strategy=%s direct calls=%d", doc.Strategy, direct.calls.Load())
	}
	if len(stats.recorded) != 1 || stats.recorded[0] != "browser:ok" {
		t.Errorf("recorded: got %v", stats.recorded)
	}
}

func TestFetch_UnknownStrategies(t *testing.T) {
	_, err := New(testConfig()).Fetch(context.Background(), Target{URL: "https://example.org/", Strategies: []string{"carrier"}})
	if !errors.Is(err, ErrNoStrategy) {
		t.Fatalf("got %v, want ErrNoStrategy", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		err    error
		want   Class
	}{
		{429, nil, ClassRateLimit},
		{404, nil, ClassNotFound},
		{410, nil, ClassNotFound},
		{403, nil, ClassHTTP},
		{503, nil, ClassHTTP},
		{0, &StatusError{Code: 429}, ClassRateLimit},
		{0, ErrChallenge, ClassChallenge},
		{0, context.DeadlineExceeded, ClassTransport},
		{0, &net.DNSError{Err: "no such host", Name: "x.invalid"}, ClassTransport},
		{0, errors.New("remote error: tls: handshake failure"), ClassTransport},
		{0, errors.New("weird"), ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.status, tt.err); got != tt.want {
			t.Errorf("Classify(%d, %v): got %s, want %s", tt.status, tt.err, got, tt.want)
		}
	}
}

func TestClass_Retryable(t *testing.T) {
	if !ClassHTTP.Retryable(503) || !ClassHTTP.Retryable(408) {
		t.Error("503/408 should be retryable")
	}
	if ClassHTTP.Retryable(403) || ClassNotFound.Retryable(404) || ClassChallenge.Retryable(0) {
		t.Error("403/404/challenge should not be retryable")
	}
}

func TestDetectChallenge(t *testing.T) {
	links := strings.Repeat(`<a href="/n">notice</a>`, 10)
	tests := []struct {
		body string
		want bool
	}{
		{`<div id="cf-chl-widget"></div>`, true},
		{`Please verify you are not a robot`, true},
		{`<title>Attention Required! | Cloudflare</title>`, true},
		{`<html>Access Denied</html>`, true},
		{`<form><div class="g-recaptcha"></div></form>` + links, false},
		{`<html><body>` + links + `</body></html>`, false},
	}
	for _, tt := range tests {
		if got := DetectChallenge([]byte(tt.body)); got != tt.want {
			t.Errorf("DetectChallenge(%.40q): got %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestRobotsCrawlDelay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.Write([]byte("User-agent: *\nCrawl-delay: 2\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rc := newRobotsCache("avis", time.Second)
	ctx := context.Background()
	if d := rc.crawlDelay(ctx, srv.URL+"/notices"); d != 2*time.Second {
		t.Errorf("delay: got %v, want 2s", d)
	}
	rc.crawlDelay(ctx, srv.URL+"/other")
	if hits.Load() != 1 {
		t.Errorf("robots fetched %d times, want 1 (cached)", hits.Load())
	}
	rc.reset()
	rc.crawlDelay(ctx, srv.URL+"/")
	if hits.Load() != 2 {
		t.Errorf("after reset: fetched %d times, want 2", hits.Load())
	}
}

func TestPacer_SpacesSameHost(t *testing.T) {
	p := newPacer()
	ctx := context.Background()
	start := time.Now()
	if err := p.wait(ctx, "a.org", 40*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := p.wait(ctx, "b.org", 40*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 30*time.Millisecond {
		t.Fatal("first request per host should not wait")
	}
	if err := p.wait(ctx, "a.org", 40*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 35*time.Millisecond {
		t.Error("second request to the same host should wait")
	}
}

func TestGet_ReturnsBodyAndType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	body, ct, err := New(testConfig()).Get(context.Background(), srv.URL+"/a.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "%PDF-1.4" || ct != "application/pdf" {
		t.Errorf("got %q %q", body, ct)
	}
}
