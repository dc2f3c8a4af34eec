package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/hazyhaar/avis/connectivity"
)

// robotsCache fetches robots.txt once per host per run and answers the
// Crawl-delay for the configured user agent.
type robotsCache struct {
	client *http.Client
	agent  string

	mu     sync.Mutex
	delays map[string]time.Duration
}

func newRobotsCache(agent string, timeout time.Duration) *robotsCache {
	return &robotsCache{
		client: &http.Client{Timeout: timeout},
		agent:  agent,
		delays: make(map[string]time.Duration),
	}
}

func (r *robotsCache) reset() {
	r.mu.Lock()
	r.delays = make(map[string]time.Duration)
	r.mu.Unlock()
}

// crawlDelay returns the robots.txt Crawl-delay for rawURL's host; zero when
// robots.txt is absent, unreadable or silent.
func (r *robotsCache) crawlDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	key := u.Scheme + "://" + u.Host
	r.mu.Lock()
	d, ok := r.delays[key]
	r.mu.Unlock()
	if ok {
		return d
	}

	d = r.load(ctx, key)
	r.mu.Lock()
	r.delays[key] = d
	r.mu.Unlock()
	return d
}

func (r *robotsCache) load(ctx context.Context, origin string) time.Duration {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return 0
	}
	req.Header.Set("User-Agent", r.agent)
	resp, err := r.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return 0
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return 0
	}
	if g := data.FindGroup(r.agent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

// pacer spaces consecutive requests to the same host.
type pacer struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func newPacer() *pacer {
	return &pacer{last: make(map[string]time.Time), now: time.Now}
}

// wait blocks until at least delay has passed since the previous request
// to the host, then records this one.
func (p *pacer) wait(ctx context.Context, host string, delay time.Duration) error {
	p.mu.Lock()
	now := p.now()
	next := now
	if prev, ok := p.last[host]; ok && delay > 0 {
		if t := prev.Add(delay); t.After(now) {
			next = t
		}
	}
	p.last[host] = next
	p.mu.Unlock()
	return connectivity.Sleep(ctx, next.Sub(now))
}
