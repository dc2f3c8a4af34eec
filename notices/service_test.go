package notices

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/avis/channels"
	"github.com/hazyhaar/avis/notices/internal/fetch"
	"github.com/hazyhaar/avis/notices/internal/runlock"
)

var testNow = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

type recordSender struct {
	mu   sync.Mutex
	msgs []channels.Message
}

func (s *recordSender) Platform() string { return "test" }

func (s *recordSender) Send(_ context.Context, msg channels.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *recordSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

const boardHTML = `<html><body>
<div class="notice"><a href="/n/1">Recruitment of junior clerks</a> <span class="date">09-03-2026</span></div>
<div class="notice"><a href="/n/2">Admit card for constable exam released</a> <span class="date">10-03-2026</span></div>
<div class="notice"><a href="/n/3">Result of assistant engineer examination</a> <span class="date">11-03-2026</span></div>
</body></html>`

type testEnv struct {
	svc    *Service
	sender *recordSender
	board  *httptest.Server
	cfg    *Config
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	clearEnv(t)
	board := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notices":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, boardHTML)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(board.Close)

	cfg := &Config{
		Sources: []Source{{URL: board.URL + "/notices", Name: "Board"}},
		Browser: BrowserConfig{Disabled: true},
		Fetch:   fetch.Config{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond},
		Dates:   DatesConfig{Timezone: "UTC"},
		Ledger:  LedgerConfig{Path: filepath.Join(t.TempDir(), "avis.db")},
	}
	cfg.Dispatch.Recipient = "@board"
	cfg.Dispatch.MinInterval = -1
	if mutate != nil {
		mutate(cfg)
	}
	sender := &recordSender{}
	svc, err := New(cfg, nil, WithSender(sender), WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return &testEnv{svc: svc, sender: sender, board: board, cfg: cfg}
}

func TestService_RunDeliversOnceAndRecords(t *testing.T) {
	// WHAT: A real fetch of a board page delivers today and tomorrow, then nothing on the second run.
	// WHY: End-to-end wiring of fetch, extract, dates, ledger and dispatch.
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sum, err := env.svc.Run(ctx, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Status != "completed" || sum.Delivered != 2 {
		t.Fatalf("summary: got status %q delivered %d, want completed 2", sum.Status, sum.Delivered)
	}
	if env.sender.count() != 2 {
		t.Fatalf("sent: got %d, want 2", env.sender.count())
	}
	first := env.sender.msgs[0]
	if first.Recipient != "@board" || first.RenderMode != channels.RenderHTML {
		t.Errorf("message: got recipient %q mode %q", first.Recipient, first.RenderMode)
	}
	if !strings.Contains(first.Text, env.board.URL+"/n/2") || !strings.Contains(first.Text, "10-03-2026") {
		t.Errorf("message text: %q", first.Text)
	}

	entries, err := env.svc.Recent(ctx, 10)
	if err != nil || len(entries) != 2 {
		t.Fatalf("recent: got %d, %v", len(entries), err)
	}

	sum2, err := env.svc.Run(ctx, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum2.Delivered != 0 || sum2.Duplicates != 2 || env.sender.count() != 2 {
		t.Errorf("second run: got delivered %d duplicates %d sent %d", sum2.Delivered, sum2.Duplicates, env.sender.count())
	}

	latest, err := env.svc.LatestRun(ctx)
	if err != nil || latest == nil {
		t.Fatalf("latest: %v, %v", latest, err)
	}
	if latest.ID != sum2.RunID || latest.Status != "completed" {
		t.Errorf("latest: got %+v", latest)
	}
	logs, err := env.svc.FetchLogs(ctx, sum.RunID)
	if err != nil || len(logs) != 1 {
		t.Fatalf("fetch logs: got %d, %v", len(logs), err)
	}
	if logs[0].Strategy != "direct" || logs[0].Delivered != 2 {
		t.Errorf("fetch log: got %+v", logs[0])
	}
}

func TestService_DryRunLeavesLedgerUntouched(t *testing.T) {
	// WHAT: A dry run prints its messages but records nothing; a later real run still delivers them.
	// WHY: The ledger holds confirmed deliveries only; a preview must not swallow notices.
	env := newTestEnv(t, func(c *Config) { c.DryRun = true })
	ctx := context.Background()

	sum, err := env.svc.Run(ctx, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if sum.Delivered != 2 || !sum.DryRun || env.sender.count() != 2 {
		t.Fatalf("dry run: delivered=%d dry_run=%v sent=%d", sum.Delivered, sum.DryRun, env.sender.count())
	}
	if entries, err := env.svc.Recent(ctx, 10); err != nil || len(entries) != 0 {
		t.Fatalf("ledger after dry run: got %d entries (%v), want 0", len(entries), err)
	}

	live := *env.cfg
	live.DryRun = false
	sender := &recordSender{}
	svc, err := New(&live, nil, WithSender(sender), WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	sum, err = svc.Run(ctx, nil)
	if err != nil {
		t.Fatalf("real run: %v", err)
	}
	if sum.Delivered != 2 || sum.Duplicates != 0 || sender.count() != 2 {
		t.Errorf("real run: delivered=%d duplicates=%d sent=%d", sum.Delivered, sum.Duplicates, sender.count())
	}
}

func TestService_RunOverridesSources(t *testing.T) {
	// WHAT: Explicit sources replace the catalog; an unreachable one is recorded, not fatal.
	// WHY: --source narrows a run without editing the config.
	env := newTestEnv(t, nil)
	sum, err := env.svc.Run(context.Background(), []Source{{URL: env.board.URL + "/missing"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Status != "completed" || len(sum.Sources) != 1 || sum.Sources[0].Status != "fetch_failed" {
		t.Errorf("summary: got %+v", sum)
	}
	if env.sender.count() != 0 {
		t.Errorf("sent: got %d, want 0", env.sender.count())
	}
}

func TestService_RunInProgress(t *testing.T) {
	// WHAT: A held run lock makes Run return ErrRunInProgress.
	// WHY: Two overlapping runs would both deliver the same notices.
	env := newTestEnv(t, nil)
	lock, err := runlock.Acquire(env.cfg.LockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	if _, err := env.svc.Run(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("got %v, want ErrRunInProgress", err)
	}
	if env.sender.count() != 0 {
		t.Errorf("sent: got %d, want 0", env.sender.count())
	}
}

func TestService_NoSources(t *testing.T) {
	// WHAT: A run with no catalog and no overrides is a config error.
	// WHY: Completing with zero sources would hide a broken deployment.
	env := newTestEnv(t, func(c *Config) { c.Sources = nil })
	if _, err := env.svc.Run(context.Background(), nil); !errors.Is(err, ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	// WHAT: Without an injected sender, a telegram config without token fails New.
	// WHY: Missing credentials exit non-zero before any fetch.
	clearEnv(t)
	cfg := &Config{Ledger: LedgerConfig{Path: filepath.Join(t.TempDir(), "avis.db")}}
	if _, err := New(cfg, nil); !errors.Is(err, ErrConfig) {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestService_Prune(t *testing.T) {
	// WHAT: Prune keeps entries younger than the retention.
	// WHY: The ledger must outlive the window or old notices come back.
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.svc.Run(ctx, nil); err != nil {
		t.Fatal(err)
	}
	res, err := env.svc.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if res.Sent != 0 {
		t.Errorf("pruned: got %d, want 0", res.Sent)
	}
	if entries, _ := env.svc.Recent(ctx, 10); len(entries) != 2 {
		t.Errorf("kept: got %d, want 2", len(entries))
	}
}

func TestService_ResolveDate(t *testing.T) {
	// WHAT: The standalone resolver reads dates from text and URL paths.
	// WHY: Exposed to operators for debugging sources.
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rd := env.svc.ResolveDate(ctx, "Notice dated 11/03/2026", "")
	if rd.IsZero() || rd.Date.Day() != 11 || rd.Date.Month() != time.March {
		t.Errorf("text: got %+v", rd)
	}
	rd = env.svc.ResolveDate(ctx, "Untitled", "https://board.gov/2026/03/10/notice.html")
	if rd.IsZero() || rd.Date.Day() != 10 {
		t.Errorf("url: got %+v", rd)
	}
	if rd := env.svc.ResolveDate(ctx, "nothing here", ""); !rd.IsZero() {
		t.Errorf("none: got %+v", rd)
	}
}
