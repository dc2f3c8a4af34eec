package dates

import (
	"context"
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

func newTestResolver(opts ...Option) *Resolver {
	base := []Option{WithLocation(time.UTC), WithClock(func() time.Time { return fixedNow })}
	return New(append(base, opts...)...)
}

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestResolveText(t *testing.T) {
	r := newTestResolver()
	tests := []struct {
		in   string
		want time.Time
		prov Provenance
	}{
		{"Posted on 05-03-2026", day(2026, 3, 5), ProvText},
		{"05/03/26 admit card", day(2026, 3, 5), ProvText},
		{"dated 05.03.2026", day(2026, 3, 5), ProvText},
		{"2026-03-05 result", day(2026, 3, 5), ProvText},
		{"5th March 2026", day(2026, 3, 5), ProvText},
		{"21 Feb, 2026", day(2026, 2, 21), ProvText},
		{"March 5, 2026", day(2026, 3, 5), ProvText},
		{"Sept 1st 2025", day(2025, 9, 1), ProvText},
		{"Result declared today", day(2026, 3, 10), ProvLiteral},
		{"Interview TOMORROW", day(2026, 3, 11), ProvLiteral},
		{"today and tomorrow", day(2026, 3, 10), ProvLiteral},
		{"Posted today. Corrigendum to advt dated 05-01-2024", day(2026, 3, 10), ProvLiteral},
		{"Interview on 05-01-2026, reporting tomorrow", day(2026, 3, 11), ProvLiteral},
		{"March 2026 exam schedule", day(2026, 3, 1), ProvText},
		{"10-03-2027", day(2027, 3, 10), ProvText},
	}
	for _, tt := range tests {
		got, ok := r.ResolveText(tt.in)
		if !ok {
			t.Errorf("ResolveText(%q): no date, want %s", tt.in, tt.want.Format("2006-01-02"))
			continue
		}
		if !got.Date.Equal(tt.want) || got.Provenance != tt.prov {
			t.Errorf("ResolveText(%q): got %s/%s, want %s/%s", tt.in,
				got.Date.Format("2006-01-02"), got.Provenance, tt.want.Format("2006-01-02"), tt.prov)
		}
	}
}

func TestResolveText_Rejects(t *testing.T) {
	// WHAT: Implausible dates are discarded rather than mis-parsed.
	// WHY: A wrong date could push a stale notice into the window.
	r := newTestResolver()
	for _, in := range []string{
		"",
		"no date here",
		"31-02-2026",
		"05-03-1999",
		"05-03-2028",
		"11-03-2027",
		"13-13-2026",
		"version 1.2.3",
	} {
		if got, ok := r.ResolveText(in); ok {
			t.Errorf("ResolveText(%q): got %s, want no date", in, got.Date.Format("2006-01-02"))
		}
	}
}

func TestResolveText_DayFirst(t *testing.T) {
	// WHAT: Ambiguous numeric dates are read day-first.
	r := newTestResolver()
	got, ok := r.ResolveText("04/03/2026")
	if !ok || !got.Date.Equal(day(2026, 3, 4)) {
		t.Fatalf("got %v %v, want 2026-03-04", got.Date, ok)
	}
}

func TestResolveText_FirstValidMatchWins(t *testing.T) {
	r := newTestResolver()
	got, ok := r.ResolveText("ref 99-99-2026, published 01-03-2026")
	if !ok || !got.Date.Equal(day(2026, 3, 1)) {
		t.Fatalf("got %v %v, want 2026-03-01", got.Date, ok)
	}
}

func TestResolveURL(t *testing.T) {
	r := newTestResolver()
	tests := []struct {
		in   string
		want time.Time
	}{
		{"https://x.org/2026/03/05/notice-title", day(2026, 3, 5)},
		{"https://x.org/news/2026/03/", day(2026, 3, 1)},
		{"https://x.org/view?id=7&date=2026-03-04", day(2026, 3, 4)},
	}
	for _, tt := range tests {
		got, ok := r.ResolveURL(tt.in)
		if !ok || !got.Date.Equal(tt.want) || got.Provenance != ProvURL {
			t.Errorf("ResolveURL(%q): got %v/%s ok=%v", tt.in, got.Date, got.Provenance, ok)
		}
	}
	if _, ok := r.ResolveURL("https://x.org/files/1234/5678"); ok {
		t.Error("non-date path segments should not resolve")
	}
}

func TestResolveMachine(t *testing.T) {
	r := newTestResolver()
	got, ok := r.ResolveMachine("2026-03-05T23:30:00-02:00")
	if !ok || !got.Date.Equal(day(2026, 3, 6)) {
		t.Fatalf("got %v %v, want 2026-03-06 in UTC", got.Date, ok)
	}
}

func TestResolvePDF_EarliestPageDateWins(t *testing.T) {
	texter := func(data []byte, maxPages int) ([]string, error) {
		if maxPages != 3 {
			t.Errorf("maxPages: got %d, want 3", maxPages)
		}
		return []string{"header only", "issued on 07-03-2026", "amended 02-03-2026"}, nil
	}
	r := newTestResolver(WithPDF(texter, 0))
	got, ok := r.ResolvePDF([]byte("%PDF-1.4"))
	if !ok || !got.Date.Equal(day(2026, 3, 2)) || got.Provenance != ProvPDF {
		t.Fatalf("got %v/%s ok=%v", got.Date, got.Provenance, ok)
	}
}

func TestResolvePDF_Error(t *testing.T) {
	r := newTestResolver(WithPDF(func([]byte, int) ([]string, error) { return nil, errors.New("corrupt") }, 3))
	if _, ok := r.ResolvePDF([]byte("x")); ok {
		t.Fatal("corrupt PDF should yield no date")
	}
}

func TestResolveLinked(t *testing.T) {
	r := newTestResolver()
	meta := []byte(`<html><head><meta property="article:published_time" content="2026-03-08T09:00:00Z"></head><body>x</body></html>`)
	got, ok := r.ResolveLinked(meta, "https://x.org/a")
	if !ok || !got.Date.Equal(day(2026, 3, 8)) || got.Provenance != ProvLinked {
		t.Errorf("meta: got %v/%s ok=%v", got.Date, got.Provenance, ok)
	}

	body := []byte(`<html><body><h1>Recruitment</h1><p>Last updated: 06-03-2026</p></body></html>`)
	got, ok = r.ResolveLinked(body, "https://x.org/b")
	if !ok || !got.Date.Equal(day(2026, 3, 6)) {
		t.Errorf("body text: got %v ok=%v", got.Date, ok)
	}
}

type fakeGetter struct {
	body  string
	ct    string
	calls int
}

func (g *fakeGetter) Get(_ context.Context, _ string) ([]byte, string, error) {
	g.calls++
	return []byte(g.body), g.ct, nil
}

func TestResolve_Priority(t *testing.T) {
	// WHAT: RawDateText beats the title, the title beats the URL.
	r := newTestResolver()
	got := r.Resolve(context.Background(), Input{
		RawDateText: "2026-03-01",
		Title:       "Notice 05-03-2026",
		Link:        "https://x.org/2026/03/07/n",
	})
	if !got.Date.Equal(day(2026, 3, 1)) {
		t.Errorf("raw: got %v", got.Date)
	}
	got = r.Resolve(context.Background(), Input{Title: "Notice 05-03-2026", Link: "https://x.org/2026/03/07/n"})
	if !got.Date.Equal(day(2026, 3, 5)) {
		t.Errorf("title: got %v", got.Date)
	}
	got = r.Resolve(context.Background(), Input{Title: "Notice", Link: "https://x.org/2026/03/07/n"})
	if !got.Date.Equal(day(2026, 3, 7)) || got.Provenance != ProvURL {
		t.Errorf("url: got %v/%s", got.Date, got.Provenance)
	}
}

func TestResolve_LinkedOnlyWhenFollowing(t *testing.T) {
	g := &fakeGetter{body: `<html><body><time datetime="2026-03-09">9 Mar</time></body></html>`, ct: "text/html"}
	r := newTestResolver(WithGetter(g))

	got := r.Resolve(context.Background(), Input{Title: "Vacancy", Link: "https://x.org/job/1"})
	if got.Provenance != ProvNone || g.calls != 0 {
		t.Fatalf("without follow: got %s, calls=%d", got.Provenance, g.calls)
	}
	got = r.Resolve(context.Background(), Input{Title: "Vacancy", Link: "https://x.org/job/1", FollowDetail: true})
	if got.Provenance != ProvLinked || !got.Date.Equal(day(2026, 3, 9)) {
		t.Fatalf("with follow: got %v/%s", got.Date, got.Provenance)
	}
}

func TestResolve_PDFLink(t *testing.T) {
	g := &fakeGetter{body: "%PDF-1.7 ...", ct: "application/pdf"}
	r := newTestResolver(WithGetter(g), WithPDF(func([]byte, int) ([]string, error) {
		return []string{"Date: 03/03/2026"}, nil
	}, 3))
	got := r.Resolve(context.Background(), Input{Title: "Circular", Link: "https://x.org/files/circular.PDF"})
	if got.Provenance != ProvPDF || !got.Date.Equal(day(2026, 3, 3)) {
		t.Fatalf("got %v/%s", got.Date, got.Provenance)
	}
}

func TestResolve_NoDate(t *testing.T) {
	r := newTestResolver()
	got := r.Resolve(context.Background(), Input{Title: "Important links"})
	if got.Provenance != ProvNone || !got.IsZero() {
		t.Fatalf("got %+v", got)
	}
}

func TestFindDateText(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Posted: 05-03-2026 by admin", "05-03-2026", true},
		{"on 5 March 2026", "5 March 2026", true},
		{"Updated today", "today", true},
		{"Posted today. Corrigendum to advt dated 05-01-2026", "today", true},
		{"05-01-2026: reporting Tomorrow", "Tomorrow", true},
		{"Apply online", "", false},
	}
	for _, tt := range tests {
		got, ok := FindDateText(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FindDateText(%q): got %q %v, want %q %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
