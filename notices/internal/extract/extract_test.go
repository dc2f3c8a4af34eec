package extract

import (
	"errors"
	"testing"
)

func TestNormalizeLink_Equivalence(t *testing.T) {
	// WHAT: Cosmetic URL differences normalize to the same string.
	// WHY: The ledger dedups on normalized links.
	a, err := NormalizeLink("http://example.com/", "http://Example.com/a/../b/?x=1&y=2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NormalizeLink("http://example.com/", "http://example.com/b?y=2&x=1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("got %q != %q", a, b)
	}
	if a != "http://example.com/b?x=1&y=2" {
		t.Errorf("normalized: got %q", a)
	}
}

func TestNormalizeLink(t *testing.T) {
	tests := []struct {
		base, href, want string
	}{
		{"https://x.org/news/list.html", "detail.php?id=3#top", "https://x.org/news/detail.php?id=3"},
		{"https://x.org/news/", "/files/a.pdf", "https://x.org/files/a.pdf"},
		{"https://x.org:443/", "HTTPS://X.ORG:443/Path/", "https://x.org/Path"},
		{"http://x.org/", "http://x.org:8080/a", "http://x.org:8080/a"},
		{"https://x.org/a/b/", "../c", "https://x.org/a/c"},
		{"https://x.org/", "https://x.org/", "https://x.org"},
		{"https://x.org/", "/v?b=2&a=1", "https://x.org/v?a=1&b=2"},
		{"https://x.org/", "/d?id=1;x=2", "https://x.org/d?id=1;x=2"},
	}
	for _, tt := range tests {
		got, err := NormalizeLink(tt.base, tt.href)
		if err != nil {
			t.Errorf("NormalizeLink(%q, %q): %v", tt.base, tt.href, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeLink(%q, %q): got %q, want %q", tt.base, tt.href, got, tt.want)
		}
	}
}

func TestNormalizeLink_SemicolonQueriesStayDistinct(t *testing.T) {
	// WHAT: Links differing only after a ";" separator normalize differently.
	// WHY: Collapsing them would mark a new notice as already sent.
	a, err := NormalizeLink("https://x.org/", "/show.asp?id=10;lang=en")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NormalizeLink("https://x.org/", "/show.asp?id=11;lang=en")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("both normalized to %q", a)
	}
}

func TestNormalizeLink_Invalid(t *testing.T) {
	for _, href := range []string{"", "mailto:a@b.c", "ftp://x.org/f", "http://"} {
		if _, err := NormalizeLink("https://x.org/", href); !errors.Is(err, ErrInvalidLink) {
			t.Errorf("NormalizeLink(%q): got %v, want ErrInvalidLink", href, err)
		}
	}
}

func TestKeywordSet(t *testing.T) {
	ks := NewKeywordSet(nil)
	tests := []struct {
		text, link string
		want       bool
	}{
		{"SSC CGL Admit Card 2026", "https://x.org/a", true},
		{"Click here", "https://x.org/latest/admit-card-2026", true},
		{"Download", "https://x.org/merit_list.pdf", true},
		{"RESULTS declared", "", true},
		{"Example page", "https://x.org/example", false},
		{"About us", "https://x.org/about", false},
	}
	for _, tt := range tests {
		if got := ks.Relevant(tt.text, tt.link); got != tt.want {
			t.Errorf("Relevant(%q, %q): got %v, want %v", tt.text, tt.link, got, tt.want)
		}
	}
}

func TestExtract_Containers(t *testing.T) {
	page := `<html><body>
<article>
  <h2><a href="/n/1">Admit Card Released</a></h2>
  <time datetime="2026-03-05">5 March</time>
  <div class="post"><a href="/nested">Nested link</a></div>
</article>
<article>
  <a href="/n/2">Holiday greetings</a>
  <span class="post-date">Posted: 04-03-2026</span>
</article>
<article><a href="/n/3">Office shifted</a></article>
<article><a href="/n/1#again">Admit Card Released (dup)</a></article>
</body></html>`

	e := New(Config{}, nil, nil)
	got, err := e.Extract(Input{URL: "https://x.org/", Body: []byte(page), ContentType: "text/html"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates: got %d (%+v), want 2", len(got), got)
	}
	if got[0].Link != "https://x.org/n/1" || got[0].RawDateText != "2026-03-05" || got[0].DateHint != HintMachine {
		t.Errorf("first: got %+v", got[0])
	}
	if got[1].Title != "Holiday greetings" || got[1].RawDateText != "Posted: 04-03-2026" || got[1].DateHint != HintLabeled {
		t.Errorf("second: got %+v", got[1])
	}
}

func TestExtract_SingleContainerUsesPageMeta(t *testing.T) {
	page := `<html><head><meta property="article:published_time" content="2026-03-02T08:00:00Z"></head>
<body><article><a href="/only">Vacancy notice</a></article></body></html>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte(page)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DateHint != HintMeta || got[0].RawDateText != "2026-03-02T08:00:00Z" {
		t.Fatalf("got %+v", got)
	}
}

func TestExtract_ScanPrefersLiteralToday(t *testing.T) {
	// WHAT: A container saying "today" next to an older reference date is scanned as "today".
	// WHY: The literal must override other date-shaped text, as when resolving the full text.
	page := `<html><body><div class="notice"><a href="/c">Corrigendum to advertisement</a>
Posted today. Corrigendum to advt dated 05-01-2026</div></body></html>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte(page)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RawDateText != "today" || got[0].DateHint != HintScan {
		t.Fatalf("got %+v, want raw date %q from scan", got, "today")
	}
}

func TestExtract_FallbackTableRows(t *testing.T) {
	// WHAT: Without containers, dates come from the link's row.
	// WHY: Most notice boards are bare tables of links.
	page := `<html><body><table>
<tr><td>05-03-2026</td><td><a href="/r/1">Exam Result Declared</a></td></tr>
<tr><td>01-03-2026</td><td><a href="/r/2">Answer Key Published</a></td></tr>
<tr><td>02-03-2026</td><td><a href="/about">About</a></td></tr>
<tr><td></td><td><a href="javascript:void(0)">Recruitment popup</a></td></tr>
<tr><td></td><td><a href="mailto:x@y.z">Notice by mail</a></td></tr>
</table></body></html>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/board", Body: []byte(page)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates: got %d (%+v), want 2", len(got), got)
	}
	if got[0].Link != "https://x.org/r/1" || got[0].RawDateText != "05-03-2026" {
		t.Errorf("first: got %+v", got[0])
	}
	if got[1].Link != "https://x.org/r/2" || got[1].RawDateText != "01-03-2026" {
		t.Errorf("second: got %+v", got[1])
	}
}

func TestExtract_FallbackPrecedingText(t *testing.T) {
	page := `<html><body>
<a href="/home">Home</a>
<div><b>05-03-2026</b></div>
<div><p><span><a href="/result-1">Exam result declared</a></span></p></div>
<a href="/contact">Contact</a>
</body></html>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte(page)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates: got %d (%+v), want 1", len(got), got)
	}
	if got[0].RawDateText != "05-03-2026" || got[0].DateHint != HintScan {
		t.Errorf("got %+v", got[0])
	}
}

func TestExtract_FallbackRequiresKeyword(t *testing.T) {
	page := `<ul><li>05-03-2026 <a href="/x">Weather update</a></li></ul>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte(page)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %+v, want none", got)
	}
}

func TestExtract_Feed(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Board</title>
<item><title>Result 2026</title><link>https://x.org/r/1</link><pubDate>Thu, 05 Mar 2026 10:00:00 +0000</pubDate></item>
<item><title>Result 2026 again</title><link>https://x.org/r/1#dup</link></item>
<item><title>Untitled thing</title><link>https://x.org/misc</link></item>
</channel></rss>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/feed", Body: []byte(feed), ContentType: "application/rss+xml"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates: got %d (%+v), want 1", len(got), got)
	}
	if got[0].DateHint != HintFeed || got[0].RawDateText != "2026-03-05T10:00:00Z" {
		t.Errorf("got %+v", got[0])
	}
}

func TestExtract_FeedSniffed(t *testing.T) {
	feed := `<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title>
<entry><title>Notice A</title><link href="https://x.org/a"/><updated>2026-03-04T00:00:00Z</updated></entry></feed>`
	got, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte(feed)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Link != "https://x.org/a" {
		t.Fatalf("got %+v", got)
	}
}

func TestExtract_Empty(t *testing.T) {
	_, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte("  ")})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("got %v, want ErrParse", err)
	}
}

func TestExtract_BadFeed(t *testing.T) {
	_, err := New(Config{}, nil, nil).Extract(Input{URL: "https://x.org/", Body: []byte("<rss><channel><item>"), Kind: "feed"})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("got %v, want ErrParse", err)
	}
}
