// CLAUDE:SUMMARY Turns a fetched page or feed into ordered notice candidates (title, normalized link, raw date text).
// CLAUDE:DEPENDS notices/internal/dates (FindDateText)
// CLAUDE:EXPORTS Extractor, New, Config, Candidate, Input, DateHint, NormalizeLink, KeywordSet
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrParse is returned when a document cannot be parsed at all.
var ErrParse = errors.New("extract: parse failure")

// DateHint says where a candidate's RawDateText came from.
type DateHint string

const (
	HintMachine DateHint = "machine"
	HintLabeled DateHint = "labeled"
	HintMeta    DateHint = "meta"
	HintScan    DateHint = "scan"
	HintFeed    DateHint = "feed"
	HintNone    DateHint = "none"
)

// Candidate is one possible notice found on a page, in document order.
type Candidate struct {
	Title         string   `json:"title"`
	Link          string   `json:"link"`
	RawDateText   string   `json:"raw_date_text,omitempty"`
	DateHint      DateHint `json:"date_hint"`
	ContainerText string   `json:"container_text,omitempty"`
}

// Input is the document handed to Extract.
type Input struct {
	// URL is the final URL after redirects; links resolve against it.
	URL         string
	Body        []byte
	ContentType string
	// Kind forces "html" or "feed"; empty sniffs the content.
	Kind string
}

// Config tunes extraction.
type Config struct {
	// Containers are CSS selectors for article-like blocks.
	Containers []string `yaml:"containers"`
	// DateLabels are CSS selectors for elements holding a visible date.
	DateLabels []string `yaml:"date_labels"`
	// MaxContainerText caps Candidate.ContainerText in runes.
	MaxContainerText int `yaml:"max_container_text"`
}

func (c *Config) defaults() {
	if len(c.Containers) == 0 {
		c.Containers = []string{
			"article", ".post", ".news-item", ".notice", ".notification", ".entry",
			"li.news", "div[class*=post]", "div[class*=notice]", "div[class*=news]",
		}
	}
	if len(c.DateLabels) == 0 {
		c.DateLabels = []string{
			".date", ".post-date", ".entry-date", ".published", "[class*=date]", "[class*=time]",
		}
	}
	if c.MaxContainerText <= 0 {
		c.MaxContainerText = 500
	}
}

// Extractor finds candidates in HTML pages and feeds. Safe for concurrent use.
type Extractor struct {
	cfg       Config
	relevance Relevance
	logger    *slog.Logger
}

// New returns an Extractor. A nil relevance uses the default KeywordSet.
func New(cfg Config, relevance Relevance, logger *slog.Logger) *Extractor {
	cfg.defaults()
	if relevance == nil {
		relevance = NewKeywordSet(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, relevance: relevance, logger: logger}
}

// Extract returns the candidates of in, in document order, deduplicated by
// normalized link.
func (e *Extractor) Extract(in Input) ([]Candidate, error) {
	if len(bytes.TrimSpace(in.Body)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}
	kind := in.Kind
	if kind == "" {
		kind = sniff(in.ContentType, in.Body)
	}
	if kind == "feed" {
		return e.extractFeed(in)
	}
	return e.extractHTML(in)
}

func sniff(contentType string, body []byte) string {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "html") && (strings.Contains(ct, "rss") || strings.Contains(ct, "atom") || strings.Contains(ct, "xml")) {
		return "feed"
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	if bytes.Contains(lower, []byte("<rss")) || bytes.Contains(lower, []byte("<feed")) || bytes.Contains(lower, []byte("<rdf:rdf")) {
		return "feed"
	}
	return "html"
}

// cleanText collapses whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
