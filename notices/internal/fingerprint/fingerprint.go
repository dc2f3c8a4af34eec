// CLAUDE:SUMMARY Content fingerprints: normalized text, exact sha256, registrable-host bucket and a similarity vector from a pluggable Embedder.
// CLAUDE:EXPORTS Fingerprint, Fingerprinter, New, Config, Normalize, Text, Bucket, Embedder
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the inclusive cosine similarity above which two
// fingerprints in the same bucket are near-duplicates.
const DefaultThreshold = 0.88

// Fingerprint identifies a candidate's content.
type Fingerprint struct {
	Exact  string    `json:"exact"`
	Bucket string    `json:"bucket"`
	Vector []float32 `json:"-"`
	Text   string    `json:"text"`
}

// Config configures the embedder and threshold.
type Config struct {
	Threshold float64 `yaml:"threshold"`
	// Embedder is "local" (default) or "http".
	Embedder string     `yaml:"embedder"`
	HTTP     HTTPConfig `yaml:"http"`
}

func (c *Config) defaults() {
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultThreshold
	}
	if c.Embedder == "" {
		c.Embedder = "local"
	}
}

// Fingerprinter computes fingerprints. Safe for concurrent use.
type Fingerprinter struct {
	threshold float64
	emb       Embedder
	fallback  Embedder
	logger    *slog.Logger
}

// New builds a Fingerprinter from cfg.
func New(cfg Config, logger *slog.Logger) *Fingerprinter {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	local := NewLocal(LocalDim)
	fp := &Fingerprinter{threshold: cfg.Threshold, emb: local, fallback: local, logger: logger}
	if cfg.Embedder == "http" && cfg.HTTP.Endpoint != "" {
		fp.emb = NewHTTP(cfg.HTTP, logger)
	}
	return fp
}

// WithEmbedder returns a copy using emb.
func (f *Fingerprinter) WithEmbedder(emb Embedder) *Fingerprinter {
	c := *f
	c.emb = emb
	return &c
}

// Threshold returns the near-duplicate threshold.
func (f *Fingerprinter) Threshold() float64 { return f.threshold }

// Compute fingerprints a candidate. A failing remote embedder falls back to
// the local one so the run never stalls on it.
func (f *Fingerprinter) Compute(ctx context.Context, title, link string) Fingerprint {
	text := Text(title, link)
	sum := sha256.Sum256([]byte(text))
	fp := Fingerprint{Exact: hex.EncodeToString(sum[:]), Bucket: Bucket(link), Text: text}
	vec, err := f.emb.Embed(ctx, text)
	if err != nil {
		f.logger.Warn("fingerprint: embedder failed, using local", "model", f.emb.Model(), "error", err)
		vec, _ = f.fallback.Embed(ctx, text)
	}
	fp.Vector = vec
	return fp
}

// Similar reports whether a and b are near-duplicates.
func (f *Fingerprinter) Similar(a, b []float32) bool {
	return Cosine(a, b) >= f.threshold
}

var months = map[string]bool{}

func init() {
	for _, m := range []string{
		"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
	} {
		months[m] = true
	}
}

// Normalize folds s for comparison: NFKC, case fold, digits and
// punctuation removed, month names dropped, whitespace collapsed.
func Normalize(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
		case unicode.IsLetter(r) || unicode.IsMark(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	out := words[:0]
	for _, w := range words {
		if !months[w] {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// minTitleWords is the normalized title length below which the link joins
// the fingerprint text.
const minTitleWords = 3

// Text is the fingerprint input: the normalized title, plus the link when
// the title is too short to identify the item.
func Text(title, link string) string {
	t := Normalize(title)
	if len(strings.Fields(t)) < minTitleWords && link != "" {
		if t == "" {
			return strings.ToLower(link)
		}
		return t + " " + strings.ToLower(link)
	}
	return t
}

// Bucket is the registrable domain of link, without "www.". It bounds the
// near-duplicate scan.
func Bucket(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}
