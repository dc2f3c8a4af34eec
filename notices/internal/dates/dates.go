// CLAUDE:SUMMARY Resolves a publish date for a candidate from free text, its URL, a PDF, or a linked detail page.
// CLAUDE:EXPORTS Resolver, New, ResolvedDate, Provenance, Input, Getter, FindDateText
package dates

import (
	"context"
	"log/slog"
	"time"
)

// Provenance records which heuristic produced a date.
type Provenance string

const (
	ProvText    Provenance = "text"
	ProvURL     Provenance = "url"
	ProvLinked  Provenance = "linked-page"
	ProvPDF     Provenance = "pdf"
	ProvLiteral Provenance = "literal"
	ProvNone    Provenance = "none"
)

// ResolvedDate is a calendar date at local midnight plus where it came from.
type ResolvedDate struct {
	Date       time.Time  `json:"date"`
	Provenance Provenance `json:"provenance"`
}

// IsZero reports whether no date was resolved.
func (d ResolvedDate) IsZero() bool { return d.Date.IsZero() }

// Getter fetches a linked document (detail page or PDF).
type Getter interface {
	Get(ctx context.Context, url string) (body []byte, contentType string, err error)
}

// PageTexter extracts the text of the first maxPages pages of a PDF.
type PageTexter func(data []byte, maxPages int) ([]string, error)

// Resolver turns candidate signals into a ResolvedDate. Safe for concurrent use.
type Resolver struct {
	loc      *time.Location
	now      func() time.Time
	getter   Getter
	pdfText  PageTexter
	pdfPages int
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocation sets the local timezone for "today" and parsed dates.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(r *Resolver) { r.now = now } }

// WithGetter enables the PDF and linked-page heuristics.
func WithGetter(g Getter) Option { return func(r *Resolver) { r.getter = g } }

// WithPDF sets the PDF text extractor and the page limit (default 3).
func WithPDF(fn PageTexter, maxPages int) Option {
	return func(r *Resolver) {
		r.pdfText = fn
		if maxPages > 0 {
			r.pdfPages = maxPages
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a Resolver. Without WithGetter only text and URL heuristics run.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		loc:      time.Local,
		now:      time.Now,
		pdfPages: 3,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Today returns local midnight of the current day.
func (r *Resolver) Today() time.Time {
	return midnight(r.now().In(r.loc), r.loc)
}

// Location returns the resolver's timezone.
func (r *Resolver) Location() *time.Location { return r.loc }

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// valid applies the plausibility rules: year in [2000, currentYear+1], a real
// calendar day, and not more than one year ahead of today.
func (r *Resolver) valid(y, m, d int) (time.Time, bool) {
	today := r.Today()
	if y < 2000 || y > today.Year()+1 {
		return time.Time{}, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, r.loc)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	if t.After(today.AddDate(1, 0, 0)) {
		return time.Time{}, false
	}
	return t, true
}
