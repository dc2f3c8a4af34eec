package dates

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
)

var metaDateSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[name="date"]`,
	`meta[name="pubdate"]`,
	`meta[name="DC.date.issued"]`,
	`meta[itemprop="datePublished"]`,
}

// ResolvePDF extracts the text of the first pages and keeps the earliest
// date any page yields.
func (r *Resolver) ResolvePDF(data []byte) (ResolvedDate, bool) {
	if r.pdfText == nil {
		return ResolvedDate{}, false
	}
	pages, err := r.pdfText(data, r.pdfPages)
	if err != nil {
		r.logger.Debug("dates: pdf text", "error", err)
		return ResolvedDate{}, false
	}
	var best time.Time
	for _, p := range pages {
		t, ok := r.parseText(p)
		if !ok {
			continue
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	if best.IsZero() {
		return ResolvedDate{}, false
	}
	return ResolvedDate{Date: best, Provenance: ProvPDF}, true
}

// ResolveLinked reads a detail page: metadata and time[datetime] first, then
// the page rendered to text.
func (r *Resolver) ResolveLinked(html []byte, pageURL string) (ResolvedDate, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ResolvedDate{}, false
	}
	for _, sel := range metaDateSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if t, ok := r.parseISO(strings.TrimSpace(v)); ok {
				return ResolvedDate{Date: t, Provenance: ProvLinked}, true
			}
		}
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, ok := r.parseISO(strings.TrimSpace(v)); ok {
			return ResolvedDate{Date: t, Provenance: ProvLinked}, true
		}
	}
	doc.Find("script, style, noscript, nav, footer").Remove()
	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body = string(html)
	}
	text, err := pageText(body, pageURL)
	if err != nil {
		text = doc.Text()
	}
	if t, ok := r.parseText(text); ok {
		return ResolvedDate{Date: t, Provenance: ProvLinked}, true
	}
	return ResolvedDate{}, false
}

func pageText(html, pageURL string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	domain := ""
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		domain = u.Scheme + "://" + u.Host
	}
	md, err := conv.ConvertString(html, converter.WithDomain(domain))
	if err != nil {
		return "", fmt.Errorf("dates: convert page: %w", err)
	}
	return md, nil
}

// IsDocumentLink reports whether link points at a PDF.
func IsDocumentLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func isPDF(contentType string, body []byte) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf") ||
		bytes.HasPrefix(body, []byte("%PDF-"))
}

func (r *Resolver) fetchDocument(ctx context.Context, link string) ([]byte, string, bool) {
	if r.getter == nil {
		return nil, "", false
	}
	body, ct, err := r.getter.Get(ctx, link)
	if err != nil {
		r.logger.Debug("dates: linked fetch failed", "url", link, "error", err)
		return nil, "", false
	}
	return body, ct, true
}
