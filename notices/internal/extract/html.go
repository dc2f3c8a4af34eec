package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/avis/notices/internal/dates"
)

const precedingTextNodes = 8

var (
	machineDateSelectors = []struct{ sel, attr string }{
		{"time[datetime]", "datetime"},
		{"[itemprop=datePublished][content]", "content"},
		{"[itemprop=datePublished][datetime]", "datetime"},
		{"[datetime]", "datetime"},
	}
	metaDateSelectors = []string{
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
		`meta[name="pubdate"]`,
		`meta[itemprop="datePublished"]`,
	}
)

func (e *Extractor) extractHTML(in Input) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", ErrParse, err)
	}
	doc.Find("script, style, noscript, template").Remove()

	group := strings.Join(e.cfg.Containers, ", ")
	containers := doc.Find(group).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(group).Length() == 0
	})
	if containers.Length() > 0 {
		return e.fromContainers(doc, containers, in.URL), nil
	}
	return e.fromLinks(doc, in.URL), nil
}

func (e *Extractor) fromContainers(doc *goquery.Document, containers *goquery.Selection, base string) []Candidate {
	// Page metadata only describes the page when it holds a single article.
	var metaDate string
	if containers.Length() == 1 {
		metaDate = pageMetaDate(doc)
	}

	seen := make(map[string]bool)
	var out []Candidate
	containers.Each(func(_ int, s *goquery.Selection) {
		anchor, link := firstUsableLink(s, base)
		if anchor == nil || seen[link] {
			return
		}
		title := cleanText(anchor.Text())
		if title == "" {
			title = cleanText(s.Find("h1, h2, h3, h4, h5, h6").First().Text())
		}
		if title == "" {
			title = cleanText(anchor.AttrOr("title", ""))
		}
		if title == "" {
			return
		}

		raw, hint := e.dateSignal(s)
		if raw == "" && metaDate != "" {
			raw, hint = metaDate, HintMeta
		}
		if raw == "" {
			raw, hint = scanText(s)
		}
		if raw == "" && !e.relevance.Relevant(title, link) {
			return
		}
		seen[link] = true
		out = append(out, Candidate{
			Title:         title,
			Link:          link,
			RawDateText:   raw,
			DateHint:      hint,
			ContainerText: truncateRunes(cleanText(s.Text()), e.cfg.MaxContainerText),
		})
	})
	return out
}

func (e *Extractor) fromLinks(doc *goquery.Document, base string) []Candidate {
	order, pos := documentOrder(doc)

	seen := make(map[string]bool)
	var out []Candidate
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if skippableHref(href) {
			return
		}
		link, err := NormalizeLink(base, href)
		if err != nil || seen[link] {
			return
		}
		title := cleanText(a.Text())
		if title == "" {
			title = cleanText(a.AttrOr("title", ""))
		}
		if title == "" || !e.relevance.Relevant(title, link) {
			return
		}

		raw, hint := "", HintNone
		for _, scope := range []*goquery.Selection{a.Parent(), a.Parent().Parent()} {
			// A wrapper around several links carries their dates too.
			if scope.Length() == 0 || scope.Find("a[href]").Length() > 1 {
				break
			}
			if raw, hint = e.dateSignal(scope); raw != "" {
				break
			}
			if raw, hint = scanText(scope); raw != "" {
				break
			}
		}
		if raw == "" && len(a.Nodes) > 0 {
			if p, ok := pos[a.Nodes[0]]; ok {
				raw, hint = precedingDate(order, p)
			}
		}
		seen[link] = true
		out = append(out, Candidate{
			Title:         title,
			Link:          link,
			RawDateText:   raw,
			DateHint:      hint,
			ContainerText: truncateRunes(cleanText(a.Parent().Text()), e.cfg.MaxContainerText),
		})
	})
	return out
}

// dateSignal looks for a machine timestamp, then a date-labeled element.
func (e *Extractor) dateSignal(s *goquery.Selection) (string, DateHint) {
	for _, m := range machineDateSelectors {
		if v, ok := s.Find(m.sel).First().Attr(m.attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), HintMachine
		}
	}
	for _, sel := range e.cfg.DateLabels {
		var found string
		s.Find(sel).EachWithBreak(func(_ int, l *goquery.Selection) bool {
			t := cleanText(l.Text())
			if _, ok := dates.FindDateText(t); ok {
				found = t
				return false
			}
			return true
		})
		if found != "" {
			return found, HintLabeled
		}
	}
	return "", HintNone
}

func scanText(s *goquery.Selection) (string, DateHint) {
	if m, ok := dates.FindDateText(cleanText(s.Text())); ok {
		return m, HintScan
	}
	return "", HintNone
}

func pageMetaDate(doc *goquery.Document) string {
	for _, sel := range metaDateSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstUsableLink(s *goquery.Selection, base string) (*goquery.Selection, string) {
	var anchor *goquery.Selection
	var link string
	s.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if skippableHref(href) {
			return true
		}
		l, err := NormalizeLink(base, href)
		if err != nil {
			return true
		}
		anchor, link = a, l
		return false
	})
	return anchor, link
}

// documentOrder flattens the tree in document order.
func documentOrder(doc *goquery.Document) ([]*html.Node, map[*html.Node]int) {
	var order []*html.Node
	pos := make(map[*html.Node]int)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		pos[n] = len(order)
		order = append(order, n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return order, pos
}

// precedingDate scans up to precedingTextNodes non-empty text nodes before
// order[p], stopping at the previous link.
func precedingDate(order []*html.Node, p int) (string, DateHint) {
	seen := 0
	for i := p - 1; i >= 0 && seen < precedingTextNodes; i-- {
		n := order[i]
		if n.Type != html.TextNode {
			continue
		}
		if insideAnchor(n) {
			break
		}
		t := cleanText(n.Data)
		if t == "" {
			continue
		}
		seen++
		if m, ok := dates.FindDateText(t); ok {
			return m, HintScan
		}
	}
	return "", HintNone
}

func insideAnchor(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "a" {
			return true
		}
	}
	return false
}
