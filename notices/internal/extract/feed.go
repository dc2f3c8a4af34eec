package extract

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

func (e *Extractor) extractFeed(in Input) ([]Candidate, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(in.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: feed: %v", ErrParse, err)
	}
	seen := make(map[string]bool)
	var out []Candidate
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link, err := NormalizeLink(in.URL, item.Link)
		if err != nil || seen[link] {
			continue
		}
		title := cleanText(item.Title)
		if title == "" {
			continue
		}
		c := Candidate{Title: title, Link: link, DateHint: HintNone}
		switch {
		case item.PublishedParsed != nil:
			c.RawDateText, c.DateHint = item.PublishedParsed.Format(time.RFC3339), HintFeed
		case item.UpdatedParsed != nil:
			c.RawDateText, c.DateHint = item.UpdatedParsed.Format(time.RFC3339), HintFeed
		case item.Published != "":
			c.RawDateText, c.DateHint = item.Published, HintFeed
		}
		if c.RawDateText == "" && !e.relevance.Relevant(title, link) {
			continue
		}
		c.ContainerText = truncateRunes(cleanText(item.Description), e.cfg.MaxContainerText)
		seen[link] = true
		out = append(out, c)
	}
	return out, nil
}
