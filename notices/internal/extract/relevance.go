package extract

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Relevance decides whether a link looks like a notification.
type Relevance interface {
	Relevant(text, link string) bool
}

// DefaultKeywords is the keyword list used when none is configured.
var DefaultKeywords = []string{
	"job", "jobs", "result", "results", "notification", "notifications",
	"notice", "notices", "admit card", "hall ticket", "recruitment",
	"vacancy", "vacancies", "circular", "circulars", "exam", "exams", "examination",
	"interview", "merit list", "answer key", "syllabus",
}

// KeywordSet matches whole words or phrases, case-folded, in the link text
// and the link path. Hyphens, underscores and slashes count as spaces.
type KeywordSet struct {
	phrases []string
}

// NewKeywordSet builds a KeywordSet; an empty list means DefaultKeywords.
func NewKeywordSet(words []string) *KeywordSet {
	if len(words) == 0 {
		words = DefaultKeywords
	}
	ks := &KeywordSet{}
	for _, w := range words {
		if p := wordString(w); p != "" {
			ks.phrases = append(ks.phrases, " "+p+" ")
		}
	}
	return ks
}

func (k *KeywordSet) Relevant(text, link string) bool {
	hay := " " + wordString(text) + " "
	if u, err := url.Parse(link); err == nil {
		p, _ := url.PathUnescape(u.Path)
		hay += wordString(p) + " "
	}
	for _, p := range k.phrases {
		if strings.Contains(hay, p) {
			return true
		}
	}
	return false
}

// wordString case-folds s and joins its letter/digit runs with single spaces.
func wordString(s string) string {
	folded := cases.Fold().String(s)
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
