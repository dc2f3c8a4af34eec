package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	reToday    = regexp.MustCompile(`(?i)\btoday\b`)
	reTomorrow = regexp.MustCompile(`(?i)\btomorrow\b`)

	reDMY       = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4}|\d{2})\b`)
	reYMD       = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	reDayMonth  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?(?:\s+of)?[\s\-,.]*` + monthPattern + `\.?[\s\-,.]+(\d{4})\b`)
	reMonthDay  = regexp.MustCompile(`(?i)\b` + monthPattern + `\.?[\s\-]+(\d{1,2})(?:st|nd|rd|th)?,?[\s\-]+(\d{4})\b`)
	reMonthYear = regexp.MustCompile(`(?i)\b` + monthPattern + `\.?[\s,\-]+(\d{4})\b`)
	reMonthWord = regexp.MustCompile(`(?i)\b` + monthPattern + `\b`)
)

var monthIndex = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

func monthNumber(name string) int {
	name = strings.ToLower(name)
	if len(name) < 3 {
		return 0
	}
	return monthIndex[name[:3]]
}

// ResolveText runs the literal check, then the explicit patterns, then the
// fuzzy fallback. Provenance is literal for today/tomorrow, text otherwise.
func (r *Resolver) ResolveText(s string) (ResolvedDate, bool) {
	if strings.TrimSpace(s) == "" {
		return ResolvedDate{}, false
	}
	if reToday.MatchString(s) {
		return ResolvedDate{Date: r.Today(), Provenance: ProvLiteral}, true
	}
	if reTomorrow.MatchString(s) {
		return ResolvedDate{Date: r.Today().AddDate(0, 0, 1), Provenance: ProvLiteral}, true
	}
	if t, ok := r.parseText(s); ok {
		return ResolvedDate{Date: t, Provenance: ProvText}, true
	}
	return ResolvedDate{}, false
}

// parseText is the cascade without the literal step.
func (r *Resolver) parseText(s string) (time.Time, bool) {
	if t, ok := r.explicit(s); ok {
		return t, true
	}
	return r.fuzzy(s)
}

func (r *Resolver) explicit(s string) (time.Time, bool) {
	for _, m := range reDMY.FindAllStringSubmatch(s, -1) {
		d, mo, y := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if len(m[3]) == 2 {
			y += 2000
		}
		if t, ok := r.valid(y, mo, d); ok {
			return t, true
		}
	}
	for _, m := range reYMD.FindAllStringSubmatch(s, -1) {
		if t, ok := r.valid(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return t, true
		}
	}
	for _, m := range reDayMonth.FindAllStringSubmatch(s, -1) {
		if t, ok := r.valid(atoi(m[3]), monthNumber(m[2]), atoi(m[1])); ok {
			return t, true
		}
	}
	for _, m := range reMonthDay.FindAllStringSubmatch(s, -1) {
		if t, ok := r.valid(atoi(m[3]), monthNumber(m[1]), atoi(m[2])); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// fuzzy tries dateparse on short token windows around month names, then
// falls back to "Month YYYY" as the first of that month.
func (r *Resolver) fuzzy(s string) (time.Time, bool) {
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if !reMonthWord.MatchString(tok) {
			continue
		}
		for _, w := range windows(tokens, i) {
			if t, ok := r.dateparse(w); ok {
				return t, true
			}
		}
	}
	for _, m := range reMonthYear.FindAllStringSubmatch(s, -1) {
		if t, ok := r.valid(atoi(m[2]), monthNumber(m[1]), 1); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// windows returns candidate phrases around tokens[i], widest first.
func windows(tokens []string, i int) []string {
	spans := [][2]int{{i - 1, i + 2}, {i, i + 2}, {i - 2, i}, {i - 1, i + 1}}
	var out []string
	for _, sp := range spans {
		lo, hi := sp[0], sp[1]
		if lo < 0 || hi >= len(tokens) {
			continue
		}
		out = append(out, strings.Trim(strings.Join(tokens[lo:hi+1], " "), ".,;:()[]"))
	}
	return out
}

func (r *Resolver) dateparse(s string) (t time.Time, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			t, ok = time.Time{}, false
		}
	}()
	p, err := dateparse.ParseIn(s, r.loc)
	if err != nil {
		return time.Time{}, false
	}
	// A phrase without a year resolves to year 0 or the current year; only
	// accept phrases that carry a 4-digit year.
	if !strings.Contains(s, strconv.Itoa(p.Year())) {
		return time.Time{}, false
	}
	return r.valid(p.Year(), int(p.Month()), p.Day())
}

// FindDateText returns the date-shaped substring of s that ResolveText would
// act on, for extractors that need to decide whether some text carries a
// date. A today/tomorrow literal wins over any other pattern.
func FindDateText(s string) (string, bool) {
	for _, re := range []*regexp.Regexp{reToday, reTomorrow, reDMY, reYMD, reDayMonth, reMonthDay, reMonthYear} {
		if m := re.FindString(s); m != "" {
			return m, true
		}
	}
	return "", false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
