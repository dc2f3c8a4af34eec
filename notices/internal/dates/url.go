package dates

import (
	"net/url"
	"regexp"
	"time"
)

var (
	reURLYMD = regexp.MustCompile(`/(\d{4})/(\d{1,2})/(\d{1,2})(?:/|$)`)
	reURLYM  = regexp.MustCompile(`/(\d{4})/(\d{1,2})(?:/|$)`)
	reISO    = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
)

// ResolveURL reads /YYYY/MM/DD/ or /YYYY/MM/ path segments, or a date= query
// parameter in YYYY-MM-DD form.
func (r *Resolver) ResolveURL(raw string) (ResolvedDate, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return ResolvedDate{}, false
	}
	if m := reURLYMD.FindStringSubmatch(u.Path); m != nil {
		if t, ok := r.valid(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return ResolvedDate{Date: t, Provenance: ProvURL}, true
		}
	}
	if m := reURLYM.FindStringSubmatch(u.Path); m != nil {
		if t, ok := r.valid(atoi(m[1]), atoi(m[2]), 1); ok {
			return ResolvedDate{Date: t, Provenance: ProvURL}, true
		}
	}
	if v := u.Query().Get("date"); v != "" {
		if t, ok := r.parseISO(v); ok {
			return ResolvedDate{Date: t, Provenance: ProvURL}, true
		}
	}
	return ResolvedDate{}, false
}

// parseISO reads machine timestamps: RFC 3339 or a leading YYYY-MM-DD.
func (r *Resolver) parseISO(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.In(r.loc)
		return r.valid(t.Year(), int(t.Month()), t.Day())
	}
	if m := reISO.FindStringSubmatch(s); m != nil {
		return r.valid(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}
	return time.Time{}, false
}

// ResolveMachine parses a machine-readable timestamp attribute (datetime=,
// content=), falling back to the text cascade.
func (r *Resolver) ResolveMachine(s string) (ResolvedDate, bool) {
	if t, ok := r.parseISO(s); ok {
		return ResolvedDate{Date: t, Provenance: ProvText}, true
	}
	return r.ResolveText(s)
}
