// CLAUDE:SUMMARY Link normalization: resolve against the page, lowercase scheme/host, drop default port and fragment, clean path, sort query.
package extract

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"sort"
	"strings"
)

// ErrInvalidLink is returned for hrefs that cannot become an absolute http(s) URL.
var ErrInvalidLink = errors.New("extract: invalid link")

// NormalizeLink resolves href against base and canonicalizes the result so
// that the same target always compares equal.
func NormalizeLink(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: empty href", ErrInvalidLink)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: base: %v", ErrInvalidLink, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	u := b.ResolveReference(ref)

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidLink, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidLink)
	}
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.Path != "" {
		cleaned := path.Clean(u.Path)
		if cleaned == "/" || cleaned == "." {
			cleaned = ""
		}
		u.Path = cleaned
		u.RawPath = ""
	}

	// Queries ParseQuery cannot read fully (";" separators, bad escapes) are
	// kept verbatim so distinct links never collapse.
	if u.RawQuery != "" {
		if params, err := url.ParseQuery(u.RawQuery); err == nil {
			u.RawQuery = sortedQuery(params)
		}
	}
	u.ForceQuery = false
	return u.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func sortedQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(k))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(v))
		}
	}
	return buf.String()
}

// skippableHref reports hrefs that never lead to a notice.
func skippableHref(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	if h == "" || strings.HasPrefix(h, "#") {
		return true
	}
	for _, p := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(h, p) {
			return true
		}
	}
	return false
}
