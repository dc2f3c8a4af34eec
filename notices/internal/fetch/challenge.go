package fetch

import (
	"bytes"
	"errors"
)

// ErrChallenge is returned when a bot wall is served instead of content.
var ErrChallenge = errors.New("fetch: challenge page detected")

const challengeScanBytes = 256 << 10

var (
	strongMarkers = [][]byte{
		[]byte("verify you are not a robot"),
		[]byte("cf-chl"),
		[]byte("checking your browser"),
		[]byte("attention required"),
		[]byte("ddos protection"),
	}
	// weakMarkers also appear on real pages (form captchas, footers);
	// they only count on link-poor pages.
	weakMarkers = [][]byte{
		[]byte("captcha"),
		[]byte("access denied"),
	}
)

const minContentLinks = 5

// DetectChallenge reports whether body looks like an anti-bot interstitial.
func DetectChallenge(body []byte) bool {
	if len(body) > challengeScanBytes {
		body = body[:challengeScanBytes]
	}
	lower := bytes.ToLower(body)
	for _, m := range strongMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	for _, m := range weakMarkers {
		if bytes.Contains(lower, m) {
			return bytes.Count(lower, []byte("<a ")) < minContentLinks
		}
	}
	return false
}
