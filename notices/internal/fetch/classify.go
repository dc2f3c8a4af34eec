// CLAUDE:SUMMARY Failure classifier: maps (status, error) to a Class that drives retry and strategy escalation.
package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Class categorizes a fetch failure.
type Class string

const (
	ClassTransport Class = "transport"  // DNS, TLS, reset, timeout
	ClassHTTP      Class = "http"       // 4xx/5xx other than below
	ClassRateLimit Class = "rate_limit" // 429
	ClassChallenge Class = "challenge"  // bot wall served instead of content
	ClassNotFound  Class = "not_found"  // 404, 410
	ClassUnknown   Class = "unknown"
)

// Classify determines the failure class from a status code and error.
func Classify(status int, err error) Class {
	if errors.Is(err, ErrChallenge) {
		return ClassChallenge
	}
	var se *StatusError
	if errors.As(err, &se) && status == 0 {
		status = se.Code
	}
	switch {
	case status == 429:
		return ClassRateLimit
	case status == 404 || status == 410:
		return ClassNotFound
	case status >= 400:
		return ClassHTTP
	}
	if err == nil {
		return ClassUnknown
	}
	if isTransport(err) {
		return ClassTransport
	}
	return ClassUnknown
}

// Retryable reports whether another attempt with the same strategy may help.
func (c Class) Retryable(status int) bool {
	switch c {
	case ClassTransport, ClassRateLimit:
		return true
	case ClassHTTP:
		return status == 408 || status >= 500
	default:
		return false
	}
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection refused", "connection reset", "no such host", "tls", "handshake", "eof", "x509"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
