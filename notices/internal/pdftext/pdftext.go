// CLAUDE:SUMMARY Page text from PDFs via pdfcpu: reads the first pages' content streams and decodes text-showing operators.
// Package pdftext pulls plain text out of the first pages of a PDF so the
// date resolver can look for a publish date in notices published as PDFs.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoText is returned when none of the requested pages carries text.
var ErrNoText = errors.New("pdftext: no text content")

// Pages returns the text of pages 1..maxPages (all pages when maxPages <= 0).
// Pages without extractable text are returned as empty strings.
func Pages(data []byte, maxPages int) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdftext: parser panic: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdftext: read: %w", err)
	}
	n := ctx.PageCount
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}
	found := false
	for pageNr := 1; pageNr <= n; pageNr++ {
		text := pageText(ctx, pageNr)
		if text != "" {
			found = true
		}
		pages = append(pages, text)
	}
	if !found {
		return pages, ErrNoText
	}
	return pages, nil
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return StreamText(data)
}

// StreamText decodes the strings shown by Tj, TJ, ' and " in a content
// stream. Td, TD and Tm insert a space, T* and ' a line break.
func StreamText(data []byte) string {
	var (
		sb      strings.Builder
		pending []string
	)
	flush := func(newline bool) {
		if newline && sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		for _, s := range pending {
			sb.WriteString(s)
		}
		pending = pending[:0]
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteral(data, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] != '<':
			s, next := readHex(data, i)
			pending = append(pending, s)
			i = next
		case c == '[' || c == ']':
			i++
		case isOperatorByte(c):
			j := i
			for j < len(data) && isOperatorByte(data[j]) {
				j++
			}
			switch string(data[i:j]) {
			case "Tj", "TJ":
				flush(false)
			case "'", `"`:
				flush(true)
			case "Td", "TD", "Tm":
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				pending = pending[:0]
			case "T*":
				sb.WriteByte('\n')
			default:
				pending = pending[:0]
			}
			i = j
		default:
			i++
		}
	}
	return clean(sb.String())
}

func isOperatorByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '*' || c == '\'' || c == '"'
}

// readLiteral reads a balanced (string) starting at data[start] == '('.
func readLiteral(data []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(data) {
		c := data[i]
		switch c {
		case '\\':
			i++
			if i >= len(data) {
				return sb.String(), i
			}
			i = unescape(&sb, data, i)
			continue
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

// unescape handles the escape at data[i] (the byte after '\') and returns
// the index after it.
func unescape(sb *strings.Builder, data []byte, i int) int {
	switch c := data[i]; c {
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'b', 'f':
	case '\n', '\r':
		// line continuation
	default:
		if c >= '0' && c <= '7' {
			val, n := 0, 0
			for n < 3 && i < len(data) && data[i] >= '0' && data[i] <= '7' {
				val = val*8 + int(data[i]-'0')
				i++
				n++
			}
			sb.WriteByte(byte(val))
			return i
		}
		sb.WriteByte(c)
	}
	return i + 1
}

// readHex reads a <hex string> starting at data[start] == '<'. Two-byte
// code units (UTF-16BE with BOM) are decoded; others are taken as Latin-1.
func readHex(data []byte, start int) (string, int) {
	end := bytes.IndexByte(data[start:], '>')
	if end < 0 {
		return "", len(data)
	}
	var digits []byte
	for _, c := range data[start+1 : start+end] {
		if isHex(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, len(digits)/2)
	for k := range raw {
		raw[k] = hexVal(digits[2*k])<<4 | hexVal(digits[2*k+1])
	}
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		var sb strings.Builder
		for k := 2; k+1 < len(raw); k += 2 {
			sb.WriteRune(rune(raw[k])<<8 | rune(raw[k+1]))
		}
		return sb.String(), start + end + 1
	}
	var sb strings.Builder
	for _, b := range raw {
		sb.WriteRune(rune(b))
	}
	return sb.String(), start + end + 1
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// clean collapses whitespace runs within lines and drops control characters.
func clean(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			if unicode.IsSpace(r) {
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			} else if unicode.IsPrint(r) {
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}
