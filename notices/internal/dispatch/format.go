package dispatch

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Notice is an accepted candidate ready for delivery.
type Notice struct {
	Title     string
	Link      string
	SourceURL string
	// Date is the resolved publish date; zero when undated.
	Date time.Time
}

var strict = bluemonday.StrictPolicy()

// maxTitleRunes keeps messages well under platform limits (Telegram: 4096).
const maxTitleRunes = 3000

// Format renders n as the HTML notification text. Undated notices show today.
func Format(n Notice, today time.Time) string {
	d := n.Date
	if d.IsZero() {
		d = today
	}
	title := cleanTitle(n.Title)
	if title == "" {
		title = "No text found"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>🆕 New Notification (%s)</b>\n", d.Format("02-01-2006"))
	fmt.Fprintf(&b, "<b>📄 Page:</b> %s\n", html.EscapeString(n.SourceURL))
	fmt.Fprintf(&b, "<b>🔗 Link:</b> <a href=\"%s\">%s</a>\n", html.EscapeString(n.Link), html.EscapeString(n.Link))
	fmt.Fprintf(&b, "<b>📝 Text:</b> %s", title)
	return b.String()
}

// cleanTitle strips markup and returns escaped, whitespace-collapsed text.
func cleanTitle(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes]) + "…"
	}
	return html.EscapeString(s)
}

// FormatAlert renders the systemic-failure alert.
func FormatAlert(failed, total int, sample []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>⚠️ avis: %d of %d sources failed</b>", failed, total)
	for _, s := range sample {
		fmt.Fprintf(&b, "\n• %s", html.EscapeString(s))
	}
	return b.String()
}
