// Package sanitize strips model boilerplate from raw summaries.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// prefaces are compared against the lowercased first line.
var prefaces = []string{
	"here's a summary",
	"here is a summary",
	"here's a concise summary",
	"here's a brief summary",
	"sure, here's a summary",
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// Sanitize normalizes raw and drops a leading preface line such as
// "Here's a summary of the text:". A first line is only dropped when it ends
// with a colon. Only the first line is ever inspected.
func Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	text := norm.NFKC.String(raw)
	text = apostrophes.Replace(text)
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))

	first, rest, _ := strings.Cut(text, "\n")
	if isPreface(strings.TrimSpace(first)) {
		text = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}
	return text
}

func isPreface(line string) bool {
	if !strings.HasSuffix(line, ":") {
		return false
	}
	lower := strings.ToLower(line)
	if strings.Contains(lower, "summary") {
		return true
	}
	for _, p := range prefaces {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Truncate cuts s to at most max characters (runes).
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// Clean sanitizes raw and enforces the character budget.
func Clean(raw string, max int) string {
	return Truncate(Sanitize(raw), max)
}
