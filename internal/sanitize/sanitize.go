// Package sanitize normalizes user-supplied text before it is stored.
package sanitize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Text NFC-normalizes s, drops control characters, trims surrounding space and caps the
// result at limit runes. A limit of zero or less means no cap.
func Text(s string, limit int) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}
