// Package textnorm folds free text into the comparable form used by every matcher.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases, trims and strips combining diacritical marks.
// It is total: the empty string maps to the empty string.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	lower := strings.ToLower(s)
	out, _, err := transform.String(t, lower)
	if err != nil {
		out = lower
	}

	return strings.TrimSpace(out)
}

// Equal reports whether a and b normalize to the same text.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
