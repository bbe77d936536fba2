package brand

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// controlToSpace maps tabs, newlines and other control runes to plain spaces,
// so "Acme\tCo" and "Acme Co" store the same way.
var controlToSpace = runes.Map(func(r rune) rune {
	if unicode.IsControl(r) {
		return ' '
	}
	return r
})

// CleanText composes s to NFC, replaces control characters with spaces and trims
// surrounding whitespace. It is idempotent.
func CleanText(s string) string {
	// Chains carry state; build one per call.
	t := transform.Chain(controlToSpace, norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = s
	}
	return strings.TrimSpace(result)
}
