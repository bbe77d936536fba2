package brand

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cast"
)

// leadingInt matches the base-10 integer prefix of a string, e.g. "1999" in "1999abc".
var leadingInt = regexp.MustCompile(`^[+-]?[0-9]+`)

// coerceString renders a loose value as text. Values without a sensible text
// form (nested documents, arrays) report false.
func coerceString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	return s, true
}

// parseLeadingInt parses the integer prefix of v after skipping leading
// whitespace. A value with no digit prefix reports false (not a number).
// Prefixes that overflow saturate at the int bounds.
func parseLeadingInt(v any) (int, bool) {
	s, ok := coerceString(v)
	if !ok {
		return 0, false
	}
	m := leadingInt.FindString(strings.TrimLeftFunc(s, unicode.IsSpace))
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(m, 10, 0)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return int(n), true
}

// firstString returns the first alias holding a non-blank text value.
func firstString(raw Raw, aliases []string) (string, bool) {
	for _, key := range aliases {
		s, ok := coerceString(raw[key])
		if !ok {
			continue
		}
		if s = CleanText(s); s != "" {
			return s, true
		}
	}
	return "", false
}

// firstInt parses the first alias that is present at all. A present but
// unparseable value does not fall through to the next alias.
func firstInt(raw Raw, aliases []string) (int, bool) {
	for _, key := range aliases {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		return parseLeadingInt(v)
	}
	return 0, false
}
