// Package parse turns raw corrected-field strings into typed values for
// similarity comparison. Parsers are lenient by design: a value that does not
// parse is not an error, it just falls through to the next comparator.
package parse

import (
	"strconv"
	"strings"
	"unicode"
)

// Numeric parses an arbitrary invoice amount string into a float64. It
// tolerates currency symbols, thousands separators in both the 1,234.56 and
// 1.234,56 conventions, parentheses or a leading minus for negatives, and
// trailing unit letters ("100 EUR", "12kg"). Returns false when nothing
// numeric remains, or when the string carries punctuation no number has, so
// dashed and slashed dates stay out of the numeric comparator.
func Numeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	// Keep digits, separators, and a leading sign; drop currency symbols,
	// spaces, and unit letters. Any other rune means the value is not a
	// number: an interior '-' or '/' is date punctuation, and collapsing it
	// away would read "2024-01-15" as twenty million.
	var b strings.Builder
	seenDigit := false
	suffix := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			if suffix {
				return 0, false
			}
			b.WriteRune(r)
			seenDigit = true
		case r == ',' || r == '.':
			if suffix {
				return 0, false
			}
			b.WriteRune(r)
		case r == '-' || r == '+':
			if seenDigit || b.Len() > 0 {
				return 0, false
			}
			if r == '-' {
				negative = !negative
			}
		case unicode.IsLetter(r):
			// Trailing unit ("100 EUR", "12kg") or a leading currency code.
			if seenDigit {
				suffix = true
			}
		case unicode.IsSpace(r) || unicode.Is(unicode.Sc, r):
			// padding, thousands spacing, currency symbols
		default:
			return 0, false
		}
	}
	if !seenDigit {
		return 0, false
	}

	cleaned := normalizeSeparators(b.String())
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// normalizeSeparators rewrites a digit string with ',' and '.' separators
// into plain decimal form. When both appear, the rightmost separator is the
// decimal point; a lone ',' is a thousands separator; with multiple '.' the
// last one is the decimal point.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// European convention: 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Comma-only values are thousands-separated integers.
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		// 1.234.567 — the last dot is the decimal point.
		head := strings.ReplaceAll(s[:lastDot], ".", "")
		s = head + s[lastDot:]
	}
	return s
}
