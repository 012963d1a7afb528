// Package normalize canonicalizes product names and validates EAN-like codes
// so that listings from different pharmacies can be compared.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	minEANLength = 7
	maxEANLength = 14
)

// Name folds a vendor-supplied product name into its comparison form:
// accents stripped, lowercased, punctuation replaced by spaces and
// whitespace collapsed. "Crème Solaire SPF-50+" becomes "creme solaire spf 50".
func Name(raw string) string {
	if raw == "" {
		return ""
	}

	// NFKD splits accented letters into base letter + combining mark; the
	// marks (and any other non-ASCII rune) are dropped below.
	decomposed := norm.NFKD.String(raw)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case r > unicode.MaxASCII:
			continue
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// IsValidEAN reports whether raw looks like a usable product code: digits
// only, between 7 (short internal SKUs) and 14 (GTIN-14) characters.
// The check digit is not verified.
func IsValidEAN(raw string) bool {
	if len(raw) < minEANLength || len(raw) > maxEANLength {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return false
		}
	}
	return true
}
