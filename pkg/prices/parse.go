// Package prices holds the price observation type shared by storage, the
// vendor adapters and the consolidation engine.
package prices

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// rePlainAmount is what is left of a price once currency markers, spaces
// and thousand separators are gone.
var rePlainAmount = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)

// ParsePrice parses a vendor price string. It understands "12.95",
// "12,95 €", "1.234,50 EUR", "1,234.50" and bare numbers. When both a dot
// and a comma are present the rightmost one is the decimal separator.
// Anything else left over, letters, signs or exponents included, makes the
// price invalid.
func ParsePrice(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "EUR", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case comma >= 0 && dot > comma:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.ReplaceAll(s, ".", "")
		if strings.Count(s, ",") > 1 {
			return decimal.NullDecimal{}
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	if !rePlainAmount.MatchString(s) {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseNumber parses a machine formatted number such as a JSON number
// literal or a value read back from a database. Exponents are accepted;
// negatives are not.
func ParseNumber(raw string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// FromDecimal wraps a known price.
func FromDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}
