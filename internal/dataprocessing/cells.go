package dataprocessing

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a spreadsheet cell to a signed amount. It never fails:
// blank, dash and unparsable text are zero, and a parenthesized value is negative.
func ParseAmount(raw string) decimal.Decimal {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" {
		return decimal.Zero
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case r == ',', r == '"', r == '\'', r == '$':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, s)

	negative := false
	if len(s) >= 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "-" {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		return d.Neg()
	}
	return d
}
