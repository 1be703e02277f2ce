package adapters

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCents converts a store's decimal price representation ("49.99",
// "$1,299.5", "49") to integer cents using round-half-up on any digits past
// the second decimal place. Floating dollars never cross the adapter
// boundary, so the parse works on the string directly.
func ParseCents(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty price string %q", raw)
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}

	cents := 0
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid price string %q", raw)
		}
		cents = cents*10 + int(c-'0')
	}
	cents *= 100

	// Normalize the fraction to exactly three digits: two for cents plus one
	// rounding digit.
	frac = frac + "000"
	for _, c := range frac[:3] {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid price string %q", raw)
		}
	}
	cents += int(frac[0]-'0')*10 + int(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}

	if negative {
		cents = -cents
	}
	return cents, nil
}

// CentsFromFloat converts a JSON-decoded decimal dollar amount to cents with
// round-half-up. Used where store APIs return numbers, not strings.
//
// The float is formatted back to its shortest decimal form and routed through
// ParseCents, so inputs like 0.285 round on the decimal digits the API sent
// rather than on the binary approximation (0.285*100 is 28.4999...).
func CentsFromFloat(dollars float64) int {
	cents, err := ParseCents(strconv.FormatFloat(dollars, 'f', -1, 64))
	if err != nil {
		return 0
	}
	return cents
}
