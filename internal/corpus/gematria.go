package corpus

import (
	"fmt"
	"strings"
)

// Hebrew numeral conversion. Chapter and paragraph numbers arrive from users
// and from provider refs either as integers or as gematria strings
// ("כד" = 24). The table covers 1..999 including the 15/16 exceptions
// (טו, טז instead of יה, יו).

var gematriaValues = map[rune]int{
	'א': 1, 'ב': 2, 'ג': 3, 'ד': 4, 'ה': 5,
	'ו': 6, 'ז': 7, 'ח': 8, 'ט': 9,
	'י': 10, 'כ': 20, 'ל': 30, 'מ': 40, 'נ': 50,
	'ס': 60, 'ע': 70, 'פ': 80, 'צ': 90,
	'ק': 100, 'ר': 200, 'ש': 300, 'ת': 400,
	// Final forms carry the same value as their regular counterparts.
	'ך': 20, 'ם': 40, 'ן': 50, 'ף': 80, 'ץ': 90,
}

var gematriaUnits = []string{"", "א", "ב", "ג", "ד", "ה", "ו", "ז", "ח", "ט"}
var gematriaTens = []string{"", "י", "כ", "ל", "מ", "נ", "ס", "ע", "פ", "צ"}
var gematriaHundreds = []string{"", "ק", "ר", "ש", "ת", "תק", "תר", "תש", "תת", "תתק"}

// FromGematria converts a Hebrew numeral string to an integer. Geresh and
// gershayim punctuation is ignored. Returns an error for empty or
// non-numeral input.
func FromGematria(s string) (int, error) {
	total := 0
	seen := false
	for _, r := range s {
		switch r {
		case '\'', '"', '׳', '״', ' ':
			continue
		}
		v, ok := gematriaValues[r]
		if !ok {
			return 0, fmt.Errorf("not a hebrew numeral: %q", s)
		}
		total += v
		seen = true
	}
	if !seen {
		return 0, fmt.Errorf("empty numeral")
	}
	return total, nil
}

// ToGematria renders 1..999 as a Hebrew numeral, applying the טו/טז
// exceptions for 15 and 16 in any tens position.
func ToGematria(n int) (string, error) {
	if n < 1 || n > 999 {
		return "", fmt.Errorf("gematria out of range: %d", n)
	}
	var b strings.Builder
	b.WriteString(gematriaHundreds[n/100])
	rem := n % 100
	switch rem {
	case 15:
		b.WriteString("טו")
	case 16:
		b.WriteString("טז")
	default:
		b.WriteString(gematriaTens[rem/10])
		b.WriteString(gematriaUnits[rem%10])
	}
	return b.String(), nil
}

// ParseNumber accepts either a decimal integer or a gematria string.
func ParseNumber(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	n := 0
	decimal := true
	for _, r := range s {
		if r < '0' || r > '9' {
			decimal = false
			break
		}
		n = n*10 + int(r-'0')
	}
	if decimal {
		if n < 1 {
			return 0, fmt.Errorf("number must be positive, got %d", n)
		}
		return n, nil
	}
	return FromGematria(s)
}
