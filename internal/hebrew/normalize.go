// Package hebrew holds the text-processing primitives shared by the
// resolver, chunker, similarity index and validators: markup stripping,
// cantillation removal, similarity normalization, tokenization and the
// Hebrew-ratio check used to validate model output.
package hebrew

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// StripMarkup removes HTML/XML tags from s, keeping text content. Provider
// payloads embed <b>, <i>, <small> and footnote markup inside the Hebrew
// text.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	var b strings.Builder
	tz := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tz.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(tz.Text())
		}
	}
	return b.String()
}

// StripCantillation removes the Hebrew accent and point block U+0591..U+05C7
// (cantillation marks and niqqud).
func StripCantillation(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x0591 && r <= 0x05C7 {
			return -1
		}
		return r
	}, s)
}

// stripShortParens removes parenthesized inserts of 1 to 5 characters.
// These are inline siglum markers ("(ב)", "(שם)") that would pollute
// word counts and similarity tokens.
func stripShortParens(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); {
		if runes[i] == '(' {
			end := -1
			for j := i + 1; j < len(runes) && j <= i+6; j++ {
				if runes[j] == '(' {
					break
				}
				if runes[j] == ')' {
					end = j
					break
				}
			}
			if end > i && end-i-1 >= 1 && end-i-1 <= 5 {
				i = end + 1
				continue
			}
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

// Clean applies the full leaf cleanup: markup, cantillation, short
// parenthesized inserts, trim.
func Clean(s string) string {
	s = StripMarkup(s)
	s = StripCantillation(s)
	s = stripShortParens(s)
	return strings.TrimSpace(s)
}

func isHebrewLetter(r rune) bool {
	return r >= 0x05D0 && r <= 0x05EA
}

func isWordRune(r rune) bool {
	return isHebrewLetter(r) || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// NormalizeForSimilarity prepares text for token/bigram comparison: markup
// and cantillation go, quote-like marks become spaces, anything that is not
// a Hebrew letter, Latin letter, digit or space becomes a space, and
// whitespace runs collapse.
func NormalizeForSimilarity(s string) string {
	s = StripMarkup(s)
	s = StripCantillation(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '׳', '״', '“', '”', '‘', '’':
			return ' '
		}
		if isHebrewLetter(r) ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits normalized text on whitespace and keeps tokens of length >= 2.
func Tokens(s string) []string {
	fields := strings.Fields(NormalizeForSimilarity(s))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// Words tokenizes on whitespace and keeps tokens containing at least one
// alphanumeric or Hebrew codepoint. This is the word count used by the
// chunker's budgets.
func Words(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, r := range f {
			if isWordRune(r) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// CountWords returns len(Words(s)) without retaining the slice.
func CountWords(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		for _, r := range f {
			if isWordRune(r) {
				n++
				break
			}
		}
	}
	return n
}

// Ratio returns the share of codepoints in the Hebrew block U+0590..U+05FF
// out of all codepoints in s. Empty input yields 0.
func Ratio(s string) float64 {
	total := 0
	heb := 0
	for _, r := range s {
		total++
		if r >= 0x0590 && r <= 0x05FF {
			heb++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(heb) / float64(total)
}
