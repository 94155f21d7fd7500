package guide

import (
	"strings"
)

// Paragraph slicing for monolithic chapters. Some chapters come back from
// the provider as one undivided leaf for the whole of the predecessor code.
// The source compendium's linked passages on consecutive paragraphs open by
// quoting the predecessor, so the first words of those passages act as
// boundary markers inside the monolithic text.
//
// Known limitation: when a marker's words also occur earlier in the
// monolith, the slice lands on the first occurrence.

// markerWords is how many opening words of a boundary passage form the
// marker searched for in the monolith.
const markerWords = 4

// BoundaryMarker extracts the marker from a boundary passage: its first
// markerWords words consisting of Hebrew letters only. Returns "" when the
// passage has fewer qualifying words.
func BoundaryMarker(passage string) string {
	var words []string
	for _, f := range strings.Fields(passage) {
		if isHebrewWord(f) {
			words = append(words, f)
			if len(words) == markerWords {
				return strings.Join(words, " ")
			}
		}
	}
	return ""
}

func isHebrewWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0x05D0 || r > 0x05EA {
			return false
		}
	}
	return true
}

// SliceBetween cuts the monolith between the start marker and the end
// marker. An empty end marker slices to the end of the monolith. The second
// return is false when the start marker is absent or the resulting segment
// is empty.
func SliceBetween(monolith, startMarker, endMarker string) (string, bool) {
	if startMarker == "" {
		return "", false
	}
	start := strings.Index(monolith, startMarker)
	if start < 0 {
		return "", false
	}
	rest := monolith[start:]
	if endMarker != "" {
		if end := strings.Index(rest[len(startMarker):], endMarker); end >= 0 {
			rest = rest[:len(startMarker)+end]
		}
	}
	segment := strings.TrimSpace(rest)
	if segment == "" {
		return "", false
	}
	return segment, true
}
