package sefaria

import (
	"fmt"
	"strings"

	"shiurgen/internal/corpus"
)

// BuildRef constructs the provider reference for a location in a corpus,
// following the corpus's prefix and qualifier rules:
//
//	Shulchan Arukh, Orach Chayim 24:1   (section-qualified, paragraph)
//	Tur, Orach Chayim 24                (section-qualified, chapter only)
//	Mishnah Berurah 24:1                (no section)
func BuildRef(id corpus.ID, loc corpus.Location) string {
	meta := corpus.Meta(id)
	var b strings.Builder
	b.WriteString(meta.Prefix)
	if meta.SectionQualified {
		b.WriteString(", ")
		b.WriteString(string(loc.Section))
	}
	fmt.Fprintf(&b, " %d", loc.Chapter)
	if meta.ParagraphAddressed && loc.HasParagraph() {
		fmt.Fprintf(&b, ":%d", loc.Paragraph)
	}
	return b.String()
}

// BuildRefStrings is BuildRef for callers holding raw chapter/paragraph
// strings, which may be decimal or Hebrew numerals.
func BuildRefStrings(id corpus.ID, section corpus.Section, chapter, paragraph string) (string, error) {
	ch, err := corpus.ParseNumber(chapter)
	if err != nil {
		return "", fmt.Errorf("chapter: %w", err)
	}
	loc := corpus.Location{Section: section, Chapter: ch}
	if strings.TrimSpace(paragraph) != "" {
		p, err := corpus.ParseNumber(paragraph)
		if err != nil {
			return "", fmt.Errorf("paragraph: %w", err)
		}
		loc.Paragraph = p
	}
	return BuildRef(id, loc), nil
}

// NormalizeRef lowercases, collapses whitespace and unifies the Chaim/Chayim
// transliteration variants so provider refs can be prefix-compared.
func NormalizeRef(ref string) string {
	s := strings.ToLower(strings.Join(strings.Fields(ref), " "))
	return strings.ReplaceAll(s, "chaim", "chayim")
}

// CorpusPrefix returns the normalized prefix that refs of a corpus restricted
// to one section must start with.
func CorpusPrefix(id corpus.ID, section corpus.Section) string {
	meta := corpus.Meta(id)
	if meta.SectionQualified {
		return NormalizeRef(meta.Prefix + ", " + string(section))
	}
	return NormalizeRef(meta.Prefix)
}

// BelongsTo reports whether a provider ref names a passage of the given
// corpus within the given section.
func BelongsTo(ref string, id corpus.ID, section corpus.Section) bool {
	return strings.HasPrefix(NormalizeRef(ref), CorpusPrefix(id, section))
}

// IndexTitle is the book title used against the index endpoint; the first
// schema length dimension is the chapter count of the section.
func IndexTitle(id corpus.ID, section corpus.Section) string {
	meta := corpus.Meta(id)
	if meta.SectionQualified {
		return meta.Prefix + ", " + string(section)
	}
	return meta.Prefix
}
