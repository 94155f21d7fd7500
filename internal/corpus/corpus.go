// Package corpus defines the domain model shared across the pipeline: the
// corpora the system knows, canonical locations within them, and the fragment
// and chunk types that flow between the resolver, chunker, and memoizer.
package corpus

import (
	"fmt"
	"strings"
)

// ID identifies one of the corpora the system can draw from.
type ID string

const (
	// ShulchanAruch is the primary work; its paragraph structure drives
	// alignment and the guide layout.
	ShulchanAruch ID = "shulchan_aruch"
	// Tur is the predecessor code aligned per chapter.
	Tur ID = "tur"
	// BeitYosef is the source compendium; its link graph is the
	// authoritative alignment source when available.
	BeitYosef ID = "beit_yosef"
	// MishnahBerurah is the later commentary, used only as companion text
	// for the primary work's paragraphs.
	MishnahBerurah ID = "mishnah_berurah"
)

// Info carries per-corpus metadata: how the provider names it and how its
// references are shaped.
type Info struct {
	Label string // Hebrew display label
	// Prefix is the provider-side book prefix, e.g. "Shulchan Arukh".
	Prefix string
	// SectionQualified corpora embed the section name in their refs
	// ("Tur, Orach Chayim 24"); Mishnah Berurah does not.
	SectionQualified bool
	// ParagraphAddressed corpora address individual paragraphs
	// (chapter:paragraph); Tur and Beit Yosef stop at the chapter.
	ParagraphAddressed bool
	// OrachChayimOnly marks corpora that exist only for the Orach Chayim
	// section of the primary.
	OrachChayimOnly bool
}

var infos = map[ID]Info{
	ShulchanAruch: {
		Label:              "שולחן ערוך",
		Prefix:             "Shulchan Arukh",
		SectionQualified:   true,
		ParagraphAddressed: true,
	},
	Tur: {
		Label:            "טור",
		Prefix:           "Tur",
		SectionQualified: true,
	},
	BeitYosef: {
		Label:            "בית יוסף",
		Prefix:           "Beit Yosef",
		SectionQualified: true,
	},
	MishnahBerurah: {
		Label:              "משנה ברורה",
		Prefix:             "Mishnah Berurah",
		ParagraphAddressed: true,
		OrachChayimOnly:    true,
	},
}

// Meta returns the metadata for a corpus. Unknown IDs return a zero Info.
func Meta(id ID) Info {
	return infos[id]
}

// All returns every corpus the system knows, primary first.
func All() []ID {
	return []ID{ShulchanAruch, Tur, BeitYosef, MishnahBerurah}
}

// Parse maps a user-supplied corpus name to an ID. Accepts the canonical
// slug and a few common spellings.
func Parse(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "shulchan_aruch", "shulchan_arukh", "primary":
		return ShulchanAruch, nil
	case "tur":
		return Tur, nil
	case "beit_yosef", "beis_yosef":
		return BeitYosef, nil
	case "mishnah_berurah", "mishna_berura":
		return MishnahBerurah, nil
	}
	return "", fmt.Errorf("unknown corpus %q", s)
}

// Section is one of the four divisions of the legal corpus.
type Section string

const (
	OrachChayim    Section = "Orach Chayim"
	YorehDeah      Section = "Yoreh De'ah"
	EvenHaEzer     Section = "Even HaEzer"
	ChoshenMishpat Section = "Choshen Mishpat"
)

// Sections lists the four sections in canonical order.
func Sections() []Section {
	return []Section{OrachChayim, YorehDeah, EvenHaEzer, ChoshenMishpat}
}

// ParseSection resolves user input (including the Chaim/Chayim variants) to a
// canonical Section.
func ParseSection(s string) (Section, error) {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	norm = strings.ReplaceAll(norm, "chaim", "chayim")
	switch norm {
	case "orach chayim", "orach_chayim", "oc":
		return OrachChayim, nil
	case "yoreh de'ah", "yoreh deah", "yoreh_deah", "yd":
		return YorehDeah, nil
	case "even haezer", "even ha'ezer", "even_haezer", "eh":
		return EvenHaEzer, nil
	case "choshen mishpat", "choshen_mishpat", "cm":
		return ChoshenMishpat, nil
	}
	return "", fmt.Errorf("unknown section %q", s)
}

// Slug returns the lowercase underscore form used in store keys,
// e.g. "orach_chayim".
func (s Section) Slug() string {
	slug := strings.ToLower(string(s))
	slug = strings.ReplaceAll(slug, "'", "")
	return strings.Join(strings.Fields(slug), "_")
}

// Location addresses a chapter (siman) and optionally a paragraph (seif)
// within a section. Paragraph 0 means "whole chapter".
type Location struct {
	Section   Section
	Chapter   int
	Paragraph int
}

// HasParagraph reports whether the location addresses a single paragraph.
func (l Location) HasParagraph() bool { return l.Paragraph > 0 }

func (l Location) String() string {
	if l.HasParagraph() {
		return fmt.Sprintf("%s %d:%d", l.Section, l.Chapter, l.Paragraph)
	}
	return fmt.Sprintf("%s %d", l.Section, l.Chapter)
}

// Validate checks the location is well formed.
func (l Location) Validate() error {
	if _, err := ParseSection(string(l.Section)); err != nil {
		return err
	}
	if l.Chapter < 1 {
		return fmt.Errorf("chapter must be positive, got %d", l.Chapter)
	}
	if l.Paragraph < 0 {
		return fmt.Errorf("paragraph must be non-negative, got %d", l.Paragraph)
	}
	return nil
}

// Fragment is one leaf of the provider's nested text array: an opaque
// provider ref, the index path of the descent into the nesting (1-based at
// each level), and the cleaned Hebrew text.
type Fragment struct {
	Ref  string
	Path []int
	Text string
}

// Chunk is a word-bounded slice of a fragment, the unit of LLM processing.
// ID is deterministic from (corpus, ref, path, ordinal); ContentHash is a
// strong hash over Text.
type Chunk struct {
	ID          string
	Text        string
	ContentHash string
	Ref         string
	Path        []int
}
