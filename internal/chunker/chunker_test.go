package chunker

import (
	"strings"
	"testing"

	"shiurgen/internal/corpus"
	"shiurgen/internal/hebrew"
)

// hebWords produces n distinct Hebrew-looking words joined by the given
// separator so word counts are unambiguous.
func hebWords(n int, sep string) string {
	words := make([]string, n)
	for i := range words {
		g, _ := corpus.ToGematria(i%999 + 1)
		words[i] = "מלה" + g
	}
	return strings.Join(words, sep)
}

func TestSplitSmallFragmentStaysWhole(t *testing.T) {
	frags := []corpus.Fragment{{Ref: "Shulchan Arukh, Orach Chayim 24:1", Path: []int{1}, Text: hebWords(40, " ")}}
	chunks := Split(corpus.ShulchanAruch, frags, ExplanationProfile())
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != frags[0].Text {
		t.Error("small fragment must pass through untouched")
	}
}

func TestSplitRespectsWordBudget(t *testing.T) {
	p := Profile{MaxWords: 30, MinWords: 15}
	// Clauses of 10 words each, delimited by periods.
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		sb.WriteString(hebWords(10, " "))
		sb.WriteString(". ")
	}
	frags := []corpus.Fragment{{Ref: "Tur, Orach Chayim 24", Path: []int{1}, Text: sb.String()}}
	chunks := Split(corpus.Tur, frags, p)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		w := hebrew.CountWords(c.Text)
		if w > p.MaxWords+oversizeSlack {
			t.Errorf("chunk %d has %d words, exceeds budget", i, w)
		}
		if i < len(chunks)-1 && w < p.MinWords {
			t.Errorf("non-final chunk %d has %d words, below minimum", i, w)
		}
	}
}

func TestSplitOversizedClauseEmittedAlone(t *testing.T) {
	p := Profile{MaxWords: 30, MinWords: 15}
	big := hebWords(100, " ") // no delimiters inside, over MaxWords+slack
	text := hebWords(10, " ") + ". " + big + ". " + hebWords(10, " ") + "."
	frags := []corpus.Fragment{{Ref: "r", Path: []int{1}, Text: text}}
	chunks := Split(corpus.Tur, frags, p)
	found := false
	for _, c := range chunks {
		if hebrew.CountWords(c.Text) >= 100 {
			found = true
			if strings.Contains(strings.TrimSuffix(c.Text, "."), ".") {
				t.Error("oversized chunk should be a single clause")
			}
		}
	}
	if !found {
		t.Fatal("oversized clause was not emitted as its own chunk")
	}
}

func TestSplitNoDelimitersFallsBackToWordWindows(t *testing.T) {
	p := Profile{MaxWords: 25, MinWords: 10}
	frags := []corpus.Fragment{{Ref: "r", Path: []int{1}, Text: hebWords(60, " ")}}
	chunks := Split(corpus.Tur, frags, p)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 windows of 25/25/10", len(chunks))
	}
	for i, want := range []int{25, 25, 10} {
		if got := hebrew.CountWords(chunks[i].Text); got != want {
			t.Errorf("window %d has %d words, want %d", i, got, want)
		}
	}
}

func TestSplitOrdinalsContinueAcrossFragments(t *testing.T) {
	frags := []corpus.Fragment{
		{Ref: "a", Path: []int{1}, Text: hebWords(20, " ")},
		{Ref: "b", Path: []int{2}, Text: hebWords(20, " ")},
	}
	chunks := Split(corpus.ShulchanAruch, frags, ExplanationProfile())
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].ID, "_chunk_1") || !strings.HasSuffix(chunks[1].ID, "_chunk_2") {
		t.Errorf("ordinals must continue across fragments: %q, %q", chunks[0].ID, chunks[1].ID)
	}
}

func TestSplitProvenance(t *testing.T) {
	frags := []corpus.Fragment{{Ref: "Beit Yosef, Orach Chayim 24:3", Path: []int{3}, Text: hebWords(10, " ")}}
	chunks := Split(corpus.BeitYosef, frags, ExplanationProfile())
	c := chunks[0]
	if c.Ref != frags[0].Ref {
		t.Errorf("chunk ref = %q, want source fragment ref", c.Ref)
	}
	if len(c.Path) != 1 || c.Path[0] != 3 {
		t.Errorf("chunk path = %v, want [3]", c.Path)
	}
	if c.ContentHash != ContentHash(c.Text) {
		t.Error("content hash must cover the chunk text")
	}
}

func TestSplitDeterministic(t *testing.T) {
	frags := []corpus.Fragment{{Ref: "r", Path: []int{1}, Text: hebWords(300, ". ")}}
	a := Split(corpus.Tur, frags, ExplanationProfile())
	b := Split(corpus.Tur, frags, ExplanationProfile())
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].ContentHash != b[i].ContentHash || a[i].Text != b[i].Text {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitForAlignmentCap(t *testing.T) {
	frags := make([]corpus.Fragment, 30)
	for i := range frags {
		frags[i] = corpus.Fragment{Ref: "r", Path: []int{i + 1}, Text: hebWords(400, ". ")}
	}
	chunks := SplitForAlignment(corpus.BeitYosef, frags)
	if len(chunks) > MaxAlignmentChunks {
		t.Fatalf("got %d chunks, cap is %d", len(chunks), MaxAlignmentChunks)
	}
}

func TestAlignmentProfileAdapts(t *testing.T) {
	if p := AlignmentProfile(3); p.MaxWords != 50 {
		t.Errorf("small chapter profile = %+v", p)
	}
	if p := AlignmentProfile(12); p.MaxWords != 100 {
		t.Errorf("medium chapter profile = %+v", p)
	}
	if p := AlignmentProfile(40); p.MaxWords != 150 {
		t.Errorf("large chapter profile = %+v", p)
	}
}

func TestChunkID(t *testing.T) {
	got := ChunkID(corpus.Tur, "Tur, Orach Chayim 24", []int{2}, 5)
	want := "tur_tur_orach_chayim_24_2_chunk_5"
	if got != want {
		t.Errorf("ChunkID = %q, want %q", got, want)
	}
	if got := ChunkID(corpus.Tur, "Ref", nil, 1); !strings.Contains(got, "_root_chunk_1") {
		t.Errorf("empty path should use root marker: %q", got)
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash("שלום עולם")
	b := ContentHash("שלום עולם")
	c := ContentHash("שלום עולם!")
	if a != b {
		t.Error("hash must be deterministic")
	}
	if a == c {
		t.Error("distinct texts should hash differently")
	}
	if ContentHash("") == "" {
		t.Error("empty input still yields a hash string")
	}
}
