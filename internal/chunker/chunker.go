// Package chunker splits text fragments into word-bounded chunks for LLM
// processing. Chunk identity is deterministic: the same corpus, ref, path and
// ordinal always produce the same chunk id, and the content hash is stable
// across runs, so chunks can key persistent caches.
package chunker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"shiurgen/internal/corpus"
	"shiurgen/internal/hebrew"
	"shiurgen/internal/logging"
)

// Profile bounds the word count of emitted chunks. The last chunk of a
// fragment may fall below MinWords; a single oversized clause may exceed
// MaxWords by up to the overflow slack of 50 words.
type Profile struct {
	MaxWords int
	MinWords int
}

// oversizeSlack is how far past MaxWords a single undivisible clause may go
// before it is emitted as its own chunk.
const oversizeSlack = 50

// ExplanationProfile is used for per-fragment explanation chunks.
func ExplanationProfile() Profile {
	return Profile{MaxWords: 180, MinWords: 120}
}

// AlignmentProfile adapts to the number of upstream fragments in the
// chapter: few large fragments get finer chunks so similarity has enough
// candidates to discriminate between paragraphs.
func AlignmentProfile(fragmentCount int) Profile {
	switch {
	case fragmentCount <= 5:
		return Profile{MaxWords: 50, MinWords: 25}
	case fragmentCount <= 20:
		return Profile{MaxWords: 100, MinWords: 50}
	default:
		return Profile{MaxWords: 150, MinWords: 80}
	}
}

// MaxAlignmentChunks caps the total chunks produced for one chapter's
// alignment pass; the tail beyond the cap is dropped.
const MaxAlignmentChunks = 60

var clauseDelims = []rune{'.', ':', '\n'}

// Split chunks all fragments of one corpus under the given profile. Chunk
// ordinals are 1-based and continue across fragments, so ordinal is unique
// within the (corpus, chapter) batch.
func Split(id corpus.ID, fragments []corpus.Fragment, p Profile) []corpus.Chunk {
	var out []corpus.Chunk
	ordinal := 0
	for _, frag := range fragments {
		for _, text := range splitFragment(frag.Text, p) {
			ordinal++
			out = append(out, corpus.Chunk{
				ID:          ChunkID(id, frag.Ref, frag.Path, ordinal),
				Text:        text,
				ContentHash: ContentHash(text),
				Ref:         frag.Ref,
				Path:        append([]int(nil), frag.Path...),
			})
		}
	}
	return out
}

// SplitForAlignment is Split under the adaptive alignment profile with the
// global chunk cap applied.
func SplitForAlignment(id corpus.ID, fragments []corpus.Fragment) []corpus.Chunk {
	chunks := Split(id, fragments, AlignmentProfile(len(fragments)))
	if len(chunks) > MaxAlignmentChunks {
		logging.Get(logging.CategoryChunker).Warn("alignment chunk cap reached, dropping tail",
			zap.String("corpus", string(id)),
			zap.Int("total", len(chunks)),
			zap.Int("cap", MaxAlignmentChunks))
		chunks = chunks[:MaxAlignmentChunks]
	}
	return chunks
}

// splitFragment returns the chunk texts for one fragment.
func splitFragment(text string, p Profile) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if hebrew.CountWords(text) <= p.MaxWords {
		return []string{text}
	}

	clauses := splitClauses(text)
	if len(clauses) <= 1 {
		return splitByWords(text, p)
	}

	var out []string
	var group []string
	groupWords := 0
	flush := func() {
		if len(group) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(group, " ")))
			group = nil
			groupWords = 0
		}
	}
	for _, cl := range clauses {
		w := hebrew.CountWords(cl)
		if w > p.MaxWords+oversizeSlack {
			// Undivisible oversized clause: emit alone.
			flush()
			out = append(out, strings.TrimSpace(cl))
			continue
		}
		if groupWords+w > p.MaxWords && groupWords >= p.MinWords {
			flush()
		}
		group = append(group, cl)
		groupWords += w
	}
	flush()
	return out
}

// splitClauses splits on sentence-or-clause delimiters keeping the delimiter
// attached to the preceding clause.
func splitClauses(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		for _, d := range clauseDelims {
			if r == d {
				if s := strings.TrimSpace(cur.String()); s != "" {
					out = append(out, s)
				}
				cur.Reset()
				break
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// splitByWords is the delimiter-free fallback: fixed windows of MaxWords.
func splitByWords(text string, p Profile) []string {
	words := hebrew.Words(text)
	var out []string
	for i := 0; i < len(words); i += p.MaxWords {
		end := i + p.MaxWords
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

// ChunkID builds the deterministic chunk id
// <corpus>_<normalizedRef>_<pathOrRoot>_chunk_<ordinal>.
func ChunkID(id corpus.ID, ref string, path []int, ordinal int) string {
	pathPart := "root"
	if len(path) > 0 {
		parts := make([]string, len(path))
		for i, p := range path {
			parts[i] = fmt.Sprintf("%d", p)
		}
		pathPart = strings.Join(parts, "_")
	}
	return fmt.Sprintf("%s_%s_%s_chunk_%d", id, normalizeRef(ref), pathPart, ordinal)
}

// normalizeRef lowercases, collapses non-alphanumerics to underscore, and
// keeps the last 64 characters so ids stay bounded for deep refs.
func normalizeRef(ref string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(ref) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	s := strings.Trim(b.String(), "_")
	if len(s) > 64 {
		s = s[len(s)-64:]
	}
	return s
}
