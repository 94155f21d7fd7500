// Package similarity scores lexical overlap between Hebrew passages. It is
// the fallback alignment signal when the provider's link graph has no entry
// for a paragraph: each candidate passage from a secondary corpus is scored
// against the paragraph text by weighted token and bigram overlap.
package similarity

import (
	"sort"

	"shiurgen/internal/hebrew"
)

// Weighting and selection constants. bestFloor rejects paragraphs with no
// meaningful overlap anywhere; the relative threshold keeps candidates that
// are close to the best one.
const (
	tokenWeight   = 0.7
	bigramWeight  = 0.3
	bestFloor     = 0.05
	thresholdMin  = 0.08
	thresholdFrac = 0.6
	maxSelected   = 12
)

// Entry is one indexed candidate: a provider ref and its token and bigram
// sets. Entries are immutable after construction.
type Entry struct {
	Ref     string
	tokens  map[string]struct{}
	bigrams map[string]struct{}
}

// Index holds candidates in upstream (reading) order. Construction is
// request-scoped; queries are read-only and safe to share.
type Index struct {
	entries []Entry
}

// New builds an index over (ref, text) candidate pairs, preserving order.
func New(refs []string, texts []string) *Index {
	n := len(refs)
	if len(texts) < n {
		n = len(texts)
	}
	idx := &Index{entries: make([]Entry, 0, n)}
	for i := 0; i < n; i++ {
		tok, big := sets(texts[i])
		idx.entries = append(idx.entries, Entry{Ref: refs[i], tokens: tok, bigrams: big})
	}
	return idx
}

// Len returns the number of indexed candidates.
func (ix *Index) Len() int { return len(ix.entries) }

func sets(text string) (map[string]struct{}, map[string]struct{}) {
	toks := hebrew.Tokens(text)
	tokens := make(map[string]struct{}, len(toks))
	bigrams := make(map[string]struct{})
	for i, t := range toks {
		tokens[t] = struct{}{}
		if i > 0 {
			bigrams[toks[i-1]+" "+t] = struct{}{}
		}
	}
	return tokens, bigrams
}

// Score computes the weighted overlap of the query sets against one entry:
// 0.7·|Q∩C|/|Q| over tokens plus 0.3·|Q∩C|/|Q| over bigrams. A zero
// denominator contributes 0.
func score(qTokens, qBigrams map[string]struct{}, e Entry) float64 {
	s := 0.0
	if len(qTokens) > 0 {
		hit := 0
		for t := range qTokens {
			if _, ok := e.tokens[t]; ok {
				hit++
			}
		}
		s += tokenWeight * float64(hit) / float64(len(qTokens))
	}
	if len(qBigrams) > 0 {
		hit := 0
		for b := range qBigrams {
			if _, ok := e.bigrams[b]; ok {
				hit++
			}
		}
		s += bigramWeight * float64(hit) / float64(len(qBigrams))
	}
	return s
}

// Match is a selected candidate with its score.
type Match struct {
	Ref   string
	Score float64
}

// Select returns the refs that plausibly correspond to the query text, in
// upstream order, deduplicated, together with the best score. The selection
// rule: score all candidates, reject if the best is under the floor, keep
// those within 0.6 of the best (but at least 0.08), cap at 12.
func (ix *Index) Select(query string) ([]Match, float64) {
	if len(ix.entries) == 0 {
		return nil, 0
	}
	qTokens, qBigrams := sets(query)

	type scored struct {
		pos   int
		score float64
	}
	all := make([]scored, len(ix.entries))
	for i, e := range ix.entries {
		all[i] = scored{pos: i, score: score(qTokens, qBigrams, e)}
	}
	// Descending score, ties broken by upstream order.
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].score != all[b].score {
			return all[a].score > all[b].score
		}
		return all[a].pos < all[b].pos
	})

	best := all[0].score
	if best < bestFloor {
		return nil, best
	}
	threshold := thresholdMin
	if t := thresholdFrac * best; t > threshold {
		threshold = t
	}
	var kept []scored
	for _, s := range all {
		if s.score >= threshold {
			kept = append(kept, s)
			if len(kept) == maxSelected {
				break
			}
		}
	}
	// Back to reading order, dedup refs keeping first occurrence.
	sort.Slice(kept, func(a, b int) bool { return kept[a].pos < kept[b].pos })
	seen := make(map[string]struct{}, len(kept))
	var out []Match
	for _, s := range kept {
		ref := ix.entries[s.pos].Ref
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, Match{Ref: ref, Score: s.score})
	}
	return out, best
}
