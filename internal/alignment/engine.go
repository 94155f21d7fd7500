// Package alignment pairs each paragraph of the primary work with the
// passages of the predecessor code (Tur) and the source compendium (Beit
// Yosef) that correspond to it. The provider's link graph is authoritative;
// when it has no entry, lexical similarity over chunked secondary text is
// the fallback. Results persist per chapter behind a cross-process
// single-flight lock with content-hash invalidation.
package alignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"shiurgen/internal/chunker"
	"shiurgen/internal/config"
	"shiurgen/internal/corpus"
	"shiurgen/internal/logging"
	"shiurgen/internal/sefaria"
	"shiurgen/internal/similarity"
	"shiurgen/internal/store"
)

// ErrWaitTimeout is returned when another process holds the build lock past
// the configured wait window without producing a ready record.
var ErrWaitTimeout = errors.New("alignment: timed out waiting for ready record")

// Provider is the slice of the upstream client the engine needs.
type Provider interface {
	FetchFragments(ctx context.Context, ref string) (*sefaria.TextResult, error)
	FetchLinkedRefs(ctx context.Context, primaryRef string, section corpus.Section) (*sefaria.LinkedRefs, error)
}

// Engine computes and caches chapter alignments.
type Engine struct {
	store    *store.Store
	provider Provider
	timeouts config.TimeoutConfig
	group    singleflight.Group
	log      *zap.Logger
}

// New creates an engine over the shared store and provider.
func New(st *store.Store, provider Provider, timeouts config.TimeoutConfig) *Engine {
	return &Engine{
		store:    st,
		provider: provider,
		timeouts: timeouts,
		log:      logging.Get(logging.CategoryAlignment),
	}
}

// Get returns the alignment record for a chapter, building it if necessary.
// Concurrent in-process callers for the same chapter share one flight;
// cross-process coordination goes through the store's conditional lock.
func (e *Engine) Get(ctx context.Context, section corpus.Section, chapter int) (*store.AlignmentRecord, error) {
	key := store.AlignmentKey(section, chapter)
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.get(ctx, section, chapter)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.AlignmentRecord), nil
}

func (e *Engine) get(ctx context.Context, section corpus.Section, chapter int) (*store.AlignmentRecord, error) {
	key := store.AlignmentKey(section, chapter)

	existing, err := e.store.GetAlignment(key)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == store.StatusReady {
		if time.Since(existing.SourceCheckedAt) < e.timeouts.SourceRevalidation {
			return existing, nil
		}
		return e.revalidate(ctx, section, chapter, existing)
	}
	return e.acquireAndBuild(ctx, section, chapter, nil)
}

// revalidate re-fetches the chapter payload, compares hashes, and either
// touches the record or forces a rebuild with the freshly fetched payload so
// the builder does not fetch twice.
func (e *Engine) revalidate(ctx context.Context, section corpus.Section, chapter int, existing *store.AlignmentRecord) (*store.AlignmentRecord, error) {
	payload, err := e.fetchChapter(ctx, section, chapter)
	if err != nil {
		// Provider trouble during revalidation is not fatal: serve the
		// record we have.
		e.log.Warn("revalidation fetch failed, serving cached alignment",
			zap.String("key", existing.Key), zap.Error(err))
		return existing, nil
	}
	if hashesEqual(existing.SourceHash, payload.hashes()) {
		if err := e.store.TouchAlignmentSourceCheck(existing.Key); err != nil {
			return nil, err
		}
		return existing, nil
	}
	e.log.Info("source hash drift, rebuilding alignment",
		zap.String("key", existing.Key))
	return e.acquireAndBuild(ctx, section, chapter, payload)
}

// acquireAndBuild runs the cross-process single-flight: take the lock and
// build, or use/await the other holder's result.
func (e *Engine) acquireAndBuild(ctx context.Context, section corpus.Section, chapter int, prefetched *chapterPayload) (*store.AlignmentRecord, error) {
	key := store.AlignmentKey(section, chapter)
	acquired, current, err := e.store.TryLockAlignment(section, chapter, e.timeouts.AlignmentLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if current != nil && current.Status == store.StatusReady {
			return current, nil
		}
		return e.awaitReady(ctx, key)
	}

	rec, err := e.build(ctx, section, chapter, prefetched)
	if err != nil {
		if failErr := e.store.FailAlignment(key, err.Error()); failErr != nil {
			e.log.Error("could not mark alignment failed",
				zap.String("key", key), zap.Error(failErr))
		}
		return nil, err
	}
	return rec, nil
}

// awaitReady polls the store while another process builds.
func (e *Engine) awaitReady(ctx context.Context, key string) (*store.AlignmentRecord, error) {
	deadline := time.Now().Add(e.timeouts.AlignmentWait)
	for time.Now().Before(deadline) {
		select {
		case <-time.After(e.timeouts.AlignmentPoll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		rec, err := e.store.GetAlignment(key)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Status == store.StatusReady {
			return rec, nil
		}
		if rec != nil && rec.Status == store.StatusFailed {
			return nil, fmt.Errorf("alignment build failed elsewhere: %s", rec.Error)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWaitTimeout, key)
}

// chapterPayload is one fetch of the three corpora for a chapter.
type chapterPayload struct {
	primary   *sefaria.TextResult
	tur       *sefaria.TextResult
	beitYosef *sefaria.TextResult
}

func (p *chapterPayload) hashes() map[corpus.ID]string {
	out := make(map[corpus.ID]string, 3)
	for id, res := range map[corpus.ID]*sefaria.TextResult{
		corpus.ShulchanAruch: p.primary,
		corpus.Tur:           p.tur,
		corpus.BeitYosef:     p.beitYosef,
	} {
		if res != nil {
			out[id] = chunker.ContentHash(strings.Join(res.RawHe, "\n"))
		}
	}
	return out
}

// fetchChapter pulls the chapter text for the primary and both secondary
// corpora. The primary is required; a missing secondary degrades to
// similarity-less empty alignment for that corpus.
func (e *Engine) fetchChapter(ctx context.Context, section corpus.Section, chapter int) (*chapterPayload, error) {
	loc := corpus.Location{Section: section, Chapter: chapter}
	primary, err := e.provider.FetchFragments(ctx, sefaria.BuildRef(corpus.ShulchanAruch, loc))
	if err != nil {
		return nil, fmt.Errorf("fetch primary chapter: %w", err)
	}
	payload := &chapterPayload{primary: primary}

	if tur, err := e.provider.FetchFragments(ctx, sefaria.BuildRef(corpus.Tur, loc)); err == nil {
		payload.tur = tur
	} else if !errors.Is(err, sefaria.ErrNotFound) {
		return nil, fmt.Errorf("fetch tur chapter: %w", err)
	}
	if by, err := e.provider.FetchFragments(ctx, sefaria.BuildRef(corpus.BeitYosef, loc)); err == nil {
		payload.beitYosef = by
	} else if !errors.Is(err, sefaria.ErrNotFound) {
		return nil, fmt.Errorf("fetch beit yosef chapter: %w", err)
	}
	return payload, nil
}

// build runs the full alignment procedure under a held lock.
func (e *Engine) build(ctx context.Context, section corpus.Section, chapter int, payload *chapterPayload) (*store.AlignmentRecord, error) {
	key := store.AlignmentKey(section, chapter)
	if payload == nil {
		var err error
		payload, err = e.fetchChapter(ctx, section, chapter)
		if err != nil {
			return nil, err
		}
	}

	paragraphs := partitionParagraphs(payload.primary.Fragments)
	turIndex := buildIndex(corpus.Tur, payload.tur)
	byIndex := buildIndex(corpus.BeitYosef, payload.beitYosef)

	rec := &store.AlignmentRecord{
		Key:          key,
		Section:      section,
		Chapter:      chapter,
		Status:       store.StatusBuilding,
		Version:      store.SchemaVersion,
		SourceHash:   payload.hashes(),
		ParagraphMap: make(map[string]store.ParagraphAlignment, len(paragraphs)),
	}

	nums := make([]int, 0, len(paragraphs))
	for n := range paragraphs {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	for _, para := range nums {
		text := paragraphs[para]
		loc := corpus.Location{Section: section, Chapter: chapter, Paragraph: para}
		linked, err := e.provider.FetchLinkedRefs(ctx, sefaria.BuildRef(corpus.ShulchanAruch, loc), section)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Link endpoint failure is survivable: similarity covers it.
			e.log.Warn("link fetch failed, falling back to similarity",
				zap.String("key", key), zap.Int("paragraph", para), zap.Error(err))
			linked = &sefaria.LinkedRefs{}
		}

		tur := alignOne(linked.Tur, turIndex, text)
		by := alignOne(linked.BeitYosef, byIndex, text)
		rec.ParagraphMap[strconv.Itoa(para)] = store.ParagraphAlignment{
			Tur:        tur,
			BeitYosef:  by,
			Confidence: round3((tur.Score + by.Score) / 2),
		}
	}

	if err := e.store.FinalizeAlignment(rec); err != nil {
		return nil, err
	}
	e.log.Info("alignment built",
		zap.String("key", key), zap.Int("paragraphs", len(rec.ParagraphMap)))
	return rec, nil
}

// alignOne resolves one paragraph against one secondary corpus: link-graph
// refs win outright with score 1; otherwise the similarity selection runs.
func alignOne(linkedRefs []string, index *similarity.Index, paragraphText string) store.RefSet {
	if len(linkedRefs) > 0 {
		return store.RefSet{Refs: linkedRefs, Mode: store.ModeLinked, Score: 1}
	}
	if index == nil || index.Len() == 0 {
		return store.RefSet{Mode: store.ModeNone}
	}
	matches, best := index.Select(paragraphText)
	if len(matches) == 0 {
		return store.RefSet{Mode: store.ModeNone}
	}
	refs := make([]string, len(matches))
	for i, m := range matches {
		refs[i] = m.Ref
	}
	return store.RefSet{Refs: refs, Mode: store.ModeSimilarity, Score: best}
}

// buildIndex chunks a secondary corpus under the adaptive alignment profile
// and indexes the chunks. Each chunk keeps its source fragment's ref, so a
// match selects provider refs.
func buildIndex(id corpus.ID, res *sefaria.TextResult) *similarity.Index {
	if res == nil || len(res.Fragments) == 0 {
		return nil
	}
	chunks := chunker.SplitForAlignment(id, res.Fragments)
	refs := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		refs[i] = ch.Ref
		texts[i] = ch.Text
	}
	return similarity.New(refs, texts)
}

// trailingParaRef matches provider refs of the shape
// "<book>, <section> <chapter>:<paragraph>[:<sub>]". This regex is the only
// place the system parses structure out of an opaque ref, and it is used
// only when a fragment carries no index path.
var trailingParaRef = regexp.MustCompile(`:(\d+)(?::\d+)?$`)

// partitionParagraphs groups the primary's fragments by paragraph number and
// concatenates their text. The paragraph is the first element of the leaf's
// 1-based index path; the ref regex is the fallback for pathless fragments.
func partitionParagraphs(fragments []corpus.Fragment) map[int]string {
	out := make(map[int]string)
	for _, frag := range fragments {
		para := 0
		if len(frag.Path) > 0 {
			para = frag.Path[0]
		} else if m := trailingParaRef.FindStringSubmatch(frag.Ref); m != nil {
			para, _ = strconv.Atoi(m[1])
		}
		if para == 0 {
			continue
		}
		if prev, ok := out[para]; ok {
			out[para] = prev + " " + frag.Text
		} else {
			out[para] = frag.Text
		}
	}
	return out
}

func hashesEqual(a, b map[corpus.ID]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
