// Package guide is the top of the pipeline: it resolves a request into per-
// corpus text, drives chunking, parallel explanation and summarization, and
// maintains the canonical guide cache with cross-process single-flight
// coordination, a progress counter, and cooperative cancellation.
package guide

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shiurgen/internal/chunker"
	"shiurgen/internal/config"
	"shiurgen/internal/corpus"
	"shiurgen/internal/explain"
	"shiurgen/internal/logging"
	"shiurgen/internal/sefaria"
	"shiurgen/internal/store"
	"shiurgen/internal/summary"
)

// errCancelled propagates a cancellation out of a corpus worker. It is an
// outcome, not a failure; the orchestrator translates it before returning.
var errCancelled = errors.New("guide: cancelled by client")

// Provider is the text-fetch surface the orchestrator consumes.
type Provider interface {
	FetchFragments(ctx context.Context, ref string) (*sefaria.TextResult, error)
}

// Aligner yields chapter alignments (implemented by alignment.Engine).
type Aligner interface {
	Get(ctx context.Context, section corpus.Section, chapter int) (*store.AlignmentRecord, error)
}

// Explainer memoizes chunk explanations (implemented by explain.Memoizer).
type Explainer interface {
	Explain(ctx context.Context, req explain.Request) (*explain.Result, error)
}

// Summarizer produces the consolidated summary (implemented by
// summary.Producer).
type Summarizer interface {
	Summarize(ctx context.Context, blocks []summary.CorpusBlock, preferredModel string) (*summary.Result, error)
}

// Outcome is the single discriminated result of a generation request.
type Outcome struct {
	Success   bool
	Cancelled bool
	Guide     *store.GuideRecord
	Chunks    []store.GuideChunk
	// Error is the user-facing Hebrew message, set only when Success and
	// Cancelled are both false.
	Error string
}

// Orchestrator wires the pipeline together. All collaborators are explicit
// dependencies constructed once at process start.
type Orchestrator struct {
	cfg        config.Config
	store      *store.Store
	provider   Provider
	aligner    Aligner
	explainer  Explainer
	summarizer Summarizer
	log        *zap.Logger
}

// NewOrchestrator assembles the pipeline.
func NewOrchestrator(cfg config.Config, st *store.Store, provider Provider, aligner Aligner, explainer Explainer, summarizer Summarizer) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		provider:   provider,
		aligner:    aligner,
		explainer:  explainer,
		summarizer: summarizer,
		log:        logging.Get(logging.CategoryGuide),
	}
}

// maxLockRounds bounds how many times a caller re-enters the canonical lock
// after exhausting a poll window on someone else's processing record.
const maxLockRounds = 2

// Generate serves one request: canonical cache first, full pipeline on miss.
func (o *Orchestrator) Generate(ctx context.Context, req Request) *Outcome {
	log := o.log.With(zap.String("request_id", uuid.NewString()))

	if err := req.Validate(); err != nil {
		log.Warn("invalid request", zap.Error(err))
		msg := MsgMissingIdentifiers
		if len(req.Corpora) == 0 {
			msg = MsgNoSourceSelected
		}
		return &Outcome{Error: msg}
	}

	fp := req.Fingerprint()
	log = log.With(zap.String("fingerprint", fp[:12]))

	skeleton := &store.GuideRecord{
		Fingerprint: fp,
		Section:     req.Section,
		Chapter:     req.Chapter,
		Paragraph:   req.Paragraph,
		Corpora:     req.SortedCorpora(),
	}

	for round := 0; round < maxLockRounds; round++ {
		outcome, cur, err := o.store.TryLockGuide(skeleton, o.cfg.LLM.Timeouts.CanonicalStale)
		if err != nil {
			log.Error("canonical lock transaction failed", zap.Error(err))
			return &Outcome{Error: MsgUnexpected}
		}
		switch outcome {
		case store.GuideReady:
			return o.loadReady(cur, log)
		case store.GuideProcessing:
			if ready := o.awaitGuide(ctx, fp); ready != nil {
				return o.loadReady(ready, log)
			}
			// Poll window exhausted; next round may steal a stale lock.
		case store.GuideAcquired:
			return o.build(ctx, req, fp, log)
		}
	}
	log.Warn("gave up waiting on another caller's build")
	return &Outcome{Error: MsgUnexpected}
}

// Load returns a previously generated guide without triggering generation,
// or nil when none is ready.
func (o *Orchestrator) Load(fingerprint string) (*Outcome, error) {
	rec, err := o.store.GetGuide(fingerprint)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Status != store.StatusReady {
		return nil, nil
	}
	return o.loadReady(rec, o.log), nil
}

func (o *Orchestrator) loadReady(rec *store.GuideRecord, log *zap.Logger) *Outcome {
	chunks, err := o.store.GetGuideChunks(rec.Fingerprint)
	if err != nil {
		log.Error("loading chunk sub-records failed", zap.Error(err))
		return &Outcome{Error: MsgUnexpected}
	}
	return &Outcome{Success: true, Guide: rec, Chunks: chunks}
}

// awaitGuide polls another caller's processing record; returns the ready
// record or nil when the window closes.
func (o *Orchestrator) awaitGuide(ctx context.Context, fp string) *store.GuideRecord {
	for i := 0; i < o.cfg.LLM.Timeouts.CanonicalPollAttempts; i++ {
		select {
		case <-time.After(o.cfg.LLM.Timeouts.CanonicalPoll):
		case <-ctx.Done():
			return nil
		}
		rec, err := o.store.GetGuide(fp)
		if err != nil || rec == nil {
			return nil
		}
		if rec.Status == store.StatusReady {
			return rec
		}
		if rec.Status == store.StatusFailed {
			return nil
		}
	}
	return nil
}

// corpusMaterial is one corpus's prepared input: explanation-profile chunks
// in reading order.
type corpusMaterial struct {
	id     corpus.ID
	chunks []corpus.Chunk
}

// build runs the pipeline under a held canonical lock. A heartbeat keeps
// the claim fresh for builds that outlast the staleness window.
func (o *Orchestrator) build(ctx context.Context, req Request, fp string, log *zap.Logger) *Outcome {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go o.heartbeat(hbCtx, fp)

	material, companion, err := o.collect(ctx, req, log)
	if err != nil {
		log.Error("collecting corpus material failed", zap.Error(err))
		o.failGuide(fp, err.Error(), log)
		return &Outcome{Error: MsgUnexpected}
	}

	total := 0
	for _, m := range material {
		total += len(m.chunks)
	}
	if total == 0 {
		o.failGuide(fp, "no corpus returned content", log)
		return &Outcome{Error: MsgNoContent}
	}

	// Model tier: long requests drop to the cost tier when batch mode is on.
	tier := o.cfg.LLM.PrimaryModel
	if o.cfg.LLM.UseBatch && total > o.cfg.LLM.BatchThreshold {
		tier = o.cfg.LLM.CostModel
	}

	if err := o.store.InitProgress(fp, total); err != nil {
		log.Error("progress init failed", zap.Error(err))
	}

	// One worker per corpus; chunks run sequentially inside a worker so each
	// call carries the previous chunk's text and explanation.
	results := make([][]store.GuideChunk, len(material))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range material {
		g.Go(func() error {
			chunks, err := o.explainCorpus(gctx, req, fp, m, companion, tier)
			if err != nil {
				return err
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, errCancelled) {
			log.Info("generation cancelled by client")
			o.failGuide(fp, "cancelled", log)
			return &Outcome{Cancelled: true}
		}
		log.Error("corpus worker failed", zap.Error(err))
		o.failGuide(fp, err.Error(), log)
		return &Outcome{Error: MsgUnexpected}
	}

	var allChunks []store.GuideChunk
	allValidated := true
	blocks := make([]summary.CorpusBlock, 0, len(material)+1)
	for i, m := range material {
		texts := make([]string, 0, len(results[i]))
		for _, ch := range results[i] {
			allChunks = append(allChunks, ch)
			texts = append(texts, ch.Explanation)
			if !ch.Validated {
				allValidated = false
			}
		}
		if len(texts) > 0 {
			blocks = append(blocks, summary.CorpusBlock{Corpus: m.id, Explanations: texts})
		}
	}
	if companion != "" && req.Has(corpus.MishnahBerurah) {
		blocks = append(blocks, summary.CorpusBlock{
			Corpus:       corpus.MishnahBerurah,
			Explanations: []string{companion},
		})
	}

	sum, err := o.summarizer.Summarize(ctx, blocks, tier)
	if err != nil {
		log.Error("summary failed", zap.Error(err))
		o.failGuide(fp, err.Error(), log)
		return &Outcome{Error: MsgUnexpected}
	}

	rec := &store.GuideRecord{
		Fingerprint:  fp,
		Status:       store.StatusReady,
		Section:      req.Section,
		Chapter:      req.Chapter,
		Paragraph:    req.Paragraph,
		Corpora:      req.SortedCorpora(),
		SummaryText:  sum.Summary,
		SummaryModel: sum.ModelUsed,
		Validated:    allValidated && sum.Validated,
		Version:      store.SchemaVersion,
	}
	if err := o.store.FinalizeGuide(rec, allChunks); err != nil {
		// The in-memory result is still good for this caller; future
		// callers see failed until a retry overwrites.
		log.Error("terminal write failed", zap.Error(err))
		o.failGuide(fp, "cache_write_failed", log)
		return &Outcome{Success: true, Guide: rec, Chunks: allChunks}
	}
	if err := o.store.FinishProgress(fp); err != nil {
		log.Warn("progress finish failed", zap.Error(err))
	}
	return &Outcome{Success: true, Guide: rec, Chunks: allChunks}
}

// heartbeat bumps the processing record's updated_at while a build runs, so
// concurrent callers keep deferring instead of judging the claim abandoned.
func (o *Orchestrator) heartbeat(ctx context.Context, fp string) {
	ticker := time.NewTicker(o.cfg.LLM.Timeouts.CanonicalStale / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.store.TouchGuide(fp); err != nil {
				o.log.Warn("guide heartbeat failed", zap.Error(err))
			}
		}
	}
}

// explainCorpus runs one corpus's chunks in order, polling the external
// cancellation flag between every few chunks.
func (o *Orchestrator) explainCorpus(ctx context.Context, req Request, fp string, m corpusMaterial, companion string, tier string) ([]store.GuideChunk, error) {
	interval := o.cfg.Limits.CancellationCheckInterval
	out := make([]store.GuideChunk, 0, len(m.chunks))
	prevText, prevExpl := "", ""
	for i, ch := range m.chunks {
		if i%interval == 0 {
			cancelled, err := o.store.IsCancelled(fp)
			if err != nil {
				return nil, err
			}
			if cancelled {
				return nil, errCancelled
			}
		}
		res, err := o.explainer.Explain(ctx, explain.Request{
			Key: store.ExplanationKey{
				Section:   req.Section,
				Chapter:   req.Chapter,
				Paragraph: req.Paragraph,
				Corpus:    m.id,
				Ordinal:   i + 1,
			},
			Chunk:           ch,
			PrevText:        prevText,
			PrevExplanation: prevExpl,
			CompanionText:   companion,
			PreferredModel:  tier,
		})
		if err != nil {
			return nil, fmt.Errorf("explain %s chunk %d: %w", m.id, i+1, err)
		}
		prevText, prevExpl = ch.Text, res.Explanation
		out = append(out, store.GuideChunk{
			Fingerprint: fp,
			Corpus:      m.id,
			Ordinal:     i + 1,
			ChunkID:     ch.ID,
			RawText:     ch.Text,
			Explanation: res.Explanation,
			ModelName:   res.ModelUsed,
			Validated:   res.Validated,
		})
		if err := o.store.StepProgress(fp); err != nil {
			o.log.Warn("progress step failed", zap.Error(err))
		}
	}
	return out, nil
}

// collect prepares the chunked material per requested corpus, and the
// companion text when the later commentary participates.
func (o *Orchestrator) collect(ctx context.Context, req Request, log *zap.Logger) ([]corpusMaterial, string, error) {
	loc := corpus.Location{Section: req.Section, Chapter: req.Chapter, Paragraph: req.Paragraph}
	var material []corpusMaterial
	companion := ""

	for _, id := range req.SortedCorpora() {
		switch id {
		case corpus.ShulchanAruch:
			frags, err := o.fetchDirect(ctx, id, loc, log)
			if err != nil {
				return nil, "", err
			}
			material = append(material, corpusMaterial{id: id, chunks: o.chunk(id, frags, log)})

		case corpus.MishnahBerurah:
			// Companion only: its text informs the primary's explanations
			// and the summary, but it is never explained on its own.
			frags, err := o.fetchDirect(ctx, id, loc, log)
			if err != nil {
				return nil, "", err
			}
			var texts []string
			for _, f := range frags {
				texts = append(texts, f.Text)
			}
			companion = strings.Join(texts, "\n")

		case corpus.Tur:
			frags, err := o.fetchTur(ctx, req, log)
			if err != nil {
				return nil, "", err
			}
			material = append(material, corpusMaterial{id: id, chunks: o.chunk(id, frags, log)})

		case corpus.BeitYosef:
			frags, err := o.fetchBeitYosef(ctx, req, log)
			if err != nil {
				return nil, "", err
			}
			material = append(material, corpusMaterial{id: id, chunks: o.chunk(id, frags, log)})
		}
	}
	return material, companion, nil
}

// fetchDirect pulls a corpus by its exact qualified ref. A missing ref is
// not fatal: the guide continues with fewer corpora.
func (o *Orchestrator) fetchDirect(ctx context.Context, id corpus.ID, loc corpus.Location, log *zap.Logger) ([]corpus.Fragment, error) {
	res, err := o.provider.FetchFragments(ctx, sefaria.BuildRef(id, loc))
	if err != nil {
		if errors.Is(err, sefaria.ErrNotFound) {
			log.Warn("corpus has no text at location",
				zap.String("corpus", string(id)), zap.String("location", loc.String()))
			return nil, nil
		}
		return nil, err
	}
	return res.Fragments, nil
}

// fetchTur resolves the predecessor code through the alignment engine. With
// link-graph alignment it first attempts paragraph slicing of a monolithic
// chapter; otherwise the aligned refs are fetched one by one.
func (o *Orchestrator) fetchTur(ctx context.Context, req Request, log *zap.Logger) ([]corpus.Fragment, error) {
	pa, err := o.paragraphAlignment(ctx, req)
	if err != nil {
		return nil, err
	}
	if pa == nil || len(pa.Tur.Refs) == 0 {
		return nil, nil
	}
	// Boundary slicing targets a single paragraph; whole-chapter requests
	// take the aligned refs as-is.
	if pa.Tur.Mode == store.ModeLinked && req.Paragraph > 0 {
		if frags := o.sliceTur(ctx, req, pa, log); len(frags) > 0 {
			return frags, nil
		}
	}
	return o.fetchRefList(ctx, pa.Tur.Refs, log)
}

// fetchBeitYosef uses aligned refs only when the link graph vouched for
// them; similarity-mode alignments for the compendium are too loose to
// explain.
func (o *Orchestrator) fetchBeitYosef(ctx context.Context, req Request, log *zap.Logger) ([]corpus.Fragment, error) {
	pa, err := o.paragraphAlignment(ctx, req)
	if err != nil {
		return nil, err
	}
	if pa == nil || pa.BeitYosef.Mode != store.ModeLinked || len(pa.BeitYosef.Refs) == 0 {
		return nil, nil
	}
	return o.fetchRefList(ctx, pa.BeitYosef.Refs, log)
}

func (o *Orchestrator) paragraphAlignment(ctx context.Context, req Request) (*store.ParagraphAlignment, error) {
	rec, err := o.aligner.Get(ctx, req.Section, req.Chapter)
	if err != nil {
		return nil, fmt.Errorf("alignment for %s %d: %w", req.Section, req.Chapter, err)
	}
	if req.Paragraph == 0 {
		return chapterAlignment(rec), nil
	}
	pa, ok := rec.ParagraphMap[strconv.Itoa(req.Paragraph)]
	if !ok {
		return nil, nil
	}
	return &pa, nil
}

// chapterAlignment merges the whole chapter's ref sets for paragraph-less
// requests: refs in paragraph order, duplicates dropped. Compendium refs are
// kept only from link-graph paragraphs, same as the per-paragraph policy.
func chapterAlignment(rec *store.AlignmentRecord) *store.ParagraphAlignment {
	nums := make([]int, 0, len(rec.ParagraphMap))
	for k := range rec.ParagraphMap {
		if n, err := strconv.Atoi(k); err == nil {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	merged := &store.ParagraphAlignment{
		Tur:       store.RefSet{Mode: store.ModeNone},
		BeitYosef: store.RefSet{Mode: store.ModeNone},
	}
	seenTur := map[string]bool{}
	seenBY := map[string]bool{}
	for _, n := range nums {
		pa := rec.ParagraphMap[strconv.Itoa(n)]
		for _, ref := range pa.Tur.Refs {
			if seenTur[ref] {
				continue
			}
			seenTur[ref] = true
			merged.Tur.Refs = append(merged.Tur.Refs, ref)
		}
		if len(pa.Tur.Refs) > 0 && merged.Tur.Mode == store.ModeNone {
			merged.Tur.Mode = pa.Tur.Mode
		}
		if pa.BeitYosef.Mode != store.ModeLinked {
			continue
		}
		for _, ref := range pa.BeitYosef.Refs {
			if seenBY[ref] {
				continue
			}
			seenBY[ref] = true
			merged.BeitYosef.Refs = append(merged.BeitYosef.Refs, ref)
		}
		merged.BeitYosef.Mode = store.ModeLinked
	}
	return merged
}

// sliceTur attempts the tighter paragraph slice: against a monolithic
// chapter leaf, the compendium's linked passages of this and the next
// paragraph supply boundary markers.
func (o *Orchestrator) sliceTur(ctx context.Context, req Request, pa *store.ParagraphAlignment, log *zap.Logger) []corpus.Fragment {
	chapterRes, err := o.provider.FetchFragments(ctx,
		sefaria.BuildRef(corpus.Tur, corpus.Location{Section: req.Section, Chapter: req.Chapter}))
	if err != nil || len(chapterRes.Fragments) != 1 {
		// Not monolithic (or unreachable): no slicing needed or possible.
		return nil
	}
	monolith := chapterRes.Fragments[0].Text

	startMarker := o.boundaryMarker(ctx, pa.BeitYosef.Refs)
	endMarker := ""
	if next, err := o.paragraphAlignment(ctx, Request{
		Section: req.Section, Chapter: req.Chapter, Paragraph: req.Paragraph + 1,
		Corpora: req.Corpora,
	}); err == nil && next != nil {
		endMarker = o.boundaryMarker(ctx, next.BeitYosef.Refs)
	}

	segment, ok := SliceBetween(monolith, startMarker, endMarker)
	if !ok {
		log.Debug("paragraph slicing found no boundaries",
			zap.Int("chapter", req.Chapter), zap.Int("paragraph", req.Paragraph))
		return nil
	}
	return []corpus.Fragment{{Ref: pa.Tur.Refs[0], Text: segment}}
}

// boundaryMarker fetches the first linked compendium passage and derives its
// opening-words marker.
func (o *Orchestrator) boundaryMarker(ctx context.Context, refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	res, err := o.provider.FetchFragments(ctx, refs[0])
	if err != nil || len(res.Fragments) == 0 {
		return ""
	}
	return BoundaryMarker(res.Fragments[0].Text)
}

// fetchRefList pulls each aligned ref; unreachable refs are skipped.
func (o *Orchestrator) fetchRefList(ctx context.Context, refs []string, log *zap.Logger) ([]corpus.Fragment, error) {
	var out []corpus.Fragment
	for _, ref := range refs {
		res, err := o.provider.FetchFragments(ctx, ref)
		if err != nil {
			if errors.Is(err, sefaria.ErrNotFound) {
				log.Warn("aligned ref unavailable", zap.String("ref", ref))
				continue
			}
			return nil, err
		}
		out = append(out, res.Fragments...)
	}
	return out, nil
}

// chunk applies the explanation profile and the per-corpus cap.
func (o *Orchestrator) chunk(id corpus.ID, frags []corpus.Fragment, log *zap.Logger) []corpus.Chunk {
	chunks := chunker.Split(id, frags, chunker.ExplanationProfile())
	if limit := o.cfg.Limits.MaxChunksPerSource; len(chunks) > limit {
		log.Warn("chunk cap reached, truncating corpus",
			zap.String("corpus", string(id)),
			zap.Int("total", len(chunks)), zap.Int("cap", limit))
		chunks = chunks[:limit]
	}
	return chunks
}

func (o *Orchestrator) failGuide(fp, reason string, log *zap.Logger) {
	if err := o.store.FailGuide(fp, reason); err != nil {
		log.Error("could not mark guide failed", zap.Error(err))
	}
}
