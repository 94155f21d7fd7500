// Package explain memoizes per-chunk explanations. Each call either serves a
// prior explanation from the persistent store or invokes the model cascade,
// validates the output as Hebrew, repairs it once if needed, and writes the
// result back under both the structured key and the legacy opaque keys.
package explain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"shiurgen/internal/chunker"
	"shiurgen/internal/config"
	"shiurgen/internal/corpus"
	"shiurgen/internal/hebrew"
	"shiurgen/internal/llm"
	"shiurgen/internal/logging"
	"shiurgen/internal/store"
)

// Request is one explanation call.
type Request struct {
	Key   store.ExplanationKey
	Chunk corpus.Chunk

	// PrevText / PrevExplanation carry the N-1 context: the previous chunk's
	// raw text and its explanation. Both empty on the first chunk.
	PrevText        string
	PrevExplanation string

	// CompanionText is the later commentary covering the same paragraph.
	// Supplied only when the corpus is the primary.
	CompanionText string

	// PreferredModel heads the candidate cascade for this call.
	PreferredModel string
}

// Result reports one explanation outcome.
type Result struct {
	Explanation   string
	ModelUsed     string
	CacheHit      bool
	PromptVersion string
	Validated     bool
	Duration      time.Duration
}

// Memoizer coordinates cache lookup, generation and write-back.
type Memoizer struct {
	store    *store.Store
	gen      llm.Generator
	llmCfg   config.LLMConfig
	minRatio float64
	log      *zap.Logger
}

// New creates a memoizer over the shared store and generator.
func New(st *store.Store, gen llm.Generator, llmCfg config.LLMConfig, minRatio float64) *Memoizer {
	return &Memoizer{
		store:    st,
		gen:      gen,
		llmCfg:   llmCfg,
		minRatio: minRatio,
		log:      logging.Get(logging.CategoryExplain),
	}
}

// Explain serves one chunk, cache-first.
func (m *Memoizer) Explain(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	// 1. Structured key.
	rec, err := m.store.GetExplanation(req.Key)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.ContentHash == req.Chunk.ContentHash && rec.PromptVersion == PromptVersion {
		return &Result{
			Explanation:   rec.Explanation,
			ModelUsed:     rec.ModelName,
			CacheHit:      true,
			PromptVersion: rec.PromptVersion,
			Validated:     rec.Validated,
			Duration:      time.Since(start),
		}, nil
	}

	// 2. Legacy opaque keys, probed per candidate model; a hit migrates into
	// the structured key.
	for _, model := range m.candidates(req.PreferredModel) {
		legacy, err := m.store.GetLegacyExplanation(LegacyKey(req.Key.Corpus, req.Chunk.Ref, req.Key.Ordinal, req.Chunk.ContentHash, model))
		if err != nil {
			return nil, err
		}
		if legacy == nil {
			continue
		}
		migrated := &store.ExplanationRecord{
			Key:           req.Key,
			RawText:       req.Chunk.Text,
			Explanation:   legacy.Explanation,
			ContentHash:   req.Chunk.ContentHash,
			ModelName:     legacy.ModelName,
			PromptVersion: PromptVersion,
			Validated:     hebrew.Ratio(legacy.Explanation) >= m.minRatio,
			CreatedAt:     legacy.CreatedAt,
		}
		if err := m.store.MigrateLegacyExplanation(migrated); err != nil {
			return nil, err
		}
		m.log.Debug("legacy cache hit migrated",
			zap.String("corpus", string(req.Key.Corpus)),
			zap.Int("ordinal", req.Key.Ordinal))
		return &Result{
			Explanation:   legacy.Explanation,
			ModelUsed:     legacy.ModelName,
			CacheHit:      true,
			PromptVersion: PromptVersion,
			Validated:     migrated.Validated,
			Duration:      time.Since(start),
		}, nil
	}

	// 3. Full miss: generate.
	return m.generate(ctx, req, start)
}

func (m *Memoizer) generate(ctx context.Context, req Request, start time.Time) (*Result, error) {
	label := corpus.Meta(req.Key.Corpus).Label
	companion := ""
	if req.Key.Corpus == corpus.ShulchanAruch {
		companion = req.CompanionText
	}
	prompt := BuildExplanationPrompt(label, req.Chunk.Text, req.PrevText, req.PrevExplanation, companion)

	res, err := llm.Call(ctx, m.gen, prompt, llm.CallOptions{
		Candidates: m.candidates(req.PreferredModel),
		MaxRetries: 3,
		Timeout:    m.llmCfg.Timeouts.Explanation,
	})
	if err != nil {
		return nil, fmt.Errorf("explanation generation: %w", err)
	}

	text := res.Text
	validated := m.validate(text)
	if !validated {
		text, validated = m.repair(ctx, text, res.Model)
	}

	rec := &store.ExplanationRecord{
		Key:           req.Key,
		RawText:       req.Chunk.Text,
		Explanation:   text,
		ContentHash:   req.Chunk.ContentHash,
		ModelName:     res.Model,
		PromptVersion: PromptVersion,
		Validated:     validated,
	}
	if err := m.store.PutExplanation(rec); err != nil {
		return nil, err
	}

	// Forward deflection: legacy keys for the model that answered and for
	// the originally preferred model, so legacy-style lookups hit either way.
	usedKey := LegacyKey(req.Key.Corpus, req.Chunk.Ref, req.Key.Ordinal, req.Chunk.ContentHash, res.Model)
	if err := m.store.PutLegacyExplanation(usedKey, text, res.Model); err != nil {
		return nil, err
	}
	if req.PreferredModel != "" && req.PreferredModel != res.Model {
		prefKey := LegacyKey(req.Key.Corpus, req.Chunk.Ref, req.Key.Ordinal, req.Chunk.ContentHash, req.PreferredModel)
		if err := m.store.PutLegacyExplanation(prefKey, text, res.Model); err != nil {
			return nil, err
		}
	}

	return &Result{
		Explanation:   text,
		ModelUsed:     res.Model,
		CacheHit:      false,
		PromptVersion: PromptVersion,
		Validated:     validated,
		Duration:      time.Since(start),
	}, nil
}

// repair runs one repair round against the model that produced the invalid
// output. The last output wins, with whatever validation flag it earns.
func (m *Memoizer) repair(ctx context.Context, invalid, model string) (string, bool) {
	res, err := llm.Call(ctx, m.gen, BuildRepairPrompt(invalid), llm.CallOptions{
		Candidates: []string{model},
		MaxRetries: 2,
		Timeout:    m.llmCfg.Timeouts.ExplanationRepair,
	})
	if err != nil {
		m.log.Warn("repair round failed, keeping invalid output", zap.Error(err))
		return invalid, false
	}
	return res.Text, m.validate(res.Text)
}

func (m *Memoizer) validate(text string) bool {
	return strings.TrimSpace(text) != "" && hebrew.Ratio(text) >= m.minRatio
}

// candidates orders the cascade: preferred first, then the cost and fallback
// tiers, deduplicated.
func (m *Memoizer) candidates(preferred string) []string {
	raw := []string{preferred, m.llmCfg.CostModel, m.llmCfg.FallbackModel}
	if preferred == "" {
		raw[0] = m.llmCfg.PrimaryModel
	}
	seen := make(map[string]struct{}, len(raw))
	out := raw[:0]
	for _, c := range raw {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// LegacyKey is the opaque cache key of the pre-structured store:
// a strong hash over corpus, canonical ref, ordinal, content hash, prompt
// version and model name.
func LegacyKey(id corpus.ID, refCanonical string, ordinal int, contentHash, model string) string {
	return chunker.ContentHash(fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		id, refCanonical, ordinal, contentHash, PromptVersion, model))
}
