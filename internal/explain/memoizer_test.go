package explain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"shiurgen/internal/chunker"
	"shiurgen/internal/config"
	"shiurgen/internal/corpus"
	"shiurgen/internal/store"
)

// queueGenerator pops canned outcomes in call order regardless of model.
type queueGenerator struct {
	mu      sync.Mutex
	queue   []any // string or error
	calls   int
	prompts []string
	models  []string
}

func (g *queueGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.models = append(g.models, model)
	if len(g.queue) == 0 {
		return "", fmt.Errorf("unscripted generator call")
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	switch v := next.(type) {
	case string:
		return v, nil
	case error:
		return "", v
	}
	return "", fmt.Errorf("bad queue entry")
}

func (g *queueGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testLLMConfig() config.LLMConfig {
	cfg := config.DefaultLLM()
	cfg.PrimaryModel = "pro"
	cfg.CostModel = "flash"
	cfg.FallbackModel = "lite"
	return cfg
}

func newTestMemoizer(t *testing.T, gen *queueGenerator) (*Memoizer, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, gen, testLLMConfig(), 0.7), st
}

const chunkText = "חייב אדם לברך על הרעה כשם שמברך על הטובה"
const validExplanation = "**חייב אדם לברך** כלומר כל יהודי מחויב לומר ברכה והודאה על הרעה ואפילו על דבר רע שאירע לו"

func testRequest() Request {
	return Request{
		Key: store.ExplanationKey{
			Section:   corpus.OrachChayim,
			Chapter:   24,
			Paragraph: 1,
			Corpus:    corpus.ShulchanAruch,
			Ordinal:   1,
		},
		Chunk: corpus.Chunk{
			ID:          "shulchan_aruch_x_1_chunk_1",
			Text:        chunkText,
			ContentHash: chunker.ContentHash(chunkText),
			Ref:         "Shulchan Arukh, Orach Chayim 24:1",
			Path:        []int{1},
		},
	}
}

func TestExplainGeneratesAndMemoizes(t *testing.T) {
	gen := &queueGenerator{queue: []any{validExplanation}}
	m, _ := newTestMemoizer(t, gen)

	res, err := m.Explain(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if res.CacheHit {
		t.Error("first call must be a miss")
	}
	if res.Explanation != validExplanation || !res.Validated {
		t.Errorf("result = %+v", res)
	}
	if res.ModelUsed != "pro" {
		t.Errorf("model = %q, want primary", res.ModelUsed)
	}

	// Second identical call: served from the store, no generator traffic.
	res2, err := m.Explain(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !res2.CacheHit {
		t.Error("second call must hit")
	}
	if res2.Explanation != validExplanation {
		t.Errorf("cached explanation = %q", res2.Explanation)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator called %d times, want 1", gen.callCount())
	}
}

func TestExplainContentChangeInvalidates(t *testing.T) {
	gen := &queueGenerator{queue: []any{validExplanation, "ביאור חדש לנוסח החדש של הסעיף"}}
	m, _ := newTestMemoizer(t, gen)

	if _, err := m.Explain(context.Background(), testRequest()); err != nil {
		t.Fatal(err)
	}

	req := testRequest()
	req.Chunk.Text = chunkText + " ובשמחה"
	req.Chunk.ContentHash = chunker.ContentHash(req.Chunk.Text)
	res, err := m.Explain(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("changed content hash must force regeneration")
	}
	if gen.callCount() != 2 {
		t.Errorf("generator called %d times, want 2", gen.callCount())
	}
}

func TestExplainLegacyHitMigrates(t *testing.T) {
	gen := &queueGenerator{}
	m, st := newTestMemoizer(t, gen)
	req := testRequest()

	// Seed the legacy collection under the cost-tier model key.
	key := LegacyKey(req.Key.Corpus, req.Chunk.Ref, req.Key.Ordinal, req.Chunk.ContentHash, "flash")
	if err := st.PutLegacyExplanation(key, validExplanation, "flash"); err != nil {
		t.Fatal(err)
	}

	res, err := m.Explain(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.CacheHit || res.ModelUsed != "flash" {
		t.Errorf("legacy probe failed: %+v", res)
	}
	if gen.callCount() != 0 {
		t.Error("legacy hit must not touch the generator")
	}

	// Migration landed: the structured key now answers directly.
	rec, err := st.GetExplanation(req.Key)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Explanation != validExplanation || rec.PromptVersion != PromptVersion {
		t.Errorf("migrated record = %+v", rec)
	}
}

func TestExplainForwardDeflection(t *testing.T) {
	// Cascade answers on the fallback while "pro" was preferred: both legacy
	// keys must point at the result.
	gen := &queueGenerator{queue: []any{
		errors.New("googleapi: Error 429: quota"),
		validExplanation,
	}}
	m, st := newTestMemoizer(t, gen)
	req := testRequest()
	req.PreferredModel = "pro"

	res, err := m.Explain(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.ModelUsed != "flash" {
		t.Fatalf("model = %q, want cascade to flash", res.ModelUsed)
	}

	for _, model := range []string{"flash", "pro"} {
		key := LegacyKey(req.Key.Corpus, req.Chunk.Ref, req.Key.Ordinal, req.Chunk.ContentHash, model)
		legacy, err := st.GetLegacyExplanation(key)
		if err != nil {
			t.Fatal(err)
		}
		if legacy == nil || legacy.Explanation != validExplanation {
			t.Errorf("legacy key for %q not deflected: %+v", model, legacy)
		}
	}
}

func TestExplainRepairRound(t *testing.T) {
	// First output fails the Hebrew ratio check; the repair pass fixes it.
	gen := &queueGenerator{queue: []any{
		"This explanation is mostly English and must be rejected",
		validExplanation,
	}}
	m, _ := newTestMemoizer(t, gen)

	res, err := m.Explain(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Validated {
		t.Error("repaired output should validate")
	}
	if res.Explanation != validExplanation {
		t.Errorf("explanation = %q", res.Explanation)
	}
	if gen.callCount() != 2 {
		t.Errorf("generator called %d times, want generate+repair", gen.callCount())
	}
	// Repair targets the model that produced the invalid output.
	gen.mu.Lock()
	repairModel := gen.models[1]
	gen.mu.Unlock()
	if repairModel != "pro" {
		t.Errorf("repair model = %q, want pro", repairModel)
	}
}

func TestExplainRepairFailureKeepsInvalid(t *testing.T) {
	bad := "Still English after all these years"
	gen := &queueGenerator{queue: []any{
		bad,
		errors.New("invalid argument"), // repair attempt fails outright
	}}
	m, st := newTestMemoizer(t, gen)

	res, err := m.Explain(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Validated {
		t.Error("unrepaired output must stay unvalidated")
	}
	if res.Explanation != bad {
		t.Errorf("explanation = %q, want the invalid text kept", res.Explanation)
	}
	// The unvalidated record is still written, flagged.
	rec, err := st.GetExplanation(testRequest().Key)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Validated {
		t.Errorf("stored record = %+v, want unvalidated", rec)
	}
}

func TestExplainCompanionOnlyForPrimary(t *testing.T) {
	gen := &queueGenerator{queue: []any{validExplanation, validExplanation}}
	m, _ := newTestMemoizer(t, gen)

	req := testRequest()
	req.CompanionText = "דברי המשנה ברורה על הסעיף"
	if _, err := m.Explain(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	turReq := testRequest()
	turReq.Key.Corpus = corpus.Tur
	turReq.Chunk.Ref = "Tur, Orach Chayim 24"
	turReq.CompanionText = "דברי המשנה ברורה על הסעיף"
	if _, err := m.Explain(context.Background(), turReq); err != nil {
		t.Fatal(err)
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if !strings.Contains(gen.prompts[0], "דברי המשנה ברורה") {
		t.Error("primary prompt must carry the companion text")
	}
	if strings.Contains(gen.prompts[1], "דברי המשנה ברורה") {
		t.Error("secondary corpora must not receive companion text")
	}
}

func TestExplainPrevContextThreaded(t *testing.T) {
	gen := &queueGenerator{queue: []any{validExplanation}}
	m, _ := newTestMemoizer(t, gen)

	req := testRequest()
	req.PrevText = "הסעיף הקודם"
	req.PrevExplanation = "ביאור הסעיף הקודם"
	if _, err := m.Explain(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	gen.mu.Lock()
	defer gen.mu.Unlock()
	if !strings.Contains(gen.prompts[0], "הסעיף הקודם") {
		t.Error("prompt must carry the previous chunk context")
	}
}

func TestLegacyKeyDeterministic(t *testing.T) {
	a := LegacyKey(corpus.Tur, "Tur, Orach Chayim 24", 2, "abc", "pro")
	b := LegacyKey(corpus.Tur, "Tur, Orach Chayim 24", 2, "abc", "pro")
	c := LegacyKey(corpus.Tur, "Tur, Orach Chayim 24", 2, "abc", "flash")
	if a != b {
		t.Error("legacy key must be deterministic")
	}
	if a == c {
		t.Error("model name must participate in the key")
	}
}
