// Package summary consolidates the per-corpus explanations of one guide into
// a single structured Hebrew summary, with the same model cascade and repair
// discipline as the explanation memoizer.
package summary

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"shiurgen/internal/config"
	"shiurgen/internal/hebrew"
	"shiurgen/internal/llm"
	"shiurgen/internal/logging"
)

// Result is one summary outcome. When validation failed even after the
// repair round, Validated is false and ValidationErrors names the problems;
// this is a display signal, not an error.
type Result struct {
	Summary          string
	ModelUsed        string
	Validated        bool
	ValidationErrors []string
}

// Producer builds summaries.
type Producer struct {
	gen      llm.Generator
	llmCfg   config.LLMConfig
	minRatio float64
	log      *zap.Logger
}

// New creates a producer.
func New(gen llm.Generator, llmCfg config.LLMConfig, minRatio float64) *Producer {
	return &Producer{
		gen:      gen,
		llmCfg:   llmCfg,
		minRatio: minRatio,
		log:      logging.Get(logging.CategorySummary),
	}
}

// metaPreambles are line openers the model tends to emit despite
// instructions. Lines starting with any of these, among the first five
// non-empty lines, are stripped.
var metaPreambles = []string{
	"הנה",
	"להלן",
	"סיכום מתוקן",
	"ניסוח מחדש",
	"זהו הסיכום",
	"בוודאי",
	"כמבוקש",
	"Here is",
	"Behold",
	"Corrected summary",
	"Rephrased",
}

// Summarize runs the combined call. preferredModel heads the cascade; empty
// means the configured primary tier.
func (p *Producer) Summarize(ctx context.Context, blocks []CorpusBlock, preferredModel string) (*Result, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no corpus material to summarize")
	}
	if preferredModel == "" {
		preferredModel = p.llmCfg.PrimaryModel
	}
	prompt := BuildSummaryPrompt(blocks)

	res, err := llm.Call(ctx, p.gen, prompt, llm.CallOptions{
		Candidates: []string{preferredModel, p.llmCfg.CostModel, p.llmCfg.FallbackModel},
		MaxRetries: 3,
		Timeout:    p.llmCfg.Timeouts.Summary,
	})
	if err != nil {
		return nil, fmt.Errorf("summary generation: %w", err)
	}

	text := StripPreamble(res.Text)
	problems := p.validate(text)
	model := res.Model
	if len(problems) > 0 {
		p.log.Info("summary failed validation, repairing",
			zap.Strings("problems", problems))
		repaired, rerr := llm.Call(ctx, p.gen, BuildRepairPrompt(text, problems), llm.CallOptions{
			Candidates: []string{model},
			MaxRetries: 2,
			Timeout:    p.llmCfg.Timeouts.SummaryRepair,
		})
		if rerr == nil {
			text = StripPreamble(repaired.Text)
			problems = p.validate(text)
		} else {
			p.log.Warn("summary repair failed, keeping last output", zap.Error(rerr))
		}
	}

	return &Result{
		Summary:          text,
		ModelUsed:        model,
		Validated:        len(problems) == 0,
		ValidationErrors: problems,
	}, nil
}

// StripPreamble removes meta-preamble lines from the head of the output.
// Only the first five non-empty lines are examined; matching lines are
// dropped entirely.
func StripPreamble(text string) string {
	lines := strings.Split(text, "\n")
	examined := 0
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && examined < 5 {
			examined++
			if hasPreamble(trimmed) {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func hasPreamble(line string) bool {
	for _, p := range metaPreambles {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func (p *Producer) validate(text string) []string {
	var problems []string
	if strings.TrimSpace(text) == "" {
		return []string{"empty summary"}
	}
	if hebrew.Ratio(text) < p.minRatio {
		problems = append(problems, fmt.Sprintf("hebrew ratio below %.2f", p.minRatio))
	}
	if !hasBullet(text) {
		problems = append(problems, "no bullet lines")
	}
	return problems
}

func hasBullet(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-") ||
			strings.HasPrefix(trimmed, "*") ||
			strings.HasPrefix(trimmed, "•") {
			return true
		}
	}
	return false
}
