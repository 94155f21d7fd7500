package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shiurgen/internal/logging"
)

// CallOptions tunes one cascading call.
type CallOptions struct {
	// Candidates are model names tried in order; duplicates are dropped.
	Candidates []string
	// MaxRetries is the attempt count per candidate (default 3).
	MaxRetries int
	// Timeout bounds each attempt (default 60s).
	Timeout time.Duration
	// BaseBackoff seeds the exponential backoff between retries
	// (default 400ms; attempt n waits base·2^(n-1)).
	BaseBackoff time.Duration
}

// Result is a successful cascading call.
type Result struct {
	Text     string
	Model    string
	Duration time.Duration
}

const (
	defaultMaxRetries  = 3
	defaultTimeout     = 60 * time.Second
	defaultBaseBackoff = 400 * time.Millisecond
)

// Call runs the candidate cascade: each model gets up to MaxRetries attempts
// with exponential backoff; model-unavailable and quota errors skip straight
// to the next candidate; permanent errors fail the candidate; the first
// success returns immediately. Only when every candidate is exhausted does
// the last error bubble up.
func Call(ctx context.Context, gen Generator, prompt string, opts CallOptions) (*Result, error) {
	log := logging.Get(logging.CategoryLLMRetry)

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := opts.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}

	candidates := dedup(opts.Candidates)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate models")
	}

	start := time.Now()
	var lastErr error
	for _, model := range candidates {
	attempts:
		for attempt := 1; attempt <= retries; attempt++ {
			if attempt > 1 {
				backoff := base * (1 << uint(attempt-2))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			text, err := attemptOnce(ctx, gen, model, prompt, timeout)
			if err == nil {
				return &Result{Text: text, Model: model, Duration: time.Since(start)}, nil
			}
			lastErr = err
			kind := Classify(err)
			log.Warn("llm attempt failed",
				zap.String("model", model),
				zap.Int("attempt", attempt),
				zap.Int("kind", int(kind)),
				zap.Error(err))
			switch kind {
			case KindModelUnavailable, KindQuotaExhausted:
				// Candidate is dead for this request; cascade now.
				break attempts
			case KindTransient:
				continue
			default:
				break attempts
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("all candidate models failed: %w", lastErr)
}

// attemptOnce bounds a single generation by the per-attempt timeout. When the
// deadline fires, the underlying call keeps running in its goroutine; its
// eventual result is logged as abandoned and never consumed.
func attemptOnce(ctx context.Context, gen Generator, model, prompt string, timeout time.Duration) (string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		text, err := gen.Generate(actx, model, prompt)
		ch <- outcome{text, err}
	}()

	select {
	case o := <-ch:
		return o.text, o.err
	case <-actx.Done():
		go func() {
			o := <-ch
			logging.Get(logging.CategoryLLMRetry).Warn("abandoned llm call completed after timeout",
				zap.String("model", model),
				zap.Bool("succeeded", o.err == nil))
		}()
		return "", fmt.Errorf("llm call timeout after %s on %s: %w", timeout, model, actx.Err())
	}
}

func dedup(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
