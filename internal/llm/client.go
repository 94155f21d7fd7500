// Package llm wraps the model provider behind a text-in / text-out
// Generator and implements the cascading retry policy shared by the
// explanation memoizer and summary producer: candidate models tried in
// order, exponential backoff on transient errors, immediate cascade on
// model-unavailable and quota errors, and a hard per-attempt timeout.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Generator is the opaque model surface the pipeline consumes.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Gemini is the production Generator backed by google.golang.org/genai.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates the provider client. With an empty apiKey the SDK falls
// back to ambient credentials.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	cfg := &genai.ClientConfig{}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Generate performs one completion call against the named model.
func (g *Gemini) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", model, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generate with %s: empty completion", model)
	}
	return text, nil
}
