package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
)

// Summarizer generates session titles and rolling summaries via the LLM.
type Summarizer struct {
	llm   engine.LLMClient
	model string
}

// NewSummarizer creates a new session summarizer.
func NewSummarizer(llm engine.LLMClient, model string) *Summarizer {
	return &Summarizer{llm: llm, model: model}
}

// GenerateTitle produces a short title from the opening turns.
func (s *Summarizer) GenerateTitle(ctx context.Context, history []engine.ChatMessage) (string, error) {
	if len(history) == 0 {
		return "New Session", nil
	}

	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDTitle)
	if err != nil {
		return "", err
	}

	limit := 10
	if len(history) < limit {
		limit = len(history)
	}
	userPrompt := fmt.Sprintf("History:\n%s\n\nGenerate Title:", engine.RenderForSummary(history[:limit]))

	resp, err := engine.Complete(ctx, s.llm, s.model, prompt.Content, userPrompt, engine.ChatOptions{
		MaxOutputTokens: 20,
		Temperature:     0.3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	title := strings.Trim(strings.TrimSpace(resp), `"'`)
	if title == "" {
		return "New Session", nil
	}
	return title, nil
}

// RefreshSummary regenerates the rolling summary from the full history. The
// result replaces any previous summary wholesale.
func (s *Summarizer) RefreshSummary(ctx context.Context, history []engine.ChatMessage) (string, error) {
	if len(history) == 0 {
		return "", nil
	}

	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDSummarizer)
	if err != nil {
		return "", err
	}

	userPrompt := fmt.Sprintf("Summarize this conversation:\n\n%s", engine.RenderForSummary(history))

	resp, err := engine.Complete(ctx, s.llm, s.model, prompt.Content, userPrompt, engine.ChatOptions{
		MaxOutputTokens: 500,
		Temperature:     0.1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	return strings.TrimSpace(resp), nil
}
