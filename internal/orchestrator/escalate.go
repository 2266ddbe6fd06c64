package orchestrator

import (
	"context"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
)

// parseEscalation reads the sub-router's one-word reply. Anything that is
// not a clear ESCALATE stays with the grounded answer.
func parseEscalation(reply string) bool {
	word := strings.ToUpper(strings.TrimSpace(reply))
	word = strings.Trim(word, ".!\"'")
	return word == "ESCALATE"
}

// ShouldEscalate asks the escalation sub-router whether the grounded answer
// settles the question. Call failures and unparseable replies stay.
func (p *Pipeline) ShouldEscalate(ctx context.Context, question, response string) bool {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDEscalation)
	if err != nil {
		return false
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"question": question,
		"response": response,
	})

	reply, err := engine.Complete(ctx, p.llm, p.model, system, "STAY or ESCALATE?", engine.ChatOptions{
		Temperature:     0.0,
		MaxOutputTokens: 5,
	})
	if err != nil {
		log.Printf("escalation check failed, staying with grounded answer: %v", err)
		return false
	}
	return parseEscalation(reply)
}
