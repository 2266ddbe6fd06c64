package orchestrator

import (
	"context"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/retrieval"
)

// probeK is how many snippets the routing probe pulls from the corpus.
const probeK = 4

// RewriteQuery turns the raw user message into a retrieval-friendly query.
// Any failure falls back to the original message.
func (p *Pipeline) RewriteQuery(ctx context.Context, userMsg string) string {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDRewriter)
	if err != nil {
		return userMsg
	}

	reply, err := engine.Complete(ctx, p.llm, p.model, prompt.Content, userMsg, engine.ChatOptions{
		Temperature:     0.1,
		MaxOutputTokens: 100,
	})
	if err != nil {
		log.Printf("query rewrite failed, using original query: %v", err)
		return userMsg
	}

	rewritten := strings.Trim(strings.TrimSpace(reply), `"'`)
	if rewritten == "" {
		return userMsg
	}
	return rewritten
}

// Probe searches the document corpus for routing context. Failures yield an
// empty probe; routing proceeds without retrieved context.
func (p *Pipeline) Probe(ctx context.Context, query string) []retrieval.Snippet {
	if p.store == nil {
		return nil
	}
	snippets, err := p.store.Search(ctx, query, nil, probeK)
	if err != nil {
		log.Printf("retrieval probe failed, routing without retrieved context: %v", err)
		return nil
	}
	return snippets
}
