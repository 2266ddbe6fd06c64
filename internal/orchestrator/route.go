package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/retrieval"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// Route selects which pipeline handles a turn.
type Route string

const (
	RouteQuickResponse Route = "QuickResponse"
	RouteRetrieval     Route = "Retrieval"
	RouteAgentic       Route = "Agentic"
)

// parseRoute extracts the route label from the router's reply. The contract
// is a single "Route: <label>" line; a bare label is accepted as well.
func parseRoute(reply string) (Route, error) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		lower = strings.TrimPrefix(lower, "route:")
		lower = strings.TrimSpace(lower)
		switch lower {
		case "quickresponse":
			return RouteQuickResponse, nil
		case "retrieval":
			return RouteRetrieval, nil
		case "agentic":
			return RouteAgentic, nil
		}
	}
	return "", fmt.Errorf("%w: unrecognized router reply %q", ErrRoutingAmbiguous, truncate(reply, 120))
}

// Decision is the routing outcome for one turn, including the retrieval
// probe that informed it.
type Decision struct {
	Route     Route
	Rewritten string
	Snippets  []retrieval.Snippet
}

// RouteTurn rewrites the query, probes the document corpus, and asks the
// router to pick a pipeline. An unparseable reply or router error falls back
// to the quick-response path.
func (p *Pipeline) RouteTurn(ctx context.Context, userMsg string) Decision {
	rewritten := p.RewriteQuery(ctx, userMsg)
	snippets := p.Probe(ctx, rewritten)

	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDRouter)
	if err != nil {
		log.Printf("router prompt missing: %v", err)
		return Decision{Route: RouteQuickResponse, Rewritten: rewritten, Snippets: snippets}
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"context":           p.mem.ContextBlock(6),
		"retrieved_context": renderSnippets(snippets),
		"tools":             p.toolCatalog(tools.AgenticSet()),
	})

	reply, err := engine.Complete(ctx, p.llm, p.model, system, userMsg, engine.ChatOptions{
		Temperature:     0.1,
		MaxOutputTokens: 20,
	})
	if err != nil {
		log.Printf("router call failed, falling back to quick response: %v", err)
		return Decision{Route: RouteQuickResponse, Rewritten: rewritten, Snippets: snippets}
	}

	route, err := parseRoute(reply)
	if err != nil {
		log.Printf("%v, falling back to quick response", err)
		return Decision{Route: RouteQuickResponse, Rewritten: rewritten, Snippets: snippets}
	}
	return Decision{Route: route, Rewritten: rewritten, Snippets: snippets}
}

// renderSnippets flattens probe results for prompt injection.
func renderSnippets(snippets []retrieval.Snippet) string {
	if len(snippets) == 0 {
		return "(no relevant documents found)"
	}
	var b strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, s.Title, s.Source, s.Text)
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so a multi-byte character is never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
