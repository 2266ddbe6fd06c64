// Package orchestrator routes each conversation turn into one of three
// pipelines (quick response, retrieval-grounded response, or a multi-step
// agentic run) and drives the plan/execute/evaluate loop for the last one.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/retrieval"
	"github.com/ChamsBouzaiene/phidelta/internal/sandbox"
	"github.com/ChamsBouzaiene/phidelta/internal/session"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// Pipeline ties one session's memory to the LLM, tool, and retrieval
// plumbing for the duration of a turn.
type Pipeline struct {
	llm      engine.LLMClient
	model    string
	mem      *memory.Memory
	store    retrieval.Store
	ingestor *retrieval.Ingestor
	toolDeps tools.Deps
	hooks    engine.Hooks
	loopCfg  LoopConfig

	compactor  *memory.Compactor
	summarizer *session.Summarizer
}

// Options configures optional pipeline collaborators.
type Options struct {
	Store    retrieval.Store
	Ingestor *retrieval.Ingestor
	Runner   sandbox.Runner
	DocsRoot string
	PaperDir string
	Hooks    engine.Hooks
	Loop     LoopConfig
}

// New creates a pipeline bound to the given session memory.
func New(llm engine.LLMClient, model string, mem *memory.Memory, opts Options) *Pipeline {
	p := &Pipeline{
		llm:      llm,
		model:    model,
		mem:      mem,
		store:    opts.Store,
		ingestor: opts.Ingestor,
		hooks:    opts.Hooks,
		loopCfg:  opts.Loop,
		toolDeps: tools.Deps{
			Memory:   mem,
			Store:    opts.Store,
			Runner:   opts.Runner,
			DocsRoot: opts.DocsRoot,
			PaperDir: opts.PaperDir,
		},
	}
	p.compactor = memory.DefaultCompactor(llm, model)
	p.summarizer = session.NewSummarizer(llm, model)
	return p
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Route  Route
	Answer string
	Status RunStatus // set for agentic turns
}

// Respond handles one user turn end to end: route, dispatch, record, and
// maintain the rolling summary. Deltas stream through onDelta when the
// chosen pipeline supports it; the full answer is always returned.
func (p *Pipeline) Respond(ctx context.Context, userMsg string, onDelta func(string)) (TurnResult, error) {
	p.mem.Add(engine.RoleUser, userMsg)

	dec := p.RouteTurn(ctx, userMsg)
	result := TurnResult{Route: dec.Route}

	switch dec.Route {
	case RouteQuickResponse:
		answer, err := p.QuickRespond(ctx, userMsg, onDelta)
		if err != nil {
			return result, err
		}
		result.Answer = answer

	case RouteRetrieval:
		answer, err := p.GroundedRespond(ctx, userMsg, dec.Snippets)
		if err != nil {
			return result, err
		}
		if p.ShouldEscalate(ctx, userMsg, answer) {
			result.Route = RouteAgentic
			run, err := p.runAgentic(ctx, userMsg, tools.RetrievalSet())
			if err != nil {
				return result, err
			}
			result.Answer = run.Answer
			result.Status = run.Status
		} else {
			result.Answer = answer
		}
		if onDelta != nil {
			onDelta(result.Answer)
		}

	case RouteAgentic:
		run, err := p.RunAgentic(ctx, userMsg)
		if err != nil {
			return result, err
		}
		result.Answer = run.Answer
		result.Status = run.Status
		if onDelta != nil {
			onDelta(result.Answer)
		}
	}

	p.mem.Add(engine.RoleAssistant, result.Answer)
	p.maintainMemory(ctx)
	return result, nil
}

// QuickRespond streams a direct conversational answer.
func (p *Pipeline) QuickRespond(ctx context.Context, userMsg string, onDelta func(string)) (string, error) {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDQuickResponse)
	if err != nil {
		return "", err
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"context": p.mem.ContextBlock(8),
	})
	msgs := []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: userMsg},
	}

	if onDelta == nil {
		resp, err := p.llm.Chat(ctx, p.model, msgs, nil, engine.ChatOptions{Temperature: 0.5})
		if err != nil {
			return "", fmt.Errorf("quick response failed: %w", err)
		}
		return resp.Assistant.Content, nil
	}

	eventCh, errCh := p.llm.Stream(ctx, p.model, msgs, nil, engine.ChatOptions{Temperature: 0.5, Stream: true})

	var b strings.Builder
	for event := range eventCh {
		if event.Type == "text_delta" {
			b.WriteString(event.Text)
			onDelta(event.Text)
		}
	}
	if err := <-errCh; err != nil {
		return "", fmt.Errorf("quick response stream failed: %w", err)
	}
	return b.String(), nil
}

// GroundedRespond answers from the retrieval probe's snippets. When the
// probe came back empty, the model gets the rag tools and searches the
// corpus itself.
func (p *Pipeline) GroundedRespond(ctx context.Context, userMsg string, snippets []retrieval.Snippet) (string, error) {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDGroundedResponse)
	if err != nil {
		return "", err
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"retrieved_context": renderSnippets(snippets),
		"context":           p.mem.ContextBlock(6),
	})

	if len(snippets) == 0 && p.store != nil {
		reg := tools.NewToolRegistry(p.toolDeps, tools.RetrievalSet())
		st := &engine.State{
			History: []engine.ChatMessage{
				{Role: engine.RoleSystem, Content: system},
				{Role: engine.RoleUser, Content: userMsg},
			},
			Model:    p.model,
			MaxSteps: 4,
		}
		if err := engine.Run(ctx, p.llm, reg, st, p.hooks, engine.ChatOptions{Temperature: 0.3}); err != nil {
			return "", fmt.Errorf("grounded response failed: %w", err)
		}
		return st.FinalAnswer(), nil
	}

	answer, err := engine.Complete(ctx, p.llm, p.model, system, userMsg, engine.ChatOptions{Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("grounded response failed: %w", err)
	}
	return answer, nil
}

// maintainMemory refreshes the rolling summary and compacts oversized
// history after each completed turn. Both are best effort.
func (p *Pipeline) maintainMemory(ctx context.Context) {
	if summary, err := p.summarizer.RefreshSummary(ctx, p.mem.History()); err == nil && summary != "" {
		p.mem.SetSummary(summary)
	} else if err != nil {
		log.Printf("summary refresh failed: %v", err)
	}

	if err := p.compactor.Compact(ctx, p.mem); err != nil {
		log.Printf("history compaction failed: %v", err)
	}
}

// Title proposes a session title from the current history.
func (p *Pipeline) Title(ctx context.Context) (string, error) {
	return p.summarizer.GenerateTitle(ctx, p.mem.History())
}
