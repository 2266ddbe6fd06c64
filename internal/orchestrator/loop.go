package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// LoopConfig bounds the agentic control loop.
type LoopConfig struct {
	MaxIterations int // total executed steps across all plans
	MaxReplans    int // plan replacements before giving up
}

// DefaultLoopConfig returns the standard budgets.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{MaxIterations: 24, MaxReplans: 6}
}

// RunStatus describes how an agentic run ended.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed" // plan ran to the end
	StatusStopped   RunStatus = "stopped"   // evaluator declared the answer sufficient
	StatusPaused    RunStatus = "paused"    // run needs user input to continue
)

// RunResult is the outcome of a full agentic run.
type RunResult struct {
	Status RunStatus
	Answer string
	Steps  []memory.StepRecord
}

// RunAgentic plans and executes a multi-step run for the question with the
// full toolset, then synthesizes a final answer from the step ledger.
func (p *Pipeline) RunAgentic(ctx context.Context, question string) (RunResult, error) {
	return p.runAgentic(ctx, question, tools.AgenticSet())
}

// runAgentic is RunAgentic with an explicit tool surface; escalated
// retrieval turns run with the narrower retrieval toolset.
func (p *Pipeline) runAgentic(ctx context.Context, question string, set tools.ToolSet) (RunResult, error) {
	plan, err := p.Plan(ctx, question, set)
	if err != nil {
		return RunResult{}, err
	}

	p.mem.BeginRun()

	status, err := p.runLoop(ctx, question, plan, set)
	if err != nil {
		return RunResult{}, err
	}

	answer, err := p.finalAnswer(ctx, question, status)
	if err != nil {
		return RunResult{}, err
	}

	p.ingestDownloads()

	return RunResult{
		Status: status,
		Answer: answer,
		Steps:  p.mem.Steps(),
	}, nil
}

// runLoop drives the execute/evaluate cycle over the plan. Exactly one
// ledger entry is recorded per executed step, including the step that
// triggers a replan.
func (p *Pipeline) runLoop(ctx context.Context, question string, plan []string, set tools.ToolSet) (RunStatus, error) {
	cfg := p.loopCfg
	def := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxReplans <= 0 {
		cfg.MaxReplans = def.MaxReplans
	}

	cursor := 0
	iterations := 0
	replans := 0

	for cursor < len(plan) {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("agentic run cancelled: %w", ctx.Err())
		default:
		}

		if iterations >= cfg.MaxIterations {
			return "", fmt.Errorf("%w: %d steps executed", ErrLoopNonTermination, iterations)
		}
		iterations++

		step := plan[cursor]
		p.mem.AddThought(p.narrateStep(ctx, step))
		report, used, err := p.ExecuteStep(ctx, step, runningContextDigest(p.mem.Steps()), set)
		if err != nil {
			return "", err
		}
		if len(used) > 0 {
			log.Printf("step %d/%d used tools: %s", cursor+1, len(plan), strings.Join(used, ", "))
		}
		p.mem.RecordStep(step, report.Raw)

		eval, err := p.Evaluate(ctx, question, plan, cursor, report, set)
		if err != nil && !eval.Ambiguous {
			return "", err
		}
		if eval.Ambiguous {
			log.Printf("evaluator output unparseable, pausing run: %v", err)
		}

		switch eval.Verdict {
		case VerdictContinue:
			cursor++
		case VerdictReplan:
			replans++
			if replans > cfg.MaxReplans {
				return "", fmt.Errorf("%w: %d replans", ErrLoopNonTermination, replans)
			}
			plan = eval.NewPlan
			cursor = 0
		case VerdictBreak:
			return StatusPaused, nil
		case VerdictStop:
			return StatusStopped, nil
		}
	}

	return StatusCompleted, nil
}

// narrateStep turns a plan step into the friendly progress line shown while
// the step runs. Failures fall back to the step text itself.
func (p *Pipeline) narrateStep(ctx context.Context, step string) string {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDHumanizer)
	if err != nil {
		return step
	}

	line, err := engine.Complete(ctx, p.llm, p.model, prompt.Content, step, engine.ChatOptions{
		Temperature:     0.3,
		MaxOutputTokens: 60,
	})
	if err != nil {
		log.Printf("step narration failed, using step text: %v", err)
		return step
	}
	line = strings.Trim(strings.TrimSpace(line), `"'`)
	if line == "" {
		return step
	}
	return line
}

// finalAnswer synthesizes the user-facing answer from the step ledger.
func (p *Pipeline) finalAnswer(ctx context.Context, question string, status RunStatus) (string, error) {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDGroundedResponse)
	if err != nil {
		return "", err
	}

	var ledger strings.Builder
	for i, s := range p.mem.Steps() {
		fmt.Fprintf(&ledger, "Step %d: %s\nReport:\n%s\n\n", i+1, s.Step, s.Report)
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"retrieved_context": strings.TrimSpace(ledger.String()),
		"context":           p.mem.ContextBlock(4),
	})

	user := question
	if status == StatusPaused {
		user = fmt.Sprintf("%s\n\nThe work is paused because it needs input from the user. Explain what was done so far and what is needed to continue.", question)
	}

	answer, err := engine.Complete(ctx, p.llm, p.model, system, user, engine.ChatOptions{
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("final answer synthesis failed: %w", err)
	}

	if refs := p.mem.References(); len(refs) > 0 {
		var b strings.Builder
		b.WriteString(answer)
		b.WriteString("\n\nReferences:\n")
		seen := make(map[string]bool)
		for _, r := range refs {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			if r.Title != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
			} else {
				fmt.Fprintf(&b, "- %s\n", r.URL)
			}
		}
		answer = strings.TrimSpace(b.String())
	}
	return answer, nil
}

// ingestDownloads folds files fetched during the run into the document
// corpus so later retrieval turns can find them.
func (p *Pipeline) ingestDownloads() {
	if p.ingestor == nil {
		return
	}
	downloads := p.mem.Downloads()
	if len(downloads) == 0 {
		return
	}
	ingested, err := p.ingestor.AdoptFiles(downloads)
	if err != nil {
		log.Printf("post-run ingestion failed: %v", err)
		return
	}
	if len(ingested) > 0 {
		log.Printf("ingested %d downloaded documents", len(ingested))
	}
}
