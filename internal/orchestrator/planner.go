package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// stepLineRe matches "Step N. <text>" plan lines. Bare "N. <text>" lines are
// accepted as a fallback for sloppy critic output.
var (
	stepLineRe = regexp.MustCompile(`(?m)^\s*Step\s+(\d+)[.):]\s*(.+)$`)
	bareLineRe = regexp.MustCompile(`(?m)^\s*(\d+)[.):]\s*(.+)$`)
)

// parsePlan extracts ordered step texts from planner or critic output.
func parsePlan(text string) []string {
	// Only consider text after "Corrected Plan:" when the marker is present.
	if idx := strings.Index(strings.ToLower(text), "corrected plan:"); idx != -1 {
		text = text[idx+len("corrected plan:"):]
	}

	matches := stepLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		matches = bareLineRe.FindAllStringSubmatch(text, -1)
	}

	steps := make([]string, 0, len(matches))
	for _, m := range matches {
		step := strings.TrimSpace(m[2])
		if step != "" {
			steps = append(steps, step)
		}
	}
	return steps
}

// Plan drafts a plan for the question and has the critic correct it. The
// critic's numbered list is authoritative. The toolset bounds which tools
// the produced steps may name.
func (p *Pipeline) Plan(ctx context.Context, question string, set tools.ToolSet) ([]string, error) {
	reg := prompts.DefaultRegistry()

	plannerPrompt, err := reg.GetLatest(prompts.IDPlanner)
	if err != nil {
		return nil, err
	}
	criticPrompt, err := reg.GetLatest(prompts.IDCritic)
	if err != nil {
		return nil, err
	}

	catalog := p.toolCatalog(set)
	plannerSystem := prompts.Render(plannerPrompt.Content, map[string]string{
		"context": p.mem.ContextBlock(6),
		"tools":   catalog,
	})

	draft, err := engine.Complete(ctx, p.llm, p.model, plannerSystem, question, engine.ChatOptions{
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: planner call failed: %v", ErrPlanningFailed, err)
	}

	criticSystem := prompts.Render(criticPrompt.Content, map[string]string{
		"tools": catalog,
	})
	criticInput := fmt.Sprintf("User task: %s\n\nDraft plan:\n%s", question, draft)

	corrected, err := engine.Complete(ctx, p.llm, p.model, criticSystem, criticInput, engine.ChatOptions{
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: critic call failed: %v", ErrPlanningFailed, err)
	}

	steps := parsePlan(corrected)
	if len(steps) == 0 {
		// Last resort: the draft itself may be a usable numbered list.
		steps = parsePlan(draft)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps parsed from planner output", ErrPlanningFailed)
	}
	return steps, nil
}
