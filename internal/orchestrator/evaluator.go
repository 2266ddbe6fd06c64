package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// Verdict is the evaluator's judgement of an executed step.
type Verdict int

const (
	// VerdictContinue advances to the next step of the current plan.
	VerdictContinue Verdict = iota
	// VerdictReplan replaces the remaining plan and restarts its cursor.
	VerdictReplan
	// VerdictBreak pauses the run to ask the user for input.
	VerdictBreak
	// VerdictStop ends the run because the question is already answered.
	VerdictStop
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictReplan:
		return "replan"
	case VerdictBreak:
		return "break"
	case VerdictStop:
		return "stop"
	}
	return "unknown"
}

// Evaluation is the parsed evaluator output.
type Evaluation struct {
	Verdict   Verdict
	NewPlan   []string
	Ambiguous bool // no recognizable decision; verdict forced to break
}

// parseEvaluation extracts the decision from evaluator output. When several
// decision phrases appear, the mildest one wins: continue over replan over
// break over stop. No recognizable decision forces a break.
func parseEvaluation(text string) Evaluation {
	lower := strings.ToLower(text)

	found := map[Verdict]bool{}
	for _, line := range strings.Split(lower, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "decision:")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		switch {
		case strings.HasPrefix(rest, "no change"):
			found[VerdictContinue] = true
		case strings.HasPrefix(rest, "changed steps"):
			found[VerdictReplan] = true
		case strings.HasPrefix(rest, "break"):
			found[VerdictBreak] = true
		case strings.HasPrefix(rest, "stop"):
			found[VerdictStop] = true
		}
	}

	for _, v := range []Verdict{VerdictContinue, VerdictReplan, VerdictBreak, VerdictStop} {
		if !found[v] {
			continue
		}
		eval := Evaluation{Verdict: v}
		if v == VerdictReplan {
			eval.NewPlan = parsePlan(text)
			if len(eval.NewPlan) == 0 {
				// A replan without steps cannot proceed.
				return Evaluation{Verdict: VerdictBreak, Ambiguous: true}
			}
		}
		return eval
	}

	return Evaluation{Verdict: VerdictBreak, Ambiguous: true}
}

// Evaluate judges the report of the step at cursor against the plan.
func (p *Pipeline) Evaluate(ctx context.Context, question string, plan []string, cursor int, report StepReport, set tools.ToolSet) (Evaluation, error) {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDEvaluator)
	if err != nil {
		return Evaluation{}, err
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"question": question,
		"tools":    p.toolCatalog(set),
		"steps":    renderPlan(plan),
	})
	user := fmt.Sprintf("Current step (%d of %d): %s\n\nExecutor report:\n%s",
		cursor+1, len(plan), plan[cursor], report.Raw)

	reply, err := engine.Complete(ctx, p.llm, p.model, system, user, engine.ChatOptions{
		Temperature: 0.1,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluator call failed: %w", err)
	}

	eval := parseEvaluation(reply)
	if eval.Ambiguous {
		return eval, fmt.Errorf("%w: %q", ErrEvaluationAmbiguous, truncate(reply, 120))
	}
	return eval, nil
}

func renderPlan(plan []string) string {
	var b strings.Builder
	for i, step := range plan {
		fmt.Fprintf(&b, "Step %d. %s\n", i+1, step)
	}
	return strings.TrimSpace(b.String())
}
