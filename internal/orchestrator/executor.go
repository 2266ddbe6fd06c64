package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/prompts"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// maxRunningContext caps how much of the prior-step digest reaches the
// executor prompt.
const maxRunningContext = 1000

// executorMaxSteps bounds the tool loop within a single plan step.
const executorMaxSteps = 8

// ExecuteStep runs one plan step through the tool-using reasoning loop and
// parses its report. References found in the report feed the session's link
// collection.
func (p *Pipeline) ExecuteStep(ctx context.Context, step, runningContext string, set tools.ToolSet) (StepReport, []string, error) {
	prompt, err := prompts.DefaultRegistry().GetLatest(prompts.IDExecutor)
	if err != nil {
		return StepReport{}, nil, err
	}

	system := prompts.Render(prompt.Content, map[string]string{
		"context": runningContext,
		"tools":   p.toolCatalog(set),
	})

	reg := tools.NewToolRegistry(p.toolDeps, set)
	st := &engine.State{
		History: []engine.ChatMessage{
			{Role: engine.RoleSystem, Content: system},
			{Role: engine.RoleUser, Content: step},
		},
		Model:    p.model,
		MaxSteps: executorMaxSteps,
	}

	if err := engine.Run(ctx, p.llm, reg, st, p.hooks, engine.ChatOptions{Temperature: 0.2}); err != nil {
		return StepReport{}, nil, fmt.Errorf("step execution failed: %w", err)
	}

	report := parseStepReport(st.FinalAnswer())
	for _, u := range extractURLs(report.Resources) {
		p.mem.AddReference(memory.Reference{URL: u})
	}

	used := make([]string, 0, len(st.ToolsUsed))
	for name := range st.ToolsUsed {
		used = append(used, name)
	}
	sort.Strings(used)
	return report, used, nil
}

// runningContextDigest folds prior step reports into a capped context block
// for the next step.
func runningContextDigest(steps []memory.StepRecord) string {
	if len(steps) == 0 {
		return "(no previous steps)"
	}

	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "Step %d: %s\nResult: %s\n\n", i+1, s.Step, parseStepReport(s.Report).Summary)
	}
	digest := strings.TrimSpace(b.String())
	if len(digest) > maxRunningContext {
		// Keep the tail: recent steps matter most. Advance past any partial
		// rune so the cut never splits a multi-byte character.
		start := len(digest) - maxRunningContext
		for start < len(digest) && !utf8.RuneStart(digest[start]) {
			start++
		}
		digest = "..." + digest[start:]
	}
	return digest
}

// toolCatalog renders a tool surface for prompt injection.
func (p *Pipeline) toolCatalog(set tools.ToolSet) string {
	reg := tools.NewToolRegistry(p.toolDeps, set)
	schemas := reg.Schemas()
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })

	var b strings.Builder
	for _, s := range schemas {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimSpace(b.String())
}
