package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/tools"
)

// stageLLM answers each call according to which agent prompt it receives,
// so a whole routed turn can run against scripted replies.
type stageLLM struct {
	mu sync.Mutex

	routeReply string
	rewrite    string
	quick      string
	grounded   string
	escalation string
	draft      string
	corrected  string
	narration  string
	execs      []string
	evals      []string

	execCalls     int
	evalCalls     int
	stages        []string
	plannerSystem string
}

func (s *stageLLM) stageFor(system string) string {
	switch {
	case strings.Contains(system, "router agent"):
		return "router"
	case strings.Contains(system, "query rewriter"):
		return "rewriter"
	case strings.Contains(system, "planning agent"):
		return "planner"
	case strings.Contains(system, "critic agent"):
		return "critic"
	case strings.Contains(system, "step execution agent"):
		return "executor"
	case strings.Contains(system, "evaluator agent"):
		return "evaluator"
	case strings.Contains(system, "narration agent"):
		return "narrator"
	case strings.Contains(system, "settles the user's question"):
		return "escalation"
	case strings.Contains(system, "summarizer agent"):
		return "summarizer"
	case strings.Contains(system, "Retrieved snippets (trusted)"):
		return "grounded"
	case strings.Contains(system, "Answer the user's message directly"):
		return "quick"
	}
	return "unknown"
}

func (s *stageLLM) reply(system string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage := s.stageFor(system)
	s.stages = append(s.stages, stage)

	switch stage {
	case "router":
		return s.routeReply
	case "rewriter":
		if s.rewrite == "" {
			return "rewritten query"
		}
		return s.rewrite
	case "planner":
		s.plannerSystem = system
		return s.draft
	case "critic":
		return s.corrected
	case "executor":
		i := s.execCalls
		s.execCalls++
		if i >= len(s.execs) {
			i = len(s.execs) - 1
		}
		return s.execs[i]
	case "evaluator":
		i := s.evalCalls
		s.evalCalls++
		if i >= len(s.evals) {
			i = len(s.evals) - 1
		}
		return s.evals[i]
	case "narrator":
		return s.narration
	case "escalation":
		return s.escalation
	case "summarizer":
		return "refreshed summary"
	case "grounded":
		return s.grounded
	case "quick":
		return s.quick
	}
	return ""
}

func (s *stageLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	text := s.reply(messages[0].Content)
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: text},
		FinishReason: "stop",
	}, nil
}

func (s *stageLLM) Stream(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent, 4)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errCh)
		text := s.reply(messages[0].Content)
		// Split into two deltas to exercise accumulation.
		mid := len(text) / 2
		events <- engine.StreamEvent{Type: "text_delta", Text: text[:mid]}
		events <- engine.StreamEvent{Type: "text_delta", Text: text[mid:]}
		events <- engine.StreamEvent{Type: "usage", Usage: engine.Usage{Total: 10}}
	}()
	return events, errCh
}

func (s *stageLLM) called(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.stages {
		if st == stage {
			n++
		}
	}
	return n
}

// rescript swaps in fresh executor/evaluator replies for a follow-up run.
func (s *stageLLM) rescript(execs, evals []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = execs
	s.evals = evals
	s.execCalls = 0
	s.evalCalls = 0
}

func newTestPipeline(llm *stageLLM, loop LoopConfig) (*Pipeline, *memory.Memory) {
	mem := memory.New()
	p := New(llm, "test-model", mem, Options{Loop: loop})
	return p, mem
}

const twoStepPlan = "Corrected Plan:\nStep 1. Search broadly\nStep 2. Summarize findings"

func report(summary string) string {
	return "### Summary:\n- " + summary + "\n\n### Resources:\nNone."
}

func TestRespondQuickRoute(t *testing.T) {
	llm := &stageLLM{
		routeReply: "Route: QuickResponse",
		quick:      "Hello! How can I help?",
	}
	p, mem := newTestPipeline(llm, LoopConfig{})

	var streamed strings.Builder
	res, err := p.Respond(context.Background(), "hi there", func(d string) { streamed.WriteString(d) })
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Route != RouteQuickResponse {
		t.Errorf("route = %q", res.Route)
	}
	if res.Answer != "Hello! How can I help?" || streamed.String() != res.Answer {
		t.Errorf("answer %q, streamed %q", res.Answer, streamed.String())
	}
	if len(mem.History()) != 2 {
		t.Errorf("expected user+assistant turns recorded, got %d", len(mem.History()))
	}
	if mem.Summary() != "refreshed summary" {
		t.Errorf("summary not refreshed: %q", mem.Summary())
	}
}

func TestRespondFallsBackToQuickOnAmbiguousRoute(t *testing.T) {
	llm := &stageLLM{
		routeReply: "I cannot decide.",
		quick:      "Direct answer anyway.",
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	res, err := p.Respond(context.Background(), "hmm", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Route != RouteQuickResponse {
		t.Errorf("ambiguous routing should fall back to quick response, got %q", res.Route)
	}
	if res.Answer != "Direct answer anyway." {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestRespondRetrievalStays(t *testing.T) {
	llm := &stageLLM{
		routeReply: "Route: Retrieval",
		grounded:   "Per the docs, the limit is 1000 characters.",
		escalation: "STAY",
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	res, err := p.Respond(context.Background(), "what is the chunk limit?", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Route != RouteRetrieval {
		t.Errorf("route = %q", res.Route)
	}
	if res.Answer != "Per the docs, the limit is 1000 characters." {
		t.Errorf("answer = %q", res.Answer)
	}
	if llm.called("planner") != 0 {
		t.Error("STAY must not start an agentic run")
	}
}

func TestRespondRetrievalEscalates(t *testing.T) {
	llm := &stageLLM{
		routeReply: "Route: Retrieval",
		grounded:   "Nothing relevant was found.",
		escalation: "ESCALATE",
		draft:      "1. Search broadly\n2. Summarize findings",
		corrected:  twoStepPlan,
		execs:      []string{report("found it")},
		evals:      []string{"Decision: STOP"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	res, err := p.Respond(context.Background(), "find recent papers on X", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Route != RouteAgentic {
		t.Errorf("escalated turn should report the agentic route, got %q", res.Route)
	}
	if res.Status != StatusStopped {
		t.Errorf("status = %q", res.Status)
	}
	if llm.called("planner") != 1 {
		t.Error("escalation should have started an agentic run")
	}
	if strings.Contains(llm.plannerSystem, "web_search") || !strings.Contains(llm.plannerSystem, "rag_search") {
		t.Error("escalated run should plan against the retrieval toolset")
	}
}

func TestRunAgenticCompletesPlan(t *testing.T) {
	llm := &stageLLM{
		draft:     "something vague",
		corrected: twoStepPlan,
		grounded:  "Here is what I found.",
		execs:     []string{report("searched"), report("summarized")},
		evals:     []string{"Decision: No change", "Decision: No change"},
	}
	p, mem := newTestPipeline(llm, LoopConfig{})

	res, err := p.RunAgentic(context.Background(), "do the thing")
	if err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %q", res.Status)
	}
	if res.Answer != "Here is what I found." {
		t.Errorf("answer = %q", res.Answer)
	}
	steps := mem.Steps()
	if len(steps) != 2 {
		t.Fatalf("expected one ledger entry per executed step, got %d", len(steps))
	}
	if steps[0].Step != "Search broadly" || steps[1].Step != "Summarize findings" {
		t.Errorf("ledger steps = %q, %q", steps[0].Step, steps[1].Step)
	}
}

func TestRunAgenticReplanResetsCursor(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "done",
		execs: []string{
			report("first attempt failed"),
			report("narrow search worked"),
			report("wrapped up"),
		},
		evals: []string{
			"Decision: Changed Steps\nCorrected Plan:\nStep 1. Narrow the search\nStep 2. Write the summary",
			"Decision: No change",
			"Decision: No change",
		},
	}
	p, mem := newTestPipeline(llm, LoopConfig{})

	res, err := p.RunAgentic(context.Background(), "research task")
	if err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %q", res.Status)
	}

	steps := mem.Steps()
	if len(steps) != 3 {
		t.Fatalf("expected 3 ledger entries (1 before replan + 2 after), got %d", len(steps))
	}
	// The step that triggered the replan still gets its ledger entry, and
	// execution restarts at the head of the new plan.
	if steps[0].Step != "Search broadly" {
		t.Errorf("steps[0] = %q", steps[0].Step)
	}
	if steps[1].Step != "Narrow the search" {
		t.Errorf("replan should reset to the new plan's first step, got %q", steps[1].Step)
	}
	if steps[2].Step != "Write the summary" {
		t.Errorf("steps[2] = %q", steps[2].Step)
	}
}

func TestRunAgenticStopsEarly(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "early answer",
		execs:     []string{report("found everything already")},
		evals:     []string{"Decision: STOP"},
	}
	p, mem := newTestPipeline(llm, LoopConfig{})

	res, err := p.RunAgentic(context.Background(), "question")
	if err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	if res.Status != StatusStopped {
		t.Errorf("status = %q", res.Status)
	}
	if len(mem.Steps()) != 1 {
		t.Errorf("second plan step must not run after STOP, ledger has %d entries", len(mem.Steps()))
	}
}

func TestRunAgenticPausesOnBreak(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "paused explanation",
		execs:     []string{report("please upload the dataset")},
		evals:     []string{"Decision: BREAK"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	res, err := p.RunAgentic(context.Background(), "analyze my data")
	if err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	if res.Status != StatusPaused {
		t.Errorf("status = %q", res.Status)
	}
}

func TestRunAgenticUnparseableEvaluatorPauses(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "partial answer",
		execs:     []string{report("did something")},
		evals:     []string{"Sounds good, carry on!"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	res, err := p.RunAgentic(context.Background(), "question")
	if err != nil {
		t.Fatalf("unparseable evaluator output must pause, not fail: %v", err)
	}
	if res.Status != StatusPaused {
		t.Errorf("status = %q", res.Status)
	}
}

func TestRunAgenticIterationBudget(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: "Corrected Plan:\nStep 1. a\nStep 2. b\nStep 3. c\nStep 4. d\nStep 5. e",
		execs:     []string{report("step done")},
		evals:     []string{"Decision: No change"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{MaxIterations: 3, MaxReplans: 6})

	_, err := p.RunAgentic(context.Background(), "long task")
	if !errors.Is(err, ErrLoopNonTermination) {
		t.Fatalf("expected ErrLoopNonTermination, got %v", err)
	}
}

func TestRunAgenticReplanBudget(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		execs:     []string{report("still wrong")},
		evals:     []string{"Decision: Changed Steps\nCorrected Plan:\nStep 1. Try again"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{MaxIterations: 50, MaxReplans: 1})

	_, err := p.RunAgentic(context.Background(), "stubborn task")
	if !errors.Is(err, ErrLoopNonTermination) {
		t.Fatalf("expected ErrLoopNonTermination, got %v", err)
	}
}

func TestRunAgenticAppendsReferences(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "The paper answers the question.",
		execs: []string{
			"### Summary:\n- Found the paper.\n\n### Resources:\n- https://arxiv.org/abs/1706.03762",
		},
		evals: []string{"Decision: STOP"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	res, err := p.RunAgentic(context.Background(), "find the attention paper")
	if err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	if !strings.Contains(res.Answer, "References:") ||
		!strings.Contains(res.Answer, "https://arxiv.org/abs/1706.03762") {
		t.Errorf("answer missing reference list:\n%s", res.Answer)
	}
}

func TestRunAgenticDropsPriorTaskReferences(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: "Corrected Plan:\nStep 1. Find the paper",
		grounded:  "Found it.",
		execs: []string{
			"### Summary:\n- Found the first paper.\n\n### Resources:\n- https://example.org/first-task-paper",
		},
		evals: []string{"Decision: STOP"},
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	first, err := p.RunAgentic(context.Background(), "first task")
	if err != nil {
		t.Fatalf("first RunAgentic: %v", err)
	}
	if !strings.Contains(first.Answer, "https://example.org/first-task-paper") {
		t.Fatalf("first answer missing its reference:\n%s", first.Answer)
	}

	llm.rescript(
		[]string{"### Summary:\n- Found the second paper.\n\n### Resources:\n- https://example.org/second-task-paper"},
		[]string{"Decision: STOP"},
	)

	second, err := p.RunAgentic(context.Background(), "second task")
	if err != nil {
		t.Fatalf("second RunAgentic: %v", err)
	}
	if !strings.Contains(second.Answer, "https://example.org/second-task-paper") {
		t.Errorf("second answer missing its reference:\n%s", second.Answer)
	}
	if strings.Contains(second.Answer, "first-task-paper") {
		t.Errorf("second run's reference list cites the first task's link:\n%s", second.Answer)
	}
}

func TestRunAgenticNarratesSteps(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "done",
		narration: "Looking into it...",
		execs:     []string{report("searched"), report("summarized")},
		evals:     []string{"Decision: No change", "Decision: No change"},
	}
	p, mem := newTestPipeline(llm, LoopConfig{})

	if _, err := p.RunAgentic(context.Background(), "task"); err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	thoughts := mem.Thoughts()
	if len(thoughts) != 2 {
		t.Fatalf("expected one progress line per executed step, got %d", len(thoughts))
	}
	for i, th := range thoughts {
		if th != "Looking into it..." {
			t.Errorf("thoughts[%d] = %q", i, th)
		}
	}
	if llm.called("narrator") != 2 {
		t.Errorf("narrator called %d times, want 2", llm.called("narrator"))
	}
}

func TestRunAgenticNarrationFallsBackToStepText(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "done",
		execs:     []string{report("found everything already")},
		evals:     []string{"Decision: STOP"},
	}
	p, mem := newTestPipeline(llm, LoopConfig{})

	if _, err := p.RunAgentic(context.Background(), "task"); err != nil {
		t.Fatalf("RunAgentic: %v", err)
	}
	thoughts := mem.Thoughts()
	if len(thoughts) != 1 || thoughts[0] != "Search broadly" {
		t.Errorf("empty narrator reply should fall back to the step text, got %v", thoughts)
	}
}

func TestRunAgenticPartialBudgetAllowsReplan(t *testing.T) {
	llm := &stageLLM{
		draft:     "whatever",
		corrected: twoStepPlan,
		grounded:  "done",
		execs: []string{
			report("first attempt missed"),
			report("narrow search worked"),
			report("wrapped up"),
		},
		evals: []string{
			"Decision: Changed Steps\nCorrected Plan:\nStep 1. Narrow the search\nStep 2. Write the summary",
			"Decision: No change",
			"Decision: No change",
		},
	}
	// Only the iteration budget is set; the replan budget must still get
	// its default instead of zero.
	p, _ := newTestPipeline(llm, LoopConfig{MaxIterations: 10})

	res, err := p.RunAgentic(context.Background(), "task")
	if err != nil {
		t.Fatalf("one replan within an explicit iteration budget must not fail: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %q", res.Status)
	}
}

func TestPlanFallsBackToDraft(t *testing.T) {
	llm := &stageLLM{
		draft:     "1. Search the corpus\n2. Report back",
		corrected: "The plan looks fine as written.",
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	steps, err := p.Plan(context.Background(), "task", tools.AgenticSet())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(steps) != 2 || steps[0] != "Search the corpus" {
		t.Errorf("expected draft steps as fallback, got %v", steps)
	}
}

func TestPlanFailsWithoutSteps(t *testing.T) {
	llm := &stageLLM{
		draft:     "I would just look it up.",
		corrected: "Agreed.",
	}
	p, _ := newTestPipeline(llm, LoopConfig{})

	_, err := p.Plan(context.Background(), "task", tools.AgenticSet())
	if !errors.Is(err, ErrPlanningFailed) {
		t.Fatalf("expected ErrPlanningFailed, got %v", err)
	}
}
