package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
)

// summarizingLLM returns a fixed synopsis for any call.
type summarizingLLM struct{ synopsis string }

func (s *summarizingLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: s.synopsis},
		FinishReason: "stop",
	}, nil
}

func (s *summarizingLLM) Stream(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent, 1)
	errs := make(chan error, 1)
	events <- engine.StreamEvent{Type: "text_delta", Text: s.synopsis}
	close(events)
	close(errs)
	return events, errs
}

func TestCompactKeepsRecentTurnsVerbatim(t *testing.T) {
	m := New()
	for i := 0; i < 20; i++ {
		m.Add(engine.RoleUser, fmt.Sprintf("turn %d", i))
	}
	c := &Compactor{
		LLM:        &summarizingLLM{synopsis: "earlier discussion synopsis"},
		Model:      "test-model",
		Threshold:  15,
		KeepRecent: 5,
	}

	if err := c.Compact(context.Background(), m); err != nil {
		t.Fatalf("Compact() error: %v", err)
	}

	history := m.History()
	if len(history) != 5 {
		t.Fatalf("history length after compaction = %d, want 5", len(history))
	}
	for i, msg := range history {
		want := fmt.Sprintf("turn %d", 15+i)
		if msg.Content != want {
			t.Errorf("history[%d] = %q, want %q (recent turns must survive verbatim)", i, msg.Content, want)
		}
	}
	if !strings.Contains(m.Summary(), "earlier discussion synopsis") {
		t.Errorf("summary = %q, want the folded synopsis appended", m.Summary())
	}
}

func TestCompactNoOpUnderThreshold(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Add(engine.RoleUser, fmt.Sprintf("turn %d", i))
	}
	c := &Compactor{LLM: &summarizingLLM{synopsis: "x"}, Model: "m", Threshold: 15, KeepRecent: 5}

	if err := c.Compact(context.Background(), m); err != nil {
		t.Fatalf("Compact() error: %v", err)
	}
	if len(m.History()) != 5 {
		t.Errorf("history mutated below threshold: len = %d", len(m.History()))
	}
	if m.Summary() != "" {
		t.Errorf("summary mutated below threshold: %q", m.Summary())
	}
}

func TestCompactAppendsToExistingSummary(t *testing.T) {
	m := New()
	m.SetSummary("old summary")
	for i := 0; i < 20; i++ {
		m.Add(engine.RoleUser, fmt.Sprintf("turn %d", i))
	}
	c := &Compactor{LLM: &summarizingLLM{synopsis: "new synopsis"}, Model: "m", Threshold: 10, KeepRecent: 4}

	if err := c.Compact(context.Background(), m); err != nil {
		t.Fatalf("Compact() error: %v", err)
	}
	sum := m.Summary()
	if !strings.Contains(sum, "old summary") || !strings.Contains(sum, "new synopsis") {
		t.Errorf("summary = %q, want both old summary and appended synopsis", sum)
	}
}

func TestStepLedger(t *testing.T) {
	m := New()
	m.RecordStep("step 1", "report 1")
	m.RecordStep("step 2", "report 2")
	if len(m.Steps()) != 2 {
		t.Fatalf("Steps() = %d entries, want 2", len(m.Steps()))
	}

	m.BeginRun()
	if len(m.Steps()) != 0 {
		t.Error("BeginRun() did not clear the step ledger")
	}
}

func TestBeginRunClearsTaskState(t *testing.T) {
	m := New()
	m.RecordStep("step 1", "report 1")
	m.AddReference(Reference{Title: "old paper", URL: "https://example.org/old"})
	m.RecordDownload("/tmp/old.pdf")
	m.AddThought("Searching for the old paper...")
	m.InstallResults("arxiv", []ResultItem{{Title: "A"}})

	m.BeginRun()

	if len(m.Steps()) != 0 {
		t.Error("BeginRun() did not clear the step ledger")
	}
	if len(m.References()) != 0 {
		t.Error("BeginRun() did not clear the reference links")
	}
	if len(m.Downloads()) != 0 {
		t.Error("BeginRun() did not clear the download list")
	}
	if len(m.Thoughts()) != 0 {
		t.Error("BeginRun() did not clear the progress narration")
	}
	// The result set outlives the run so a follow-up task can still refer
	// to the last search by index.
	if m.Results() == nil {
		t.Error("BeginRun() must not drop the result set")
	}
}

func TestThoughts(t *testing.T) {
	m := New()
	m.AddThought("Searching arXiv...")
	m.AddThought("Summarizing findings...")

	got := m.Thoughts()
	if len(got) != 2 || got[0] != "Searching arXiv..." || got[1] != "Summarizing findings..." {
		t.Errorf("Thoughts() = %v", got)
	}
}

func TestContextBlock(t *testing.T) {
	m := New()
	m.SetSummary("we talked about transformers")
	m.Add(engine.RoleUser, "hello")
	m.Add(engine.RoleAssistant, "hi")

	block := m.ContextBlock(5)
	for _, want := range []string{"we talked about transformers", "user: hello", "assistant: hi"} {
		if !strings.Contains(block, want) {
			t.Errorf("ContextBlock() missing %q:\n%s", want, block)
		}
	}
}
