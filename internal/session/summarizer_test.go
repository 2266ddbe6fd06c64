package session

import (
	"context"
	"testing"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []engine.ChatMessage, tools []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: resp},
		FinishReason: "stop",
	}, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, model string, messages []engine.ChatMessage, tools []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent, 1)
	errCh := make(chan error, 1)
	resp, _ := s.Chat(ctx, model, messages, tools, opts)
	eventCh <- engine.StreamEvent{Type: "text_delta", Text: resp.Assistant.Content}
	close(eventCh)
	close(errCh)
	return eventCh, errCh
}

func TestGenerateTitle(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`"Entanglement Basics"`}}
	s := NewSummarizer(llm, "test-model")

	title, err := s.GenerateTitle(context.Background(), []engine.ChatMessage{
		{Role: engine.RoleUser, Content: "What is entanglement?"},
	})
	if err != nil {
		t.Fatalf("GenerateTitle failed: %v", err)
	}
	if title != "Entanglement Basics" {
		t.Errorf("quotes should be stripped, got %q", title)
	}
}

func TestGenerateTitleEmptyHistory(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"unused"}}
	s := NewSummarizer(llm, "test-model")

	title, err := s.GenerateTitle(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if title != "New Session" {
		t.Errorf("empty history should give default title, got %q", title)
	}
	if llm.calls != 0 {
		t.Errorf("LLM should not be called for empty history")
	}
}

func TestRefreshSummary(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"  User explored entanglement.  "}}
	s := NewSummarizer(llm, "test-model")

	summary, err := s.RefreshSummary(context.Background(), []engine.ChatMessage{
		{Role: engine.RoleUser, Content: "What is entanglement?"},
		{Role: engine.RoleAssistant, Content: "A quantum correlation."},
	})
	if err != nil {
		t.Fatalf("RefreshSummary failed: %v", err)
	}
	if summary != "User explored entanglement." {
		t.Errorf("summary not trimmed: %q", summary)
	}
}
