package engine

import (
	"context"
	"errors"
	"testing"
)

func mockToolFn(ctx context.Context, args map[string]any) (string, error) {
	if val, ok := args["should_error"]; ok && val.(bool) {
		return "", errors.New("mock error")
	}
	return "success", nil
}

func TestExecuteTool(t *testing.T) {
	ctx := context.Background()
	reg := make(ToolRegistry)

	reg["mock_tool"] = Tool{
		Name:       "mock_tool",
		Fn:         mockToolFn,
		SchemaJSON: `{"type": "object", "properties": {"should_error": {"type": "boolean"}}}`,
	}

	tests := []struct {
		name    string
		call    ToolCall
		want    string
		wantErr bool
	}{
		{
			name:    "success",
			call:    ToolCall{Name: "mock_tool", Args: map[string]any{"should_error": false}},
			want:    "success",
			wantErr: false,
		},
		{
			name:    "tool execution error",
			call:    ToolCall{Name: "mock_tool", Args: map[string]any{"should_error": true}},
			want:    "",
			wantErr: true,
		},
		{
			name:    "tool not found",
			call:    ToolCall{Name: "non_existent_tool", Args: map[string]any{}},
			want:    "",
			wantErr: true,
		},
		{
			name:    "schema rejects wrong type",
			call:    ToolCall{Name: "mock_tool", Args: map[string]any{"should_error": "yes"}},
			want:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := executeTool(ctx, tt.call, reg)
			if (err != nil) != tt.wantErr {
				t.Errorf("executeTool() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("executeTool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecuteToolCalls(t *testing.T) {
	ctx := context.Background()
	reg := make(ToolRegistry)
	reg["mock_tool"] = Tool{Name: "mock_tool", Fn: mockToolFn}
	reg["other_tool"] = Tool{Name: "other_tool", Fn: mockToolFn}

	st := &State{Model: "test-model"}
	retryConfig := DefaultRetryConfig()
	calls := []ToolCall{
		{ID: "call_1", Name: "mock_tool", Args: map[string]any{}},
		{ID: "call_2", Name: "other_tool", Args: map[string]any{}},
		{ID: "call_3", Name: "mock_tool", Args: map[string]any{}},
	}

	executeToolCalls(ctx, calls, reg, &retryConfig, Hooks{}, st)

	if len(st.History) != 3 {
		t.Fatalf("History length = %d, want 3", len(st.History))
	}
	for i, msg := range st.History {
		if msg.Role != RoleTool {
			t.Errorf("history[%d].Role = %s, want tool", i, msg.Role)
		}
		if msg.Name != calls[i].ID {
			t.Errorf("history[%d].Name = %s, want %s (tool call ID)", i, msg.Name, calls[i].ID)
		}
	}
	// ToolsUsed is a de-duplicated set.
	if len(st.ToolsUsed) != 2 {
		t.Errorf("ToolsUsed = %v, want 2 distinct names", st.ToolsUsed)
	}
	if !st.ToolsUsed["mock_tool"] || !st.ToolsUsed["other_tool"] {
		t.Errorf("ToolsUsed missing entries: %v", st.ToolsUsed)
	}
}

// ScriptedLLM replays canned responses in order. Used across packages to
// test pipeline stages without a live provider.
type ScriptedLLM struct {
	Responses []LLMResponse
	Calls     [][]ChatMessage
	Err       error
	pos       int
}

func (s *ScriptedLLM) Chat(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (LLMResponse, error) {
	s.Calls = append(s.Calls, messages)
	if s.Err != nil {
		return LLMResponse{}, s.Err
	}
	if s.pos >= len(s.Responses) {
		return LLMResponse{Assistant: ChatMessage{Role: RoleAssistant, Content: "done"}, FinishReason: "stop"}, nil
	}
	resp := s.Responses[s.pos]
	s.pos++
	return resp, nil
}

func (s *ScriptedLLM) Stream(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent, 8)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		resp, err := s.Chat(ctx, model, messages, toolSchemas, opts)
		if err != nil {
			errs <- err
			return
		}
		events <- StreamEvent{Type: "text_delta", Text: resp.Assistant.Content}
		events <- StreamEvent{Type: "usage", Usage: resp.Usage}
	}()
	return events, errs
}

func TestRunStopsWithoutToolCalls(t *testing.T) {
	ctx := context.Background()
	llm := &ScriptedLLM{
		Responses: []LLMResponse{
			{
				Assistant:    ChatMessage{Role: RoleAssistant, Content: ""},
				ToolCalls:    []ToolCall{{ID: "c1", Name: "mock_tool", Args: map[string]any{}}},
				FinishReason: "tool_calls",
			},
			{
				Assistant:    ChatMessage{Role: RoleAssistant, Content: "final answer"},
				FinishReason: "stop",
			},
		},
	}
	reg := ToolRegistry{"mock_tool": {Name: "mock_tool", Fn: mockToolFn}}
	st := &State{
		History:  []ChatMessage{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "task"}},
		Model:    "test-model",
		MaxSteps: 5,
	}

	if err := Run(ctx, llm, reg, st, Hooks{}, ChatOptions{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !st.Done {
		t.Error("Run() did not mark state done")
	}
	if got := st.FinalAnswer(); got != "final answer" {
		t.Errorf("FinalAnswer() = %q, want %q", got, "final answer")
	}
	if !st.ToolsUsed["mock_tool"] {
		t.Errorf("ToolsUsed = %v, want mock_tool recorded", st.ToolsUsed)
	}
}

func TestRunRespectsMaxSteps(t *testing.T) {
	ctx := context.Background()
	// Always request another tool call; the loop must stop at MaxSteps.
	loop := LLMResponse{
		Assistant:    ChatMessage{Role: RoleAssistant, Content: ""},
		ToolCalls:    []ToolCall{{ID: "c", Name: "mock_tool", Args: map[string]any{}}},
		FinishReason: "tool_calls",
	}
	llm := &ScriptedLLM{Responses: []LLMResponse{loop, loop, loop, loop, loop, loop}}
	reg := ToolRegistry{"mock_tool": {Name: "mock_tool", Fn: mockToolFn}}
	st := &State{Model: "test-model", MaxSteps: 3}

	if err := Run(ctx, llm, reg, st, Hooks{}, ChatOptions{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if st.Done {
		t.Error("state marked done despite hitting MaxSteps")
	}
	if st.Step != 3 {
		t.Errorf("Step = %d, want 3", st.Step)
	}
}
