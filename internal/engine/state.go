// Package engine provides the tool-using reasoning loop that executes a
// single plan step, plus the LLM/tool plumbing shared by every pipeline
// stage (providers, retries, hooks).
package engine

// State tracks one reasoning run: the message history sent to the model,
// loop progress, and which tools were actually invoked.
type State struct {
	History   []ChatMessage
	Step      int  // current step (increments only on success)
	Retries   int  // retry attempts, tracked separately from steps
	Done      bool // true when the LLM answers without tool calls
	Model     string
	MaxSteps  int
	Totals    Usage           // accumulated token usage across all calls
	ToolsUsed map[string]bool // de-duplicated set of tool names invoked
}

func (s *State) Append(msg ChatMessage) { s.History = append(s.History, msg) }

// MarkToolUsed records a tool invocation for observability.
func (s *State) MarkToolUsed(name string) {
	if s.ToolsUsed == nil {
		s.ToolsUsed = make(map[string]bool)
	}
	s.ToolsUsed[name] = true
}

// FinalAnswer returns the content of the last assistant message, or "" if
// the run produced none.
func (s *State) FinalAnswer() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant && s.History[i].Content != "" {
			return s.History[i].Content
		}
	}
	return ""
}
