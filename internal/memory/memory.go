// Package memory holds the per-session conversation state shared by every
// pipeline stage: rolling chat history, a compacted summary, the step ledger
// for the active agentic run, and the reference links collected during the
// current task.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
)

// StepRecord is one entry of the step ledger: a plan step and the report the
// executor produced for it.
type StepRecord struct {
	Step   string `json:"step"`
	Report string `json:"report"`
}

// Reference is a link or file surfaced during the current task.
type Reference struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Memory is owned by the session and shared by reference across pipeline
// stages. Only the stage currently executing for the session writes to it;
// the mutex guards against status-poll reads racing a background run.
type Memory struct {
	mu sync.RWMutex

	history    []engine.ChatMessage
	summary    string
	steps      []StepRecord
	references []Reference
	results    *ResultSet
	downloads  []string
	thoughts   []string
}

func New() *Memory {
	return &Memory{}
}

// Add appends a chat turn.
func (m *Memory) Add(role engine.MessageRole, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, engine.ChatMessage{Role: role, Content: content})
}

// History returns a copy of the chat history.
func (m *Memory) History() []engine.ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.ChatMessage, len(m.history))
	copy(out, m.history)
	return out
}

// Summary returns the compacted conversation summary.
func (m *Memory) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary
}

// SetSummary replaces the summary wholesale.
func (m *Memory) SetSummary(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = s
}

// ContextBlock renders the summary plus recent turns for classifier prompts.
func (m *Memory) ContextBlock(recent int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	if m.summary != "" {
		b.WriteString("Conversation summary:\n")
		b.WriteString(m.summary)
		b.WriteString("\n\n")
	}
	start := len(m.history) - recent
	if start < 0 {
		start = 0
	}
	if start < len(m.history) {
		b.WriteString("Recent turns:\n")
		for _, t := range m.history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	return b.String()
}

// BeginRun clears the task-scoped state at the start of a new agentic run:
// the step ledger, download list, reference links, and progress narration.
// The result set survives so a follow-up task can still resolve indices
// into the last search until a new one replaces it.
func (m *Memory) BeginRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = nil
	m.downloads = nil
	m.references = nil
	m.thoughts = nil
}

// AddThought records one humanized progress line for the step about to run.
func (m *Memory) AddThought(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thoughts = append(m.thoughts, line)
}

// Thoughts returns a copy of the progress narration for the current run.
func (m *Memory) Thoughts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.thoughts))
	copy(out, m.thoughts)
	return out
}

// RecordStep appends one ledger entry. Exactly one entry is recorded per
// executed step, including steps whose verdict triggers a replan.
func (m *Memory) RecordStep(step, report string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, StepRecord{Step: step, Report: report})
}

// Steps returns a copy of the step ledger.
func (m *Memory) Steps() []StepRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StepRecord, len(m.steps))
	copy(out, m.steps)
	return out
}

// AddReference records a link extracted from a step report.
func (m *Memory) AddReference(ref Reference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references = append(m.references, ref)
}

// ClearReferences drops the collected links. Called when a new
// retrieval-style search begins; at most one current set exists at a time.
func (m *Memory) ClearReferences() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references = nil
}

// References returns a copy of the collected links.
func (m *Memory) References() []Reference {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reference, len(m.references))
	copy(out, m.references)
	return out
}

// RecordDownload notes a file fetched during the current run so it can be
// folded into the document corpus afterwards.
func (m *Memory) RecordDownload(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, path)
}

// Downloads returns a copy of the files fetched during the current run.
func (m *Memory) Downloads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.downloads))
	copy(out, m.downloads)
	return out
}

// Restore replaces the memory content from a persisted snapshot.
func (m *Memory) Restore(history []engine.ChatMessage, summary string, steps []StepRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]engine.ChatMessage(nil), history...)
	m.summary = summary
	m.steps = append([]StepRecord(nil), steps...)
}
