package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
)

const compactSystem = `You compress prior chat history for a research assistant. Preserve the user's goals, key tool findings (titles, links, conclusions), decisions made, and current task status. Omit pleasantries and redundant logs.`

// Compactor folds old history into the summary once the history exceeds
// Threshold turns. The most recent KeepRecent turns always survive verbatim.
type Compactor struct {
	LLM        engine.LLMClient
	Model      string
	Threshold  int
	KeepRecent int
}

// DefaultCompactor returns the standard compaction settings.
func DefaultCompactor(llm engine.LLMClient, model string) *Compactor {
	return &Compactor{LLM: llm, Model: model, Threshold: 30, KeepRecent: 10}
}

// Compact folds everything older than the last KeepRecent turns into the
// summary. No-op while the history is under the threshold. The synopsis is
// appended to the existing summary rather than replacing it; the summary is
// only replaced wholesale by the per-turn refresh.
func (c *Compactor) Compact(ctx context.Context, m *Memory) error {
	m.mu.Lock()
	if len(m.history) <= c.Threshold {
		m.mu.Unlock()
		return nil
	}
	cut := len(m.history) - c.KeepRecent
	older := make([]engine.ChatMessage, cut)
	copy(older, m.history[:cut])
	m.mu.Unlock()

	synopsis, err := engine.Complete(ctx, c.LLM, c.Model,
		compactSystem,
		"Summarize the following history in a short synopsis, preserve facts and decisions:\n\n"+engine.RenderForSummary(older),
		engine.ChatOptions{MaxOutputTokens: 400, Temperature: 0.1},
	)
	if err != nil {
		return fmt.Errorf("history compaction: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// The history may have grown while summarizing; only the prefix we
	// summarized is folded.
	if len(m.history) < cut {
		return nil
	}
	m.history = append([]engine.ChatMessage(nil), m.history[cut:]...)
	if m.summary != "" {
		m.summary = strings.TrimSpace(m.summary) + "\n" + strings.TrimSpace(synopsis)
	} else {
		m.summary = strings.TrimSpace(synopsis)
	}
	return nil
}
