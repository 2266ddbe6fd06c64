package server

import (
	"sync"

	"github.com/ChamsBouzaiene/phidelta/internal/orchestrator"
)

// RunSnapshot is the poll-visible view of a session's background turn.
type RunSnapshot struct {
	IsProcessing    bool     `json:"is_processing"`
	CurrentQuestion string   `json:"current_question"`
	HasResult       bool     `json:"has_result"`
	ThinkingSteps   []string `json:"thinking_steps"`
}

// runState tracks one session's in-flight turn and its last result.
type runState struct {
	processing bool
	question   string
	result     *orchestrator.TurnResult
	err        error
}

// ProcessingState serializes turns per session: a session accepts one turn
// at a time, and the last finished result stays readable until the next
// turn begins.
type ProcessingState struct {
	mu       sync.Mutex
	sessions map[string]*runState
}

func NewProcessingState() *ProcessingState {
	return &ProcessingState{sessions: make(map[string]*runState)}
}

// Begin marks the session as processing. It fails with ErrSessionBusy when
// a turn is already running, and clears any previous result.
func (p *ProcessingState) Begin(sessionID, question string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.sessions[sessionID]
	if st == nil {
		st = &runState{}
		p.sessions[sessionID] = st
	}
	if st.processing {
		return orchestrator.ErrSessionBusy
	}
	st.processing = true
	st.question = question
	st.result = nil
	st.err = nil
	return nil
}

// Finish records the turn's outcome and releases the session.
func (p *ProcessingState) Finish(sessionID string, result *orchestrator.TurnResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.sessions[sessionID]
	if st == nil {
		return
	}
	st.processing = false
	st.result = result
	st.err = err
}

// Status reports whether the session is busy and on what question.
func (p *ProcessingState) Status(sessionID string) RunSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.sessions[sessionID]
	if st == nil {
		return RunSnapshot{}
	}
	return RunSnapshot{
		IsProcessing:    st.processing,
		CurrentQuestion: st.question,
		HasResult:       st.result != nil || st.err != nil,
	}
}

// Result returns the finished turn's outcome. ok is false while the turn is
// still running or no turn has run.
func (p *ProcessingState) Result(sessionID string) (*orchestrator.TurnResult, error, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.sessions[sessionID]
	if st == nil || st.processing {
		return nil, nil, false
	}
	if st.result == nil && st.err == nil {
		return nil, nil, false
	}
	return st.result, st.err, true
}

// Forget drops the session's run state, e.g. after the session is deleted.
func (p *ProcessingState) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}
