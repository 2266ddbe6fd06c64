// Package server exposes the conversation pipeline over HTTP. Quick and
// retrieval turns can stream token deltas as SSE; agentic turns run in the
// background and are polled via the processing-status endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
	"github.com/ChamsBouzaiene/phidelta/internal/orchestrator"
	"github.com/ChamsBouzaiene/phidelta/internal/session"
)

// Deps bundles everything the server needs to build a per-session pipeline.
type Deps struct {
	LLM      engine.LLMClient
	Model    string
	Sessions *session.Store
	Pipeline orchestrator.Options
}

// Server routes HTTP requests onto per-session pipelines.
type Server struct {
	deps  Deps
	state *ProcessingState

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
}

// sessionRuntime is a session's live memory plus the pipeline bound to it.
type sessionRuntime struct {
	sess     *session.Session
	mem      *memory.Memory
	pipeline *orchestrator.Pipeline
}

func New(deps Deps) *Server {
	return &Server{
		deps:     deps,
		state:    NewProcessingState(),
		runtimes: make(map[string]*sessionRuntime),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /get-processing-status", s.handleProcessingStatus)
	mux.HandleFunc("GET /get-final-result", s.handleFinalResult)
	mux.HandleFunc("POST /new-chat", s.handleNewChat)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /load-session/{id}", s.handleLoadSession)
	mux.HandleFunc("GET /get-chat-history", s.handleChatHistory)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runtime returns the live pipeline for a session, loading it from the
// store on first touch.
func (s *Server) runtime(ctx context.Context, sessionID string) (*sessionRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, ok := s.runtimes[sessionID]; ok {
		return rt, nil
	}

	sess, err := s.deps.Sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	mem := memory.New()
	sess.Hydrate(mem)
	rt := &sessionRuntime{
		sess:     sess,
		mem:      mem,
		pipeline: orchestrator.New(s.deps.LLM, s.deps.Model, mem, s.deps.Pipeline),
	}
	s.runtimes[sessionID] = rt
	return rt, nil
}

// cachedRuntime looks up the in-memory runtime only, never the store. The
// status poll uses it so polling a cold session stays cheap.
func (s *Server) cachedRuntime(sessionID string) (*sessionRuntime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sessionID]
	return rt, ok
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Stream    bool   `json:"stream,omitempty"`
}

type chatResponse struct {
	SessionID string                 `json:"session_id"`
	Status    string                 `json:"status"`
	Route     orchestrator.Route     `json:"route,omitempty"`
	RunStatus orchestrator.RunStatus `json:"run_status,omitempty"`
	Answer    string                 `json:"answer,omitempty"`
	Steps     []memory.StepRecord    `json:"steps,omitempty"`
}

// handleChat accepts one user turn. With stream=true the turn runs inline
// and token deltas flow back as SSE; otherwise the turn runs in the
// background and the client polls /get-processing-status.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("session_id and message are required"))
		return
	}

	rt, err := s.runtime(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.state.Begin(req.SessionID, req.Message); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	if req.Stream {
		s.chatStreaming(w, r, rt, req)
		return
	}

	// Detach from the request context: the turn outlives this request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		result, err := rt.pipeline.Respond(ctx, req.Message, nil)
		if err != nil {
			log.Printf("session %s turn failed: %v", req.SessionID, err)
			s.state.Finish(req.SessionID, nil, err)
			return
		}
		s.persist(ctx, rt)
		s.state.Finish(req.SessionID, &result, nil)
	}()

	writeJSON(w, http.StatusAccepted, chatResponse{
		SessionID: req.SessionID,
		Status:    "processing",
	})
}

// chatStreaming runs the turn inline, forwarding deltas as SSE data events
// and closing with a "done" event carrying the full result.
func (s *Server) chatStreaming(w http.ResponseWriter, r *http.Request, rt *sessionRuntime, req chatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.state.Finish(req.SessionID, nil, errors.New("streaming unsupported"))
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	onDelta := func(delta string) {
		payload, _ := json.Marshal(map[string]string{"delta": delta})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	result, err := rt.pipeline.Respond(r.Context(), req.Message, onDelta)
	if err != nil {
		s.state.Finish(req.SessionID, nil, err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}

	s.persist(r.Context(), rt)
	s.state.Finish(req.SessionID, &result, nil)

	payload, _ := json.Marshal(chatResponse{
		SessionID: req.SessionID,
		Status:    "completed",
		Route:     result.Route,
		RunStatus: result.Status,
		Answer:    result.Answer,
	})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
	flusher.Flush()
}

// persist snapshots the session's memory into the store. A failed save is
// logged but never loses the in-memory turn. A run whose session was
// reloaded or deleted mid-turn is orphaned: its writes are discarded.
func (s *Server) persist(ctx context.Context, rt *sessionRuntime) {
	s.mu.Lock()
	current := s.runtimes[rt.sess.ID] == rt
	s.mu.Unlock()
	if !current {
		log.Printf("session %s was swapped during the turn, discarding its writes", rt.sess.ID)
		return
	}

	rt.sess.Snapshot(rt.mem)

	if rt.sess.Title == "" || rt.sess.Title == "New Session" {
		if title, err := rt.pipeline.Title(ctx); err == nil && title != "" {
			rt.sess.Title = title
		}
	}

	if err := s.deps.Sessions.Save(ctx, rt.sess); err != nil {
		log.Printf("%v: session %s: %v", orchestrator.ErrPersistenceFailure, rt.sess.ID, err)
	}
}

func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session_id is required"))
		return
	}
	snap := s.state.Status(sessionID)
	if rt, ok := s.cachedRuntime(sessionID); ok {
		snap.ThinkingSteps = rt.mem.Thoughts()
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleFinalResult(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session_id is required"))
		return
	}

	result, runErr, ok := s.state.Result(sessionID)
	if !ok {
		writeJSON(w, http.StatusOK, chatResponse{SessionID: sessionID, Status: "pending"})
		return
	}
	if runErr != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"session_id": sessionID,
			"status":     "failed",
			"error":      runErr.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: sessionID,
		Status:    "completed",
		Route:     result.Route,
		RunStatus: result.Status,
		Answer:    result.Answer,
	})
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	sess := session.NewSession()
	if err := s.deps.Sessions.Save(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("%w: %v", orchestrator.ErrPersistenceFailure, err))
		return
	}

	mem := memory.New()
	rt := &sessionRuntime{
		sess:     sess,
		mem:      mem,
		pipeline: orchestrator.New(s.deps.LLM, s.deps.Model, mem, s.deps.Pipeline),
	}
	s.mu.Lock()
	s.runtimes[sess.ID] = rt
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID,
		"title":      sess.Title,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.deps.Sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": metas})
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Drop any cached runtime so the stored state wins.
	s.mu.Lock()
	delete(s.runtimes, id)
	s.mu.Unlock()

	rt, err := s.runtime(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": rt.sess.ID,
		"title":      rt.sess.Title,
		"history":    rt.mem.History(),
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session_id is required"))
		return
	}

	rt, err := s.runtime(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sessionID,
		"history":        rt.mem.History(),
		"thinking_steps": rt.mem.Thoughts(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.deps.Sessions.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.mu.Lock()
	delete(s.runtimes, id)
	s.mu.Unlock()
	s.state.Forget(id)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encoding failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
