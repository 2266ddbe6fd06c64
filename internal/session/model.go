package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

// Session represents a persistent conversation.
type Session struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	History   []engine.ChatMessage  `json:"history"`
	Summary   string                `json:"summary,omitempty"`
	Steps     []memory.StepRecord   `json:"steps,omitempty"`
}

// Meta is a lightweight representation for listing.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Summary   string    `json:"summary,omitempty"`
}

// NewSession creates an empty session with a fresh ID.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Title:     "New Session",
		CreatedAt: now,
		UpdatedAt: now,
	}
}
