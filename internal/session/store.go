package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

// ErrNotFound is returned when a session ID does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the session database at dbPath.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	// WAL allows status polls to read while a background run writes.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping session database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		history    TEXT NOT NULL,
		summary    TEXT NOT NULL DEFAULT '',
		steps      TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save inserts or updates a session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	stepsJSON, err := json.Marshal(sess.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	sess.UpdatedAt = time.Now().UTC()

	query := `
	INSERT INTO sessions (id, title, created_at, updated_at, history, summary, steps)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		updated_at = excluded.updated_at,
		history = excluded.history,
		summary = excluded.summary,
		steps = excluded.steps
	`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.Title, sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
		string(historyJSON), sess.Summary, string(stepsJSON))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load retrieves a session by ID.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, title, created_at, updated_at, history, summary, steps FROM sessions WHERE id = ?`

	var sess Session
	var createdAt, updatedAt int64
	var historyJSON, stepsJSON string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.Title, &createdAt, &updatedAt, &historyJSON, &sess.Summary, &stepsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &sess.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	return &sess, nil
}

// List returns metadata for all sessions, newest first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	query := `SELECT id, title, created_at, updated_at, summary FROM sessions ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var createdAt, updatedAt int64
		if err := rows.Scan(&m.ID, &m.Title, &createdAt, &updatedAt, &m.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Snapshot copies the live memory state into the session for persistence.
func (sess *Session) Snapshot(mem *memory.Memory) {
	sess.History = mem.History()
	sess.Summary = mem.Summary()
	sess.Steps = mem.Steps()
}

// Hydrate restores the live memory state from the session.
func (sess *Session) Hydrate(mem *memory.Memory) {
	// Task-scoped state (result set, links) belongs to the run that made
	// it, never to a reloaded session.
	mem.ClearResults()
	mem.ClearReferences()
	mem.Restore(sess.History, sess.Summary, sess.Steps)
}

// LastUserMessage returns the most recent user turn, or "".
func (sess *Session) LastUserMessage() string {
	for i := len(sess.History) - 1; i >= 0; i-- {
		if sess.History[i].Role == engine.RoleUser {
			return sess.History[i].Content
		}
	}
	return ""
}
