// Package session tracks which external conversation the next prompt should
// continue, plus a bounded history of past conversations the user can switch
// back to. State is persisted to a JSON file on every mutation so a restart
// resumes the same conversation.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HistoryLimit is the number of past conversations retained; the oldest is
// evicted first on overflow.
const HistoryLimit = 10

// Entry records one external conversation thread. Entries are never mutated
// after creation.
type Entry struct {
	// ID is the opaque token identifying the subprocess conversation.
	ID string `json:"id"`

	// Label is a short human-readable tag: the start of the message that
	// opened the conversation.
	Label string `json:"label"`

	// StartedAt is when the conversation was created.
	StartedAt time.Time `json:"started_at"`
}

// state is the persisted record.
type state struct {
	// CurrentSessionID is the active conversation id, or empty meaning the
	// next message starts a new conversation.
	CurrentSessionID string `json:"current_session_id"`

	History []Entry `json:"history"`
}

// Store is the single source of truth for the active conversation. All
// mutations persist synchronously; persistence failures are logged and the
// in-memory state keeps working for the rest of the process lifetime.
type Store struct {
	mu     sync.Mutex
	path   string
	state  state
	logger *slog.Logger
}

// NewStore loads the persisted state from path, degrading to an empty state
// when the file is missing or corrupt.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "session"),
	}
	s.load()
	return s
}

// Current returns the active conversation id, or empty when the next message
// should start fresh.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentSessionID
}

// SetCurrent replaces the active conversation id and persists. An empty id
// means the next message starts a new conversation.
func (s *Store) SetCurrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CurrentSessionID = id
	s.persistLocked()
}

// RecordNew appends a freshly minted conversation to history, makes it
// current, evicts entries beyond the bound and persists.
func (s *Store) RecordNew(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.History = append(s.state.History, e)
	if n := len(s.state.History); n > HistoryLimit {
		s.state.History = append(s.state.History[:0:0], s.state.History[n-HistoryLimit:]...)
	}
	s.state.CurrentSessionID = e.ID
	s.persistLocked()
}

// History returns the recorded conversations oldest-first. The returned
// slice is a copy; callers may not reach the store's state through it.
func (s *Store) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.state.History))
	copy(out, s.state.History)
	return out
}

// SwitchTo makes a conversation already present in history current. Whether
// the id still works at the subprocess layer is only discovered on next use.
func (s *Store) SwitchTo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.state.History {
		if e.ID == id {
			s.state.CurrentSessionID = id
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("session %q not in history", id)
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading session state failed, starting empty", "path", s.path, "error", err)
		}
		return
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("session state corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	s.state = st
}

func (s *Store) persistLocked() {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		s.logger.Warn("encoding session state failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Warn("creating session state dir failed", "path", s.path, "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Warn("persisting session state failed", "path", s.path, "error", err)
	}
}
