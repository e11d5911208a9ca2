// Package history keeps the per-user conversation window fed to the
// reasoning service. Histories live for the process lifetime; there is no
// cross-restart persistence and no idle-user eviction.
package history

import "sync"

// Role tags a turn as coming from the user or the assistant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation. Immutable once stored.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DefaultWindow is how many turns are kept per user.
const DefaultWindow = 10

// Store maps an opaque user key to a bounded ordered history of turns.
// Appends evict the oldest turns first, never from the middle.
type Store struct {
	mu     sync.RWMutex
	window int
	turns  map[string][]Turn
}

// NewStore creates a Store keeping at most window turns per user.
// window <= 0 falls back to DefaultWindow.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window: window,
		turns:  make(map[string][]Turn),
	}
}

// Append inserts a turn at the tail of the user's history and truncates the
// head so at most the configured window of turns remains.
func (s *Store) Append(userID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := append(s.turns[userID], turn)
	if len(seq) > s.window {
		seq = seq[len(seq)-s.window:]
	}
	s.turns[userID] = seq
}

// Read returns a copy of the user's current history in insertion order.
// Unseen users get an empty sequence.
func (s *Store) Read(userID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.turns[userID]
	out := make([]Turn, len(seq))
	copy(out, seq)
	return out
}
