package session

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"biblechat/internal/domain"
)

// Session holds the ordered turn history of one conversation. All state is
// in-memory and lives only as long as the session. Methods are serialized so
// a session shared across goroutines keeps its ordering invariant.
type Session struct {
	mu    sync.Mutex
	id    string
	turns []domain.Turn
}

// New creates an empty session. An empty id gets a generated one.
func New(id string) *Session {
	if id == "" {
		id = newID()
	}
	return &Session{id: id}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Append records a turn. Timestamps must be monotonically non-decreasing
// within a session; a turn older than the last recorded one fails with
// ErrInvalidTurnOrder and leaves the session unmodified.
func (s *Session) Append(t domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); n > 0 && t.Timestamp.Before(s.turns[n-1].Timestamp) {
		return domain.ErrInvalidTurnOrder
	}
	s.turns = append(s.turns, t)
	return nil
}

// Snapshot returns a copy of the turns in chronological order.
func (s *Session) Snapshot() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Clear discards all turns. There is no undo; to the user this is starting a
// new conversation. Appending afterwards re-activates the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

func newID() string {
	h := sha1.Sum([]byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	return hex.EncodeToString(h[:8])
}
