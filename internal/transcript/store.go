package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the append-only conversation history of one call.
// It is safe for concurrent Append and read.
type Store struct {
	mu     sync.RWMutex
	events []Event
	clock  func() time.Time
}

func NewStore() *Store {
	return &Store{clock: time.Now}
}

// Append normalises e, assigns an ItemID and Timestamp when absent, and stores it.
// The stored event is returned.
func (s *Store) Append(e Event) Event {
	e = Normalize(e)
	if e.Role == "" {
		e.Role = RoleUnknown
	}
	if e.ItemID == "" {
		e.ItemID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock().UTC()
	}

	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return e
}

// Since returns a copy of the events stored at or after offset and the offset to resume from.
func (s *Store) Since(offset int) ([]Event, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.events) {
		return nil, len(s.events)
	}
	out := make([]Event, len(s.events)-offset)
	copy(out, s.events[offset:])
	return out, len(s.events)
}

// Snapshot returns a copy of every stored event.
func (s *Store) Snapshot() []Event {
	out, _ := s.Since(0)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
