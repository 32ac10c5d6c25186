package flow

import (
	"log/slog"
	"sync"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

type sessionEntry struct {
	mu  sync.Mutex
	rec models.SessionRecord
}

// SessionStore maps conversation addresses to their in-memory session record.
// Records are created lazily in StateMain. Every mutation goes through Update,
// which holds that address's own lock; unrelated addresses never contend.
type SessionStore struct {
	clock   Clock
	mu      sync.Mutex
	entries map[models.Address]*sessionEntry
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore(clock Clock) *SessionStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SessionStore{
		clock:   clock,
		entries: make(map[models.Address]*sessionEntry),
	}
}

func (s *SessionStore) entry(addr models.Address) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[addr]
	if !ok {
		e = &sessionEntry{rec: models.SessionRecord{Address: addr, State: models.StateMain}}
		s.entries[addr] = e
		slog.Debug("SessionStore created session", "address", addr)
	}
	return e
}

// Get returns a snapshot of the session for addr.
func (s *SessionStore) Get(addr models.Address) models.SessionRecord {
	e := s.entry(addr)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec
}

// Update runs fn on the session for addr under that address's lock. Changes
// made by fn are kept even when fn returns an error, since sends already
// issued cannot be rolled back.
func (s *SessionStore) Update(addr models.Address, fn func(rec *models.SessionRecord) error) error {
	e := s.entry(addr)
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.rec.State
	err := fn(&e.rec)
	if !models.IsValidDialogState(e.rec.State) {
		slog.Error("SessionStore Update: invalid state, resetting", "address", addr, "state", e.rec.State)
		e.rec.State = models.StateMain
	}
	e.rec.UpdatedAt = s.clock.Now()
	if before != e.rec.State {
		slog.Debug("SessionStore state transition", "address", addr, "from", before, "to", e.rec.State)
	}
	return err
}

// Len returns the number of sessions held.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
