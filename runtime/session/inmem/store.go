// Package inmem provides an in-memory session.Store for tests and local
// development. Records live in a map with no durability; production
// deployments use features/session/mongo.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/chatrelay/relay/runtime/session"
)

// Store implements session.Store in memory. All operations are thread-safe.
type Store struct {
	mu      sync.RWMutex
	records map[string]session.Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]session.Record)}
}

// Upsert inserts or updates the record keyed by SessionID. StartedAt is
// preserved for existing records when the incoming value is zero; UpdatedAt
// defaults to now when zero.
func (s *Store) Upsert(_ context.Context, r session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[r.SessionID]
	if ok && r.StartedAt.IsZero() {
		r.StartedAt = existing.StartedAt
	} else if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	s.records[r.SessionID] = r
	return nil
}

// Load retrieves a record or session.ErrNotFound.
func (s *Store) Load(_ context.Context, sessionID string) (session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[sessionID]
	if !ok {
		return session.Record{}, session.ErrNotFound
	}
	return r, nil
}

// Reset clears all records. Useful for test isolation; not part of the
// session.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = make(map[string]session.Record)
	s.mu.Unlock()
}
