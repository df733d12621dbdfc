// Package session holds the mutable relay state for one logical
// conversation. The state that an earlier design would scatter across
// package globals (backend session id, model choice, budget tracker, request
// queue, approval gate) lives in one explicit Runtime value with a defined
// construction and reset lifecycle, passed by reference to the pipeline.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatrelay/relay/runtime/approval"
	"github.com/chatrelay/relay/runtime/budget"
	"github.com/chatrelay/relay/runtime/queue"
)

type (
	// Runtime is the per-conversation state container. Its Tracker is
	// mutated only by the active pipeline run, which holds the Queue's busy
	// slot; the id is guarded for readers on other goroutines (keepalive
	// timers, status commands).
	Runtime struct {
		mu sync.Mutex
		id string

		// Model names the backend model serving this session.
		Model string
		// Tracker estimates context budget consumption.
		Tracker *budget.Tracker
		// Gate arbitrates approvals for flagged actions.
		Gate *approval.Gate
		// Queue serializes pipeline runs.
		Queue *queue.Queue
	}

	// Record is the persisted metadata for a session.
	Record struct {
		// SessionID is the backend-assigned session identifier.
		SessionID string
		// Model names the model that served the session.
		Model string
		// TokensUsed is the last recorded budget estimate.
		TokensUsed int
		// StartedAt records when the session was first observed.
		StartedAt time.Time
		// UpdatedAt records the last metadata write.
		UpdatedAt time.Time
	}

	// Store persists session metadata so channels can resume conversations.
	Store interface {
		// Upsert inserts or updates the record keyed by SessionID.
		Upsert(ctx context.Context, r Record) error
		// Load retrieves a record. Returns ErrNotFound when missing.
		Load(ctx context.Context, sessionID string) (Record, error)
	}
)

// ErrNotFound indicates a session record does not exist in the store.
var ErrNotFound = errors.New("session not found")

// NewRuntime constructs a Runtime with a fresh tracker and gate. onError
// observes isolated queue handler failures.
func NewRuntime(model string, gate *approval.Gate, onError func(error)) *Runtime {
	return &Runtime{
		Model:   model,
		Tracker: budget.NewTracker(),
		Gate:    gate,
		Queue:   queue.New(onError),
	}
}

// ID returns the backend session id, empty before the first Init event.
func (r *Runtime) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// SetID records the backend session id announced by an Init event.
func (r *Runtime) SetID(id string) {
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
}

// Reset starts a new logical session: the id is cleared so the next run
// opens a fresh backend session, and the budget tracker returns to baseline
// with warnings re-armed. Pending approvals are deliberately untouched; they
// resolve on their own terms.
func (r *Runtime) Reset() {
	r.mu.Lock()
	r.id = ""
	r.mu.Unlock()
	r.Tracker.Reset()
}
