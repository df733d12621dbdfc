// Package approval implements the suspend/resume gate for flagged tool
// invocations. A flagged invocation creates a pending approval; the pipeline
// suspends that one action (never stream consumption) until an external
// decision arrives or the timeout resolves it to a rejection.
//
// Guarantees:
//   - Every approval resolves exactly once: approved, rejected, or timed out
//     (which downstream behaves as rejected).
//   - Late decisions after resolution are reported as expired, never applied.
//   - Aborting a run does not resolve its pending approvals; they live on
//     until decided or timed out.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds the lifetime of an undecided approval.
const DefaultTimeout = 10 * time.Minute

// ErrExpired reports a decision for an approval that no longer exists,
// either unknown or already resolved.
var ErrExpired = errors.New("approval expired or already resolved")

// Decision is the terminal state of an approval.
type Decision int

const (
	// Rejected denies the action.
	Rejected Decision = iota
	// Approved permits the action.
	Approved
	// TimedOut records that no decision arrived in time. It behaves as
	// Rejected downstream; the distinct value exists for reporting.
	TimedOut
)

// Permitted reports whether the gated action may proceed.
func (d Decision) Permitted() bool { return d == Approved }

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case TimedOut:
		return "timed out"
	default:
		return "rejected"
	}
}

type (
	// Approval is one pending decision. Callers block on Wait; deciders call
	// Gate.Resolve with the approval's ID.
	Approval struct {
		// ID is the opaque identifier carried by decision events.
		ID string
		// Description is the human-facing summary of the gated action.
		Description string
		// Category is the risk category that flagged the action.
		Category string
		// CreatedAt records when the approval was opened.
		CreatedAt time.Time

		once     sync.Once
		done     chan struct{}
		decision Decision
		timer    *time.Timer
	}

	// Gate tracks pending approvals for a session.
	Gate struct {
		mu      sync.Mutex
		timeout time.Duration
		pending map[string]*Approval
	}
)

// NewGate constructs a Gate. A non-positive timeout falls back to
// DefaultTimeout.
func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{timeout: timeout, pending: make(map[string]*Approval)}
}

// Request opens a pending approval for the described action and arms its
// timeout. The returned approval is already registered for resolution.
func (g *Gate) Request(description, category string) *Approval {
	a := &Approval{
		ID:          uuid.NewString(),
		Description: description,
		Category:    category,
		CreatedAt:   time.Now(),
		done:        make(chan struct{}),
	}
	g.mu.Lock()
	g.pending[a.ID] = a
	// Armed under the lock so a racing resolve observes the timer.
	a.timer = time.AfterFunc(g.timeout, func() {
		g.resolve(a.ID, TimedOut)
	})
	g.mu.Unlock()
	return a
}

// Resolve applies an external decision. Returns ErrExpired when the id is
// unknown or the approval already resolved.
func (g *Gate) Resolve(id string, approved bool) error {
	d := Rejected
	if approved {
		d = Approved
	}
	if !g.resolve(id, d) {
		return ErrExpired
	}
	return nil
}

// Pending returns a snapshot of undecided approvals, for surfacing in UIs.
func (g *Gate) Pending() []*Approval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Approval, 0, len(g.pending))
	for _, a := range g.pending {
		out = append(out, a)
	}
	return out
}

func (g *Gate) resolve(id string, d Decision) bool {
	g.mu.Lock()
	a, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	a.once.Do(func() {
		a.decision = d
		if a.timer != nil {
			a.timer.Stop()
		}
		close(a.done)
	})
	return true
}

// Wait blocks until the approval resolves or ctx is canceled. Cancellation
// abandons the wait without resolving the approval; it remains pending for
// its own timeout.
func (a *Approval) Wait(ctx context.Context) (Decision, error) {
	select {
	case <-a.done:
		return a.decision, nil
	case <-ctx.Done():
		return Rejected, ctx.Err()
	}
}

// Done exposes the resolution signal for select loops.
func (a *Approval) Done() <-chan struct{} { return a.done }

// Decision returns the terminal decision. Only valid after Done is closed.
func (a *Approval) Decision() Decision { return a.decision }
