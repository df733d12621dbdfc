// Package stream defines the delivery surface of the relay: the Sink
// interface a front-end channel implements, and the typed events the
// orchestrator emits through it (text chunks, budget warnings, queue and
// approval notices, run lifecycle markers).
//
// All event types embed Base and are immutable after construction. Sinks
// marshal events generically through the Event interface; consumers that
// need structured access type-assert to the concrete types. Emission is
// best-effort: the orchestrator logs and swallows sink errors, so a broken
// channel never aborts the pipeline.
package stream

import "context"

type (
	// Sink delivers orchestrator output to a front-end channel (console,
	// chat platform, message bus). Implementations must be safe for
	// concurrent Send calls: keepalive and approval notices are emitted from
	// timer goroutines concurrently with chunk emission.
	Sink interface {
		// Send publishes one event. Errors indicate delivery failure only;
		// the pipeline treats them as non-fatal.
		Send(ctx context.Context, event Event) error
		// Close releases transport resources. Idempotent.
		Close(ctx context.Context) error
	}

	// Event is one delivery-surface event.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// RunID identifies the pipeline run that produced the event. Empty
		// for session-level events such as queue notices.
		RunID() string
		// SessionID identifies the logical conversation session.
		SessionID() string
		// Payload returns the event-specific data in serializable form.
		Payload() any
	}

	// Base provides the default Event implementation; concrete events embed
	// it. Field names are abbreviated since they are set once at
	// construction and read through the interface methods.
	Base struct {
		t EventType
		r string
		s string
		p any
	}

	// Chunk carries a word-safe slice of assistant text. Chunks for a given
	// turn arrive in non-decreasing offset order and never repeat text.
	Chunk struct {
		Base
		Data ChunkPayload
	}

	// ChunkPayload is the wire payload for Chunk events.
	ChunkPayload struct {
		// Text is the chunk content.
		Text string `json:"text"`
		// Final marks the forced flush at the end of a turn.
		Final bool `json:"final,omitempty"`
	}

	// Warning carries a one-shot context-budget warning.
	Warning struct {
		Base
		Data WarningPayload
	}

	// WarningPayload is the wire payload for Warning events.
	WarningPayload struct {
		// Text is the human-facing warning message.
		Text string `json:"text"`
		// RemainingPct is the remaining context budget, in percent.
		RemainingPct int `json:"remaining_pct"`
	}

	// Queued notifies the caller that their request was deferred behind the
	// in-flight run.
	Queued struct {
		Base
		Data QueuedPayload
	}

	// QueuedPayload is the wire payload for Queued events.
	QueuedPayload struct {
		// Position is the 1-based position in the wait list.
		Position int `json:"position"`
	}

	// Keepalive signals that a run is still working. Emitted periodically so
	// channels can keep a typing indicator alive.
	Keepalive struct {
		Base
	}

	// ApprovalRequested surfaces a pending approval to the human decider.
	ApprovalRequested struct {
		Base
		Data ApprovalRequestedPayload
	}

	// ApprovalRequestedPayload is the wire payload for ApprovalRequested.
	ApprovalRequestedPayload struct {
		// ID correlates a later decision with this request.
		ID string `json:"id"`
		// Description summarizes the gated action.
		Description string `json:"description"`
		// Category is the risk category that flagged the action.
		Category string `json:"category"`
	}

	// ApprovalResolved reports the terminal outcome of an approval.
	ApprovalResolved struct {
		Base
		Data ApprovalResolvedPayload
	}

	// ApprovalResolvedPayload is the wire payload for ApprovalResolved.
	ApprovalResolvedPayload struct {
		ID string `json:"id"`
		// Outcome is "approved", "rejected", or "timed out".
		Outcome string `json:"outcome"`
	}

	// RunFailed reports a backend stream failure as a single generic notice.
	RunFailed struct {
		Base
		Data RunFailedPayload
	}

	// RunFailedPayload is the wire payload for RunFailed events.
	RunFailedPayload struct {
		// Message is a user-safe failure notice; infrastructure detail stays
		// in the logs.
		Message string `json:"message"`
	}

	// RunEnd marks the end of stream-visible events for a run.
	RunEnd struct {
		Base
	}
)

// EventType enumerates delivery event flavors.
type EventType string

const (
	// EventChunk is a word-safe slice of assistant text.
	EventChunk EventType = "chunk"
	// EventWarning is a one-shot context-budget warning.
	EventWarning EventType = "warning"
	// EventQueued notifies a caller of deferred handling.
	EventQueued EventType = "queued"
	// EventKeepalive signals a run is still working.
	EventKeepalive EventType = "keepalive"
	// EventApprovalRequested surfaces a pending approval.
	EventApprovalRequested EventType = "approval_requested"
	// EventApprovalResolved reports an approval outcome.
	EventApprovalResolved EventType = "approval_resolved"
	// EventRunFailed reports a backend stream failure.
	EventRunFailed EventType = "run_failed"
	// EventRunEnd marks the end of a run's events.
	EventRunEnd EventType = "run_end"
)

// NewBase constructs a Base with the given type, run ID, session ID, and
// payload.
func NewBase(t EventType, runID, sessionID string, payload any) Base {
	return Base{t: t, r: runID, s: sessionID, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.r }

// SessionID implements Event.SessionID.
func (e Base) SessionID() string { return e.s }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// NewChunk constructs a Chunk event.
func NewChunk(runID, sessionID, text string, final bool) Chunk {
	p := ChunkPayload{Text: text, Final: final}
	return Chunk{Base: NewBase(EventChunk, runID, sessionID, p), Data: p}
}

// NewWarning constructs a Warning event.
func NewWarning(runID, sessionID, text string, remainingPct int) Warning {
	p := WarningPayload{Text: text, RemainingPct: remainingPct}
	return Warning{Base: NewBase(EventWarning, runID, sessionID, p), Data: p}
}

// NewQueued constructs a Queued event.
func NewQueued(sessionID string, position int) Queued {
	p := QueuedPayload{Position: position}
	return Queued{Base: NewBase(EventQueued, "", sessionID, p), Data: p}
}

// NewKeepalive constructs a Keepalive event.
func NewKeepalive(runID, sessionID string) Keepalive {
	return Keepalive{Base: NewBase(EventKeepalive, runID, sessionID, nil)}
}

// NewApprovalRequested constructs an ApprovalRequested event.
func NewApprovalRequested(runID, sessionID, id, description, category string) ApprovalRequested {
	p := ApprovalRequestedPayload{ID: id, Description: description, Category: category}
	return ApprovalRequested{Base: NewBase(EventApprovalRequested, runID, sessionID, p), Data: p}
}

// NewApprovalResolved constructs an ApprovalResolved event.
func NewApprovalResolved(runID, sessionID, id, outcome string) ApprovalResolved {
	p := ApprovalResolvedPayload{ID: id, Outcome: outcome}
	return ApprovalResolved{Base: NewBase(EventApprovalResolved, runID, sessionID, p), Data: p}
}

// NewRunFailed constructs a RunFailed event.
func NewRunFailed(runID, sessionID, message string) RunFailed {
	p := RunFailedPayload{Message: message}
	return RunFailed{Base: NewBase(EventRunFailed, runID, sessionID, p), Data: p}
}

// NewRunEnd constructs a RunEnd event.
func NewRunEnd(runID, sessionID string) RunEnd {
	return RunEnd{Base: NewBase(EventRunEnd, runID, sessionID, nil)}
}
