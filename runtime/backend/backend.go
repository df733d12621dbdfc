// Package backend defines the canonical event model for the agent backend
// stream and the Streamer interface the orchestrator consumes. Backend
// adapters (features/backend/anthropic, features/backend/openai) translate
// provider wire formats into these events; the orchestrator never sees
// provider-specific types.
//
// Events are immutable once decoded. A Streamer delivers them strictly in
// arrival order; no adapter may reorder or coalesce events.
package backend

import (
	"context"
	"encoding/json"
)

type (
	// EventType discriminates canonical backend events.
	EventType string

	// Event is a single canonical backend event. Exactly one of the optional
	// fields relevant to Type is populated; the rest are zero.
	Event struct {
		// Type identifies which variant this event carries.
		Type EventType
		// SessionID is the backend-assigned session identifier. Set on Init
		// events; may be empty elsewhere.
		SessionID string
		// Text is the accumulated text of the current assistant utterance for
		// TextDelta events. The backend resends the full utterance so far, not
		// an increment.
		Text string
		// MessageID is the backend's stable identifier for the assistant
		// message a TextDelta belongs to. When present it is the authoritative
		// turn boundary signal; segmenters fall back to the length heuristic
		// only when it is empty.
		MessageID string
		// Tool describes the invocation for ToolInvocation events.
		Tool *ToolInvocation
		// Notice is the system notice kind for SystemNotice events.
		Notice NoticeKind
		// Result carries the terminal payload for Result events.
		Result *Result
	}

	// ToolInvocation describes a side-effecting action requested by the agent.
	ToolInvocation struct {
		// Name is the tool identifier (e.g. "bash", "write_file").
		Name string
		// Input is the raw tool input as sent by the backend.
		Input json.RawMessage
	}

	// Result is the terminal event payload for a run.
	Result struct {
		// Text is the final response text, when the backend reports one.
		Text string
		// Usage reports authoritative token usage for the run, when available.
		Usage *Usage
	}

	// Usage is the backend's authoritative token accounting.
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// NoticeKind classifies SystemNotice events.
	NoticeKind string

	// Streamer delivers canonical events for one pipeline run.
	//
	// Contract:
	// - Recv blocks until an event is available, the stream ends (io.EOF), or
	//   the stream fails. Events are delivered strictly in arrival order.
	// - Close terminates the stream; a subsequent Recv returns promptly.
	// - Recv and Close may be called from different goroutines.
	Streamer interface {
		Recv() (Event, error)
		Close() error
	}

	// Opener starts a backend stream for a request. Implementations live in
	// features/backend; the orchestrator depends only on this interface.
	Opener interface {
		Open(ctx context.Context, req Request) (Streamer, error)
	}

	// Request describes one inbound user request handed to the backend.
	Request struct {
		// SessionID resumes an existing backend session when non-empty.
		SessionID string
		// Prompt is the user's message text.
		Prompt string
	}
)

const (
	// EventInit announces the backend session for the run.
	EventInit EventType = "init"
	// EventTextDelta carries the accumulated assistant utterance so far.
	EventTextDelta EventType = "text_delta"
	// EventToolInvocation announces a requested side-effecting action.
	EventToolInvocation EventType = "tool_invocation"
	// EventSystemNotice carries out-of-band backend notices.
	EventSystemNotice EventType = "system_notice"
	// EventResult terminates the run with the final payload.
	EventResult EventType = "result"

	// NoticeCompaction signals the backend summarized history and reset
	// effective context usage.
	NoticeCompaction NoticeKind = "compaction"
)

// TotalTokens returns input plus output tokens.
func (u *Usage) TotalTokens() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}
