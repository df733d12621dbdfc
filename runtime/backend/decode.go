package backend

import "encoding/json"

// wireMessage is the raw backend message schema. Fields are optional; the
// decoder inspects Type and promotes the relevant ones into a canonical Event.
type wireMessage struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId,omitempty"`
	Text       string          `json:"text,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	NoticeKind string          `json:"noticeKind,omitempty"`
	ResultText string          `json:"resultText,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
}

// Decode parses one raw backend message into a canonical Event. The second
// return is false when the message is malformed or of an unknown type; such
// messages are skipped by callers, never treated as fatal. Decode never
// buffers or reorders: one message in, at most one event out.
func Decode(raw []byte) (Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false
	}
	switch EventType(msg.Type) {
	case EventInit:
		if msg.SessionID == "" {
			return Event{}, false
		}
		return Event{Type: EventInit, SessionID: msg.SessionID}, true
	case EventTextDelta:
		return Event{Type: EventTextDelta, Text: msg.Text, MessageID: msg.MessageID}, true
	case EventToolInvocation:
		if msg.ToolName == "" {
			return Event{}, false
		}
		return Event{Type: EventToolInvocation, Tool: &ToolInvocation{
			Name:  msg.ToolName,
			Input: msg.ToolInput,
		}}, true
	case EventSystemNotice:
		if msg.NoticeKind == "" {
			return Event{}, false
		}
		return Event{Type: EventSystemNotice, Notice: NoticeKind(msg.NoticeKind)}, true
	case EventResult:
		return Event{Type: EventResult, Result: &Result{
			Text:  msg.ResultText,
			Usage: msg.Usage,
		}}, true
	default:
		return Event{}, false
	}
}
