// Package turn accumulates the backend's text-delta stream into logical
// turns (one continuous assistant utterance) and decides where a turn's
// unsent tail can safely be cut into deliverable chunks.
package turn

import (
	"time"
)

type (
	// Turn is one continuous assistant utterance.
	//
	// Invariant: 0 <= SentOffset <= len(FullText) at all times, and
	// SentOffset never decreases.
	Turn struct {
		// FullText is the accumulated utterance text so far.
		FullText string
		// SentOffset is the byte offset up to which text has been emitted.
		SentOffset int
		// StartedAt records when the first delta of this turn arrived.
		StartedAt time.Time
	}

	// Segmenter tracks the current turn and detects turn boundaries in the
	// delta stream. Each delta carries the entire accumulated utterance text,
	// so within one turn the text only grows.
	//
	// Boundary detection, in priority order:
	//  1. A new non-empty message identifier differing from the current one.
	//  2. Fallback: the newly received full text is shorter than the recorded
	//     text, which cannot happen within a growing utterance.
	//
	// The length heuristic is defensive only; backends that supply stable
	// message identifiers never reach it.
	Segmenter struct {
		current   *Turn
		messageID string
		now       func() time.Time
	}
)

// NewSegmenter returns a Segmenter with no current turn.
func NewSegmenter() *Segmenter {
	return &Segmenter{now: time.Now}
}

// Current returns the turn under accumulation, or nil before the first delta.
func (s *Segmenter) Current() *Turn {
	return s.current
}

// Observe folds one text delta into the current turn. fullText is the entire
// utterance so far; messageID is the backend's stable message identifier, or
// empty when the backend does not provide one. When a turn boundary is
// detected the finished turn is returned so callers can archive and
// force-flush it; otherwise Observe returns nil.
func (s *Segmenter) Observe(fullText, messageID string) *Turn {
	if s.current == nil {
		s.current = &Turn{FullText: fullText, StartedAt: s.now()}
		s.messageID = messageID
		return nil
	}

	boundary := false
	switch {
	case messageID != "" && s.messageID != "":
		boundary = messageID != s.messageID
	case len(fullText) < len(s.current.FullText):
		boundary = true
	}

	if !boundary {
		s.current.FullText = fullText
		if messageID != "" {
			s.messageID = messageID
		}
		return nil
	}

	finished := s.current
	s.current = &Turn{FullText: fullText, StartedAt: s.now()}
	s.messageID = messageID
	return finished
}

// Finish closes out the current turn, returning it for archival. Used when a
// terminal result arrives. The segmenter is left with no current turn.
func (s *Segmenter) Finish() *Turn {
	finished := s.current
	s.current = nil
	s.messageID = ""
	return finished
}

// Unsent returns the not-yet-emitted tail of the turn.
func (t *Turn) Unsent() string {
	if t == nil || t.SentOffset >= len(t.FullText) {
		return ""
	}
	return t.FullText[t.SentOffset:]
}

// Advance moves SentOffset forward by n bytes, clamped to the text length.
func (t *Turn) Advance(n int) {
	if n <= 0 {
		return
	}
	t.SentOffset += n
	if t.SentOffset > len(t.FullText) {
		t.SentOffset = len(t.FullText)
	}
}
