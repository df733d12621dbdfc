package turn

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// ParagraphMin is the minimum unsent size (runes) before a paragraph
	// break triggers a flush.
	ParagraphMin = 80
	// HardMax is the unsent size (runes) beyond which a flush always fires.
	HardMax = 400
	// StaleMin is the minimum unsent size (runes) for the staleness trigger.
	StaleMin = 40
	// StaleAfter is how long the unsent tail may sit without a flush before
	// the staleness trigger fires.
	StaleAfter = 3 * time.Second
	// ChunkCeiling caps a single emitted chunk (runes).
	ChunkCeiling = 4_000

	paragraphBreak = "\n\n"
)

// sentenceEnds are the boundaries considered sentence-terminating. The cut
// lands after the punctuation mark; the trailing separator is consumed but
// not re-emitted.
var sentenceEnds = []string{". ", ".\n", "? ", "! "}

// Flusher decides when and where to cut a turn's unsent tail into a chunk.
// It is not safe for concurrent use; one Flusher serves one pipeline run.
type Flusher struct {
	now       func() time.Time
	lastFlush time.Time
}

// NewFlusher returns a Flusher whose staleness clock starts now.
func NewFlusher() *Flusher {
	f := &Flusher{now: time.Now}
	f.lastFlush = f.now()
	return f
}

// Next examines the unsent tail and returns the chunk to emit together with
// the number of bytes to advance the turn's sent offset. advance can exceed
// len(chunk) when a separator is consumed without being re-emitted. ok is
// false when no trigger condition holds.
//
// Trigger conditions (any one):
//   - the tail contains a paragraph break and exceeds ParagraphMin runes
//   - the tail exceeds HardMax runes
//   - the tail exceeds StaleMin runes and no flush occurred for StaleAfter
//
// Cut-point priority: paragraph break (when that trigger fired), last
// sentence end past 30% of the tail, last space past 30%, hard cut at the
// ceiling. Only the hard cut may split mid-sentence; no cut ever splits a
// codepoint.
func (f *Flusher) Next(unsent string) (chunk string, advance int, ok bool) {
	runes := utf8.RuneCountInString(unsent)
	if runes == 0 {
		return "", 0, false
	}
	window := truncateRunes(unsent, ChunkCeiling)
	paraIdx := strings.LastIndex(window, paragraphBreak)

	paraTrigger := paraIdx >= 0 && runes > ParagraphMin
	sizeTrigger := runes > HardMax
	staleTrigger := runes > StaleMin && f.now().Sub(f.lastFlush) >= StaleAfter
	if !paraTrigger && !sizeTrigger && !staleTrigger {
		return "", 0, false
	}

	chunk, advance = cut(window, paraTrigger, paraIdx)
	f.lastFlush = f.now()
	return chunk, advance, true
}

// Force flushes the entire unsent tail regardless of trigger conditions,
// splitting it into ceiling-sized rune-safe chunks. Used on terminal results.
func (f *Flusher) Force(unsent string) []string {
	var chunks []string
	for unsent != "" {
		window := truncateRunes(unsent, ChunkCeiling)
		chunks = append(chunks, window)
		unsent = unsent[len(window):]
	}
	if len(chunks) > 0 {
		f.lastFlush = f.now()
	}
	return chunks
}

func cut(window string, paraTrigger bool, paraIdx int) (string, int) {
	if paraTrigger && paraIdx >= 0 {
		// Emit up to the break, consume the break itself.
		return window[:paraIdx], paraIdx + len(paragraphBreak)
	}
	minCut := len(window) * 3 / 10
	if idx := lastSentenceEnd(window); idx > minCut {
		// idx points at the punctuation mark; the separator after it is
		// consumed but not emitted.
		return window[:idx+1], idx + 2
	}
	if idx := strings.LastIndexByte(window, ' '); idx > minCut {
		return window[:idx], idx + 1
	}
	return window, len(window)
}

// lastSentenceEnd returns the byte index of the punctuation mark of the last
// sentence boundary in window, or -1.
func lastSentenceEnd(window string) int {
	best := -1
	for _, end := range sentenceEnds {
		if idx := strings.LastIndex(window, end); idx > best {
			best = idx
		}
	}
	return best
}

// truncateRunes returns the longest prefix of s holding at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
