// Package budget maintains a running estimate of the context window consumed
// by a conversation and raises one-shot warnings as the remaining budget
// shrinks. Estimates combine a fixed baseline (system prompt overhead), a
// chars-per-token ratio applied to prompt/response text, and a flat per-tool
// overhead. A backend-reported usage figure overrides the estimate.
package budget

import "sync"

const (
	// WindowSize is the context window in token-equivalents.
	WindowSize = 200_000
	// Baseline estimates the system prompt and tool schema overhead present
	// before the first user message.
	Baseline = 18_000
	// ToolCallOverhead is the flat token cost added per tool invocation.
	ToolCallOverhead = 500
	// CharsPerToken is the estimation ratio applied to raw text.
	CharsPerToken = 4

	// warnAtTenPct and warnAtFivePct are remaining-percentage thresholds.
	warnAtTenPct  = 10
	warnAtFivePct = 5
)

// Warning identifies a fired budget threshold.
type Warning int

const (
	// WarnTenPct fires when remaining budget first drops to 10% or less.
	WarnTenPct Warning = iota
	// WarnFivePct fires when remaining budget first drops to 5% or less.
	WarnFivePct
)

// Tracker accumulates token usage for one session. Safe for concurrent use,
// though by construction only the active pipeline run mutates it.
type Tracker struct {
	mu sync.Mutex

	used int

	// One-shot gates: each threshold fires at most once until Reset.
	firedTenPct  bool
	firedFivePct bool
}

// NewTracker returns a Tracker seeded with the baseline overhead.
func NewTracker() *Tracker {
	return &Tracker{used: Baseline}
}

// AddTokens adds n tokens to the running estimate. Negative n is ignored;
// usage only decreases via Reset or an authoritative SetTokens.
func (t *Tracker) AddTokens(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.used += n
	t.mu.Unlock()
}

// AddText adds the estimated token cost of raw prompt or response text.
func (t *Tracker) AddText(text string) {
	t.AddTokens(len(text) / CharsPerToken)
}

// AddToolCall adds the flat per-tool-call overhead.
func (t *Tracker) AddToolCall() {
	t.AddTokens(ToolCallOverhead)
}

// SetTokens replaces the estimate with an authoritative figure reported by
// the backend. Values below the baseline are clamped to the baseline.
func (t *Tracker) SetTokens(n int) {
	if n < Baseline {
		n = Baseline
	}
	t.mu.Lock()
	t.used = n
	t.mu.Unlock()
}

// TokensUsed returns the current estimate.
func (t *Tracker) TokensUsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// UsedPct returns the consumed share of the window, capped at 100.
func (t *Tracker) UsedPct() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return usedPct(t.used)
}

// RemainingPct returns the unconsumed share of the window.
func (t *Tracker) RemainingPct() int {
	return 100 - t.UsedPct()
}

// CheckWarnings evaluates the remaining budget against the warning
// thresholds and returns the warnings that fire now. Each threshold fires at
// most once per session lifetime; subsequent checks at the same level return
// nothing until Reset.
func (t *Tracker) CheckWarnings() []Warning {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := 100 - usedPct(t.used)
	var fired []Warning
	if remaining <= warnAtTenPct && !t.firedTenPct {
		t.firedTenPct = true
		fired = append(fired, WarnTenPct)
	}
	if remaining <= warnAtFivePct && !t.firedFivePct {
		t.firedFivePct = true
		fired = append(fired, WarnFivePct)
	}
	return fired
}

// Reset restores the baseline estimate and re-arms both warnings. Invoked on
// backend compaction notices and user-initiated new sessions.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.used = Baseline
	t.firedTenPct = false
	t.firedFivePct = false
	t.mu.Unlock()
}

func usedPct(used int) int {
	pct := (used*100 + WindowSize/2) / WindowSize
	if pct > 100 {
		return 100
	}
	return pct
}
