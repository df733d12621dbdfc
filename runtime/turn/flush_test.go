package turn

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the Flusher staleness timer in tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestFlusher(c *fakeClock) *Flusher {
	f := &Flusher{now: c.Now}
	f.lastFlush = c.Now()
	return f
}

func TestFlushParagraphBreakWins(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	head := strings.Repeat("a", 120)
	unsent := head + "\n\n" + strings.Repeat("b", 378) // 500 runes total
	chunk, advance, ok := f.Next(unsent)
	require.True(t, ok)
	require.Equal(t, head, chunk)
	require.Equal(t, 122, advance)
}

func TestFlushBelowThresholdsHolds(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	_, _, ok := f.Next("short tail, nothing to do yet")
	require.False(t, ok)

	// A paragraph break alone is not enough under ParagraphMin runes.
	_, _, ok = f.Next("one\n\ntwo")
	require.False(t, ok)
}

func TestFlushSentenceCut(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := strings.Repeat("a", 200) + ". " + strings.Repeat("b", 250)
	chunk, advance, ok := f.Next(unsent)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("a", 200)+".", chunk)
	require.Equal(t, 202, advance)
}

func TestFlushSpaceCut(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := strings.Repeat("a", 200) + " " + strings.Repeat("b", 250)
	chunk, advance, ok := f.Next(unsent)
	require.True(t, ok)
	require.Equal(t, strings.Repeat("a", 200), chunk)
	require.Equal(t, 201, advance)
}

// A sentence end in the first 30% of the tail is ignored in favor of a later
// space so chunks do not degenerate into tiny fragments.
func TestFlushEarlySentenceEndIgnored(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := "Ok. " + strings.Repeat("a", 300) + " " + strings.Repeat("b", 200)
	chunk, _, ok := f.Next(unsent)
	require.True(t, ok)
	require.Equal(t, "Ok. "+strings.Repeat("a", 300), chunk)
}

func TestFlushHardCutRuneSafe(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := strings.Repeat("世", 450)
	chunk, advance, ok := f.Next(unsent)
	require.True(t, ok)
	require.True(t, utf8.ValidString(chunk))
	require.Equal(t, unsent, chunk)
	require.Equal(t, len(unsent), advance)
}

func TestFlushChunkCeiling(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := strings.Repeat("世", ChunkCeiling+500)
	chunk, _, ok := f.Next(unsent)
	require.True(t, ok)
	require.True(t, utf8.ValidString(chunk))
	require.Equal(t, ChunkCeiling, utf8.RuneCountInString(chunk))
}

func TestFlushStaleness(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := strings.Repeat("a", 60)
	_, _, ok := f.Next(unsent)
	require.False(t, ok)

	clock.Advance(StaleAfter)
	chunk, _, ok := f.Next(unsent)
	require.True(t, ok)
	require.NotEmpty(t, chunk)

	// The staleness clock resets after a flush.
	_, _, ok = f.Next(unsent)
	require.False(t, ok)
}

func TestForceFlushesEverything(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newTestFlusher(clock)

	unsent := strings.Repeat("世", ChunkCeiling) + "tail"
	chunks := f.Force(unsent)
	require.Len(t, chunks, 2)
	require.Equal(t, unsent, strings.Join(chunks, ""))
	for _, c := range chunks {
		require.True(t, utf8.ValidString(c))
	}
	require.Empty(t, f.Force(""))
}

// Properties that must hold for any tail: emitted chunks are exact prefixes,
// offsets only move forward within bounds, and cuts never split a codepoint.
func TestFlushProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("next emits a rune-safe prefix within bounds", prop.ForAll(
		func(s string) bool {
			clock := &fakeClock{t: time.Now()}
			clock.Advance(StaleAfter) // make the staleness trigger eligible
			f := &Flusher{now: clock.Now}
			chunk, advance, ok := f.Next(s)
			if !ok {
				return chunk == "" && advance == 0
			}
			return strings.HasPrefix(s, chunk) &&
				advance >= len(chunk) &&
				advance <= len(s) &&
				advance > 0 &&
				utf8.ValidString(chunk)
		},
		gen.AnyString(),
	))

	properties.Property("force re-emits the tail exactly", prop.ForAll(
		func(s string) bool {
			clock := &fakeClock{t: time.Now()}
			f := newTestFlusher(clock)
			return strings.Join(f.Force(s), "") == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
