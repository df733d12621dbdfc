package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/chatrelay/relay/runtime/stream"
)

// consoleSink renders delivery events on a terminal. Chunk and keepalive
// events come from different goroutines, so writes are serialized.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleSink(w io.Writer) *consoleSink {
	return &consoleSink{w: w}
}

func (s *consoleSink) Send(_ context.Context, ev stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case stream.Chunk:
		fmt.Fprintln(s.w, e.Data.Text)
	case stream.Warning:
		fmt.Fprintf(s.w, "! %s\n", e.Data.Text)
	case stream.Queued:
		fmt.Fprintf(s.w, "(request queued at position %d)\n", e.Data.Position)
	case stream.ApprovalRequested:
		fmt.Fprintf(s.w, "approval required [%s] %s: %s\n", e.Data.ID, e.Data.Category, e.Data.Description)
		fmt.Fprintf(s.w, "  /approve %s  or  /deny %s\n", e.Data.ID, e.Data.ID)
	case stream.ApprovalResolved:
		fmt.Fprintf(s.w, "approval %s: %s\n", e.Data.ID, e.Data.Outcome)
	case stream.RunFailed:
		fmt.Fprintf(s.w, "error: %s\n", e.Data.Message)
	case stream.Keepalive:
		// A terminal needs no typing indicator.
	case stream.RunEnd:
		fmt.Fprintln(s.w)
	}
	return nil
}

func (s *consoleSink) Close(context.Context) error { return nil }

// teeSink fans each event out to every sink, returning the first error after
// all sinks have been tried.
type teeSink struct {
	sinks []stream.Sink
}

func newTeeSink(sinks ...stream.Sink) *teeSink {
	return &teeSink{sinks: sinks}
}

func (s *teeSink) Send(ctx context.Context, ev stream.Event) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *teeSink) Close(ctx context.Context) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
