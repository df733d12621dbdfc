package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/chatrelay/relay/runtime/backend"
)

// streamer adapts an Anthropic Messages streaming stream to backend.Streamer.
// A pump goroutine reads provider events and translates them into canonical
// events on a buffered channel; the first stream error is latched and
// reported after buffered events drain.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	events chan backend.Event

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], sessionID string) backend.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		events: make(chan backend.Event, 32),
	}
	go s.run(sessionID)
	return s
}

// Recv implements backend.Streamer.
func (s *streamer) Recv() (backend.Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return backend.Event{}, err
		}
		return backend.Event{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return backend.Event{}, err
	}
}

// Close implements backend.Streamer.
func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run(sessionID string) {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	if err := s.emit(backend.Event{Type: backend.EventInit, SessionID: sessionID}); err != nil {
		s.setErr(err)
		return
	}

	p := newProcessor(s.emit)
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			}
			return
		}
		if err := p.Handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(ev backend.Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.events <- ev:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// processor folds Anthropic stream events into canonical backend events. Text
// deltas accumulate per message and each emission carries the full utterance
// so far, matching the canonical delta contract. Tool input JSON fragments
// buffer until the content block stops, then surface as one complete
// invocation.
type processor struct {
	emit func(backend.Event) error

	messageID  string
	text       strings.Builder
	toolBlocks map[int]*toolBuffer
	usage      *backend.Usage
}

type toolBuffer struct {
	name      string
	fragments []string
}

func newProcessor(emit func(backend.Event) error) *processor {
	return &processor{emit: emit, toolBlocks: make(map[int]*toolBuffer)}
}

func (p *processor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.messageID = ev.Message.ID
		p.text.Reset()
		p.toolBlocks = make(map[int]*toolBuffer)
		return nil

	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			p.toolBlocks[int(ev.Index)] = &toolBuffer{name: toolUse.Name}
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			p.text.WriteString(delta.Text)
			return p.emit(backend.Event{
				Type:      backend.EventTextDelta,
				Text:      p.text.String(),
				MessageID: p.messageID,
			})
		case sdk.InputJSONDelta:
			if tb := p.toolBlocks[int(ev.Index)]; tb != nil && delta.PartialJSON != "" {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
			return nil
		default:
			return nil
		}

	case sdk.ContentBlockStopEvent:
		tb := p.toolBlocks[int(ev.Index)]
		if tb == nil {
			return nil
		}
		delete(p.toolBlocks, int(ev.Index))
		return p.emit(backend.Event{
			Type: backend.EventToolInvocation,
			Tool: &backend.ToolInvocation{
				Name:  tb.name,
				Input: tb.finalInput(),
			},
		})

	case sdk.MessageDeltaEvent:
		p.usage = &backend.Usage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
		}
		return nil

	case sdk.MessageStopEvent:
		return p.emit(backend.Event{
			Type: backend.EventResult,
			Result: &backend.Result{
				Text:  p.text.String(),
				Usage: p.usage,
			},
		})
	}
	return nil
}

func (tb *toolBuffer) finalInput() json.RawMessage {
	joined := strings.TrimSpace(strings.Join(tb.fragments, ""))
	if joined == "" {
		joined = "{}"
	}
	return json.RawMessage(joined)
}
