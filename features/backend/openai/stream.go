package openai

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/chatrelay/relay/runtime/backend"
)

// streamer adapts an OpenAI chat completion stream to backend.Streamer. The
// pump goroutine translates provider chunks into canonical events on a
// buffered channel; the first stream error is latched and reported after
// buffered events drain.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	events chan backend.Event

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk], sessionID string) backend.Streamer {
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
				return
			}
			if err := s.ctx.Err(); err != nil {
				s.setErr(err)
				return
			}
			// Usage arrives in the trailing chunk, after the finish reason.
			// The terminal result is therefore emitted at end of stream.
			if err := p.Finish(); err != nil {
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

// processor folds chat completion chunks into canonical backend events.
type processor struct {
	emit func(backend.Event) error

	messageID string
	text      strings.Builder
	toolCalls map[int]*toolBuffer
	usage     *backend.Usage
}

type toolBuffer struct {
	name      string
	arguments strings.Builder
}

func newProcessor(emit func(backend.Event) error) *processor {
	return &processor{emit: emit, toolCalls: make(map[int]*toolBuffer)}
}

func (p *processor) Handle(chunk sdk.ChatCompletionChunk) error {
	if p.messageID == "" && chunk.ID != "" {
		p.messageID = chunk.ID
	}
	if chunk.Usage.TotalTokens > 0 {
		p.usage = &backend.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		p.text.WriteString(choice.Delta.Content)
		if err := p.emit(backend.Event{
			Type:      backend.EventTextDelta,
			Text:      p.text.String(),
			MessageID: p.messageID,
		}); err != nil {
			return err
		}
	}
	for _, tc := range choice.Delta.ToolCalls {
		buf := p.toolCalls[int(tc.Index)]
		if buf == nil {
			buf = &toolBuffer{}
			p.toolCalls[int(tc.Index)] = buf
		}
		if tc.Function.Name != "" {
			buf.name = tc.Function.Name
		}
		buf.arguments.WriteString(tc.Function.Arguments)
	}
	if choice.FinishReason == "tool_calls" {
		return p.flushToolCalls()
	}
	return nil
}

// Finish emits any buffered tool invocations and the terminal result. Called
// once the stream is exhausted without error.
func (p *processor) Finish() error {
	if err := p.flushToolCalls(); err != nil {
		return err
	}
	return p.emit(backend.Event{
		Type: backend.EventResult,
		Result: &backend.Result{
			Text:  p.text.String(),
			Usage: p.usage,
		},
	})
}

func (p *processor) flushToolCalls() error {
	for i := 0; i < len(p.toolCalls); i++ {
		buf, ok := p.toolCalls[i]
		if !ok {
			continue
		}
		input := strings.TrimSpace(buf.arguments.String())
		if input == "" {
			input = "{}"
		}
		if err := p.emit(backend.Event{
			Type: backend.EventToolInvocation,
			Tool: &backend.ToolInvocation{Name: buf.name, Input: json.RawMessage(input)},
		}); err != nil {
			return err
		}
	}
	p.toolCalls = make(map[int]*toolBuffer)
	return nil
}
