package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/relay/runtime/backend"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil || d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func chunkEvent(t *testing.T, data string) ssestream.Event {
	t.Helper()
	var chunk sdk.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(data), &chunk))
	raw, err := json.Marshal(chunk)
	require.NoError(t, err)
	return ssestream.Event{Data: raw}
}

func collect(t *testing.T, s backend.Streamer) ([]backend.Event, error) {
	t.Helper()
	var out []backend.Event
	for {
		ev, err := s.Recv()
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestStreamerAccumulatesContent(t *testing.T) {
	dec := &testDecoder{events: []ssestream.Event{
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hello"}}]}`),
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":" world"}}]}`),
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`),
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`),
	}}
	stream := ssestream.NewStream[sdk.ChatCompletionChunk](dec, nil)

	s := newStreamer(context.Background(), stream, "s-1")
	defer s.Close() //nolint:errcheck

	events, err := collect(t, s)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 4)

	require.Equal(t, backend.EventInit, events[0].Type)
	require.Equal(t, "s-1", events[0].SessionID)

	require.Equal(t, "Hello", events[1].Text)
	require.Equal(t, "chatcmpl-1", events[1].MessageID)
	require.Equal(t, "Hello world", events[2].Text)

	// Usage trails the finish reason; the result is emitted at end of stream.
	require.Equal(t, backend.EventResult, events[3].Type)
	require.Equal(t, "Hello world", events[3].Result.Text)
	require.Equal(t, 14, events[3].Result.Usage.TotalTokens())
}

func TestStreamerBuffersToolCallFragments(t *testing.T) {
	dec := &testDecoder{events: []ssestream.Event{
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"bash","arguments":"{\"command\":"}}]}}]}`),
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"ls\"}"}}]}}]}`),
		chunkEvent(t, `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`),
	}}
	stream := ssestream.NewStream[sdk.ChatCompletionChunk](dec, nil)

	s := newStreamer(context.Background(), stream, "s-1")
	defer s.Close() //nolint:errcheck

	events, err := collect(t, s)
	require.ErrorIs(t, err, io.EOF)

	var tool *backend.ToolInvocation
	for _, ev := range events {
		if ev.Type == backend.EventToolInvocation {
			require.Nil(t, tool, "tool invocation emitted more than once")
			tool = ev.Tool
		}
	}
	require.NotNil(t, tool)
	require.Equal(t, "bash", tool.Name)
	require.JSONEq(t, `{"command":"ls"}`, string(tool.Input))
}

func TestStreamerSurfacesStreamError(t *testing.T) {
	dec := &testDecoder{err: errors.New("connection reset")}
	stream := ssestream.NewStream[sdk.ChatCompletionChunk](dec, nil)

	s := newStreamer(context.Background(), stream, "s-1")
	defer s.Close() //nolint:errcheck

	events, err := collect(t, s)
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	require.Equal(t, backend.EventInit, events[0].Type)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{Model: "gpt"})
	require.Error(t, err)
}
