// Package openai provides a backend.Opener backed by the OpenAI Chat
// Completions streaming API using github.com/openai/openai-go. Incremental
// content deltas are accumulated so each canonical text event carries the
// full utterance so far; tool call fragments buffer until the completion
// finishes and surface as complete invocations.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/chatrelay/relay/runtime/backend"
)

type (
	// ChatCompletionsClient captures the subset of the OpenAI SDK client used
	// by the adapter. Satisfied by the SDK's chat completion service; tests
	// pass a mock.
	ChatCompletionsClient interface {
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Options configures the adapter.
	Options struct {
		// Model is the chat model identifier. Required.
		Model string
		// System is an optional system prompt sent with every request.
		System string
	}

	// Client implements backend.Opener on top of OpenAI Chat Completions.
	Client struct {
		chat   ChatCompletionsClient
		model  string
		system string
	}
)

// New builds an OpenAI-backed opener from the provided chat client and
// options.
func New(chat ChatCompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai chat client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{chat: chat, model: opts.Model, system: opts.System}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, opts)
}

// Open starts a streaming chat completion for the prompt. Like the Anthropic
// adapter, the session identifier is assigned client-side when the request
// does not carry one, and announced through the Init event.
func (c *Client) Open(ctx context.Context, req backend.Request) (backend.Streamer, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if c.system != "" {
		messages = append(messages, sdk.SystemMessage(c.system))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt))
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.model),
		Messages: messages,
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}
	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai chat completions stream: %w", err)
	}
	return newStreamer(ctx, stream, sessionID), nil
}
