package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeInit(t *testing.T) {
	evt, ok := Decode([]byte(`{"type":"init","sessionId":"s-1"}`))
	require.True(t, ok)
	require.Equal(t, EventInit, evt.Type)
	require.Equal(t, "s-1", evt.SessionID)
}

func TestDecodeTextDelta(t *testing.T) {
	evt, ok := Decode([]byte(`{"type":"text_delta","text":"Hi there","messageId":"m-1"}`))
	require.True(t, ok)
	require.Equal(t, EventTextDelta, evt.Type)
	require.Equal(t, "Hi there", evt.Text)
	require.Equal(t, "m-1", evt.MessageID)
}

func TestDecodeToolInvocation(t *testing.T) {
	evt, ok := Decode([]byte(`{"type":"tool_invocation","toolName":"bash","toolInput":{"command":"ls"}}`))
	require.True(t, ok)
	require.Equal(t, EventToolInvocation, evt.Type)
	require.NotNil(t, evt.Tool)
	require.Equal(t, "bash", evt.Tool.Name)
	require.JSONEq(t, `{"command":"ls"}`, string(evt.Tool.Input))
}

func TestDecodeResultWithUsage(t *testing.T) {
	evt, ok := Decode([]byte(`{"type":"result","resultText":"done","usage":{"input_tokens":100,"output_tokens":40}}`))
	require.True(t, ok)
	require.Equal(t, EventResult, evt.Type)
	require.NotNil(t, evt.Result)
	require.Equal(t, "done", evt.Result.Text)
	require.Equal(t, 140, evt.Result.Usage.TotalTokens())
}

func TestDecodeSystemNotice(t *testing.T) {
	evt, ok := Decode([]byte(`{"type":"system_notice","noticeKind":"compaction"}`))
	require.True(t, ok)
	require.Equal(t, EventSystemNotice, evt.Type)
	require.Equal(t, NoticeCompaction, evt.Notice)
}

func TestDecodeSkipsMalformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{"type":`,
		"unknown type":     `{"type":"telepathy"}`,
		"init no session":  `{"type":"init"}`,
		"tool no name":     `{"type":"tool_invocation","toolInput":{}}`,
		"notice no kind":   `{"type":"system_notice"}`,
		"empty message":    ``,
		"not even a shape": `42`,
	}
	for name, raw := range cases {
		_, ok := Decode([]byte(raw))
		require.False(t, ok, name)
	}
}
