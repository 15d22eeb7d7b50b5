package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/llmerr"
	"github.com/llmbridge/llmbridge/internal/settings"
)

func TestAnthropicEndpointAndHeaders(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	assert.Equal(t, "https://api.anthropic.com/v1/messages", p.Endpoint("", "claude-sonnet-4", false))
	assert.Equal(t, "http://localhost:9090/messages", p.Endpoint("http://localhost:9090", "claude-sonnet-4", true))

	h := p.Headers(settings.Credentials{APIKey: "sk-ant"})
	assert.Equal(t, "sk-ant", h.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, h.Get("anthropic-version"))
	assert.Empty(t, h.Get("Authorization"))
}

func TestAnthropicEncode(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	body, err := p.Encode(&canonical.Request{
		Model: "claude-sonnet-4",
		Messages: []canonical.Message{
			{Role: canonical.RoleSystem, Content: "be terse"},
			{Role: canonical.RoleUser, Content: "weather in oslo?"},
			{Role: canonical.RoleAssistant, Content: "checking", ToolCalls: []canonical.ToolCall{
				{ID: "toolu_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`},
			}},
			{Role: canonical.RoleTool, ToolCallID: "toolu_1", Content: `{"temp_c":12}`},
		},
		Temperature: floatPtr(1.8),
		Tools:       []canonical.Tool{{Name: "get_weather"}},
	})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))

	assert.Equal(t, "be terse", wire["system"], "system messages hoist to the top-level field")
	assert.Equal(t, 1.0, wire["temperature"], "temperature clamps to [0,1]")
	assert.Equal(t, float64(anthropicDefaultMaxTokens), wire["max_tokens"], "max_tokens is mandatory")

	messages := wire["messages"].([]any)
	require.Len(t, messages, 3)

	assistant := messages[1].(map[string]any)
	blocks := assistant["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
	toolUse := blocks[1].(map[string]any)
	assert.Equal(t, "tool_use", toolUse["type"])
	assert.Equal(t, map[string]any{"city": "Oslo"}, toolUse["input"], "arguments decode to an object")

	toolResult := messages[2].(map[string]any)
	assert.Equal(t, "user", toolResult["role"], "tool results travel as user messages")
	resultBlock := toolResult["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", resultBlock["type"])
	assert.Equal(t, "toolu_1", resultBlock["tool_use_id"])

	tools := wire["tools"].([]any)
	schema := tools[0].(map[string]any)["input_schema"]
	assert.Equal(t, map[string]any{"type": "object"}, schema, "nil parameters become an empty object schema")
}

func TestAnthropicEncodeToolChoice(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	tests := []struct {
		name   string
		choice canonical.ToolChoice
		want   map[string]any
	}{
		{"auto", canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}, map[string]any{"type": "auto"}},
		{"required maps to any", canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}, map[string]any{"type": "any"}},
		{"named tool", canonical.ToolChoice{Mode: canonical.ToolChoiceTool, Name: "get_weather"}, map[string]any{"type": "tool", "name": "get_weather"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := p.Encode(&canonical.Request{
				Model:      "claude-sonnet-4",
				Messages:   []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
				Tools:      []canonical.Tool{{Name: "get_weather"}},
				ToolChoice: &tt.choice,
			})
			require.NoError(t, err)
			var wire map[string]any
			require.NoError(t, json.Unmarshal(body, &wire))
			assert.Equal(t, tt.want, wire["tool_choice"])
		})
	}

	t.Run("none drops tools entirely", func(t *testing.T) {
		body, err := p.Encode(&canonical.Request{
			Model:      "claude-sonnet-4",
			Messages:   []canonical.Message{{Role: canonical.RoleUser, Content: "hi"}},
			Tools:      []canonical.Tool{{Name: "get_weather"}},
			ToolChoice: &canonical.ToolChoice{Mode: canonical.ToolChoiceNone},
		})
		require.NoError(t, err)
		var wire map[string]any
		require.NoError(t, json.Unmarshal(body, &wire))
		_, present := wire["tools"]
		assert.False(t, present)
	})
}

func TestAnthropicDecode(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	resp, err := p.Decode([]byte(`{
		"id": "msg_1",
		"type": "message",
		"model": "claude-sonnet-4",
		"content": [
			{"type": "text", "text": "checking"},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Oslo"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 30, "output_tokens": 10}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "checking", resp.Content)
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, 40, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ContinuationToken, "full-history vendors carry no continuation token")
	require.Len(t, resp.ToolCalls, 1)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
}

func TestAnthropicDecodeRejectsWrongEnvelope(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	_, err := p.Decode([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	var fe *llmerr.ResponseFormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Detail, "overloaded")
}

func TestAnthropicDecodeStream(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	resp, err := p.DecodeStream(sseEvents(
		`{"type":"message_start","message":{"id":"msg_1","type":"message","model":"claude-sonnet-4","usage":{"input_tokens":12}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"let me "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"check"}}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\""}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":":\"Oslo\"}"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":6}}`,
	))
	require.NoError(t, err)

	assert.Equal(t, "let me check", resp.Content)
	assert.Equal(t, "claude-sonnet-4", resp.Model)
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
}

func TestAnthropicDecodeStreamIgnoresDeltaForTextIndex(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	// A json delta on a text index must not create a phantom tool call.
	resp, err := p.DecodeStream(sseEvents(
		`{"type":"message_start","message":{"id":"msg_1","type":"message","model":"claude-sonnet-4"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"x\":1}"}}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
	))
	require.NoError(t, err)
	assert.Empty(t, resp.ToolCalls)
}

func TestAnthropicDecodeStreamErrorEvent(t *testing.T) {
	p := NewAnthropicProvider(testLogger())

	_, err := p.DecodeStream(sseEvents(
		`{"type":"message_start","message":{"id":"msg_1","type":"message"}}`,
		`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
	))
	var fe *llmerr.ResponseFormatError
	require.ErrorAs(t, err, &fe)
}
