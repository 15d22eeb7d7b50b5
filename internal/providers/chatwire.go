package providers

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/llmerr"
	"github.com/llmbridge/llmbridge/internal/sse"
	"github.com/llmbridge/llmbridge/internal/toolcall"
)

// Chat Completions wire format, shared by the OpenAI-compatible vendors
// (Grok, OpenRouter). Tool calls stream as indexed argument fragments, so
// decoding uses the delta-accumulation strategy.

type chatRequest struct {
	Model         string             `json:"model"`
	Messages      []chatMessage      `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	Tools         []chatTool         `json:"tools,omitempty"`
	ToolChoice    any                `json:"tool_choice,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	StreamOptions *chatStreamOptions `json:"stream_options,omitempty"`
}

type chatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatFunctionDecl `json:"function"`
}

type chatFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatDelta   `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason,omitempty"`
}

type chatDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// encodeChat translates a canonical request into the Chat Completions format.
// System messages stay in the messages array; the tool schema is the nested
// {type:"function", function:{...}} shape.
func encodeChat(req *canonical.Request) ([]byte, error) {
	wire := chatRequest{
		Model:       req.Model,
		Temperature: clampTemperature(req.Temperature, 0, 2),
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}
	if req.Stream {
		wire.StreamOptions = &chatStreamOptions{IncludeUsage: true}
	}

	for _, m := range req.Messages {
		msg := chatMessage{
			Role:       string(m.Role),
			Content:    m.Text(),
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: chatFunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		wire.Messages = append(wire.Messages, msg)
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, chatTool{
			Type: "function",
			Function: chatFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if tc := req.ToolChoice; tc != nil && len(req.Tools) > 0 {
		switch tc.Mode {
		case canonical.ToolChoiceTool:
			wire.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": tc.Name},
			}
		default:
			wire.ToolChoice = string(tc.Mode)
		}
	}

	return json.Marshal(wire)
}

// decodeChat translates a complete Chat Completions response body.
func decodeChat(provider string, logger *slog.Logger, body []byte) (*canonical.Response, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &llmerr.ResponseFormatError{Provider: provider, Detail: err.Error()}
	}
	if wire.Error != nil {
		return nil, &llmerr.ResponseFormatError{Provider: provider, Detail: wire.Error.Message}
	}
	if len(wire.Choices) == 0 {
		return nil, &llmerr.ResponseFormatError{Provider: provider, Detail: "response has no choices"}
	}

	choice := wire.Choices[0]
	if choice.Message == nil {
		return nil, &llmerr.ResponseFormatError{Provider: provider, Detail: "choice has no message"}
	}

	resp := &canonical.Response{
		Content: choice.Message.Content,
		Model:   wire.Model,
	}
	if choice.FinishReason != nil {
		resp.FinishReason = *choice.FinishReason
	}
	if wire.Usage != nil {
		resp.Usage = canonical.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
		if resp.Usage.TotalTokens == 0 {
			resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		}
	}

	acc := toolcall.NewAccumulator(logger)
	for _, tc := range choice.Message.ToolCalls {
		acc.Complete(toolcall.CompletedCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	resp.ToolCalls = acc.Finalize()

	return resp, nil
}

// decodeChatStream folds streamed chat.completion.chunk events into the
// canonical response. Tool-call fragments are keyed by their positional
// index; name and id may only be present on the first fragment.
func decodeChatStream(provider string, logger *slog.Logger, events []sse.Event) (*canonical.Response, error) {
	resp := &canonical.Response{}
	acc := toolcall.NewAccumulator(logger)

	var text strings.Builder
	seenAny := false

	for _, ev := range events {
		var chunk chatResponse
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			logger.Warn("skipping undecodable stream event",
				"provider", provider, "event", ev.Type, "error", err)
			continue
		}
		if chunk.Error != nil {
			return nil, &llmerr.ResponseFormatError{Provider: provider, Detail: chunk.Error.Message}
		}
		seenAny = true

		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.Usage = canonical.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
			if resp.Usage.TotalTokens == 0 {
				resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta != nil {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
			}
			for fragPos, tc := range choice.Delta.ToolCalls {
				index := fragPos
				if tc.Index != nil {
					index = *tc.Index
				}
				key := toolcall.IndexKey(index)
				acc.Begin(key, tc.ID, tc.Function.Name)
				acc.AppendArguments(key, tc.Function.Arguments)
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			resp.FinishReason = *choice.FinishReason
		}
	}

	if !seenAny {
		return nil, &llmerr.ResponseFormatError{Provider: provider, Detail: "stream produced no decodable events"}
	}

	resp.Content = text.String()
	resp.ToolCalls = acc.Finalize()
	return resp, nil
}
