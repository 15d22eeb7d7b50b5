package providers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/llmerr"
	"github.com/llmbridge/llmbridge/internal/settings"
	"github.com/llmbridge/llmbridge/internal/sse"
	"github.com/llmbridge/llmbridge/internal/toolcall"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"

	// max_tokens is mandatory on the Messages API.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider speaks the Anthropic Messages API: top-level system
// field, tool_use/tool_result content blocks, and streaming tool arguments
// delivered as input_json_delta fragments keyed by content-block index.
type AnthropicProvider struct {
	name   string
	logger *slog.Logger
}

func NewAnthropicProvider(logger *slog.Logger) *AnthropicProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{name: "anthropic", logger: logger}
}

func (p *AnthropicProvider) Name() string {
	return p.name
}

func (p *AnthropicProvider) ContinuationStrategy() canonical.ContinuationStrategy {
	return canonical.ContinuationHistoryRebuild
}

func (p *AnthropicProvider) Endpoint(baseURL, model string, stream bool) string {
	base := anthropicDefaultBaseURL
	if baseURL != "" {
		base = strings.TrimSuffix(baseURL, "/")
	}
	return base + "/messages"
}

func (p *AnthropicProvider) Headers(creds settings.Credentials) http.Header {
	h := http.Header{}
	h.Set("x-api-key", creds.APIKey)
	h.Set("anthropic-version", anthropicVersion)
	h.Set("Content-Type", "application/json")
	return h
}

// Messages API wire structures.

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	ToolChoice  map[string]any     `json:"tool_choice,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicBlock
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Model      string           `json:"model"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      *anthropicUsage  `json:"usage,omitempty"`
	Error      *anthropicError  `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Encode(req *canonical.Request) ([]byte, error) {
	wire := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: clampTemperature(req.Temperature, 0, 1),
		Stream:      req.Stream,
	}
	if wire.MaxTokens == 0 {
		wire.MaxTokens = anthropicDefaultMaxTokens
	}

	for _, m := range req.Messages {
		switch m.Role {
		case canonical.RoleSystem:
			if wire.System != "" {
				wire.System += "\n"
			}
			wire.System += m.Text()
		case canonical.RoleTool:
			// Tool results travel as user messages with tool_result blocks.
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Text(),
				}},
			})
		case canonical.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				wire.Messages = append(wire.Messages, anthropicMessage{
					Role:    "assistant",
					Content: m.Text(),
				})
				continue
			}
			var blocks []anthropicBlock
			if text := m.Text(); text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: text})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: decodeArguments(tc.Arguments),
				})
			}
			wire.Messages = append(wire.Messages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role:    string(m.Role),
				Content: m.Text(),
			})
		}
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	if tc := req.ToolChoice; tc != nil && len(req.Tools) > 0 {
		switch tc.Mode {
		case canonical.ToolChoiceAuto:
			wire.ToolChoice = map[string]any{"type": "auto"}
		case canonical.ToolChoiceRequired:
			wire.ToolChoice = map[string]any{"type": "any"}
		case canonical.ToolChoiceTool:
			wire.ToolChoice = map[string]any{"type": "tool", "name": tc.Name}
		case canonical.ToolChoiceNone:
			// Omitting both tools and tool_choice disables calling.
			wire.Tools = nil
		}
	}

	return json.Marshal(wire)
}

func (p *AnthropicProvider) Decode(body []byte) (*canonical.Response, error) {
	var wire anthropicResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: err.Error()}
	}
	if wire.Error != nil {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: wire.Error.Message}
	}
	if wire.Type != "message" {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: "unexpected envelope type " + wire.Type}
	}

	resp := &canonical.Response{
		Model:        wire.Model,
		FinishReason: wire.StopReason,
	}
	if wire.Usage != nil {
		resp.Usage = canonical.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		}
	}

	acc := toolcall.NewAccumulator(p.logger)
	var text strings.Builder
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			acc.Complete(toolcall.CompletedCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: encodeArguments(block.Input),
			})
		}
	}
	resp.Content = text.String()
	resp.ToolCalls = acc.Finalize()

	return resp, nil
}

// Streaming event payloads.

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	Message      *anthropicResponse `json:"message,omitempty"`
	ContentBlock *anthropicBlock    `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

func (p *AnthropicProvider) DecodeStream(events []sse.Event) (*canonical.Response, error) {
	resp := &canonical.Response{}
	acc := toolcall.NewAccumulator(p.logger)

	var text strings.Builder
	// Content-block indexes carrying tool_use; text indexes are excluded so
	// a text delta never lands in the accumulator.
	toolIndexes := map[int]bool{}
	seenAny := false

	for _, ev := range events {
		var payload anthropicStreamEvent
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			p.logger.Warn("skipping undecodable stream event",
				"provider", p.name, "event", ev.Type, "error", err)
			continue
		}
		eventType := payload.Type
		if eventType == "" {
			eventType = ev.Type
		}
		seenAny = true

		switch eventType {
		case "message_start":
			if payload.Message != nil {
				resp.Model = payload.Message.Model
				if payload.Message.Usage != nil {
					resp.Usage.PromptTokens = payload.Message.Usage.InputTokens
				}
			}
		case "content_block_start":
			if payload.ContentBlock != nil && payload.ContentBlock.Type == "tool_use" {
				toolIndexes[payload.Index] = true
				acc.Begin(toolcall.IndexKey(payload.Index), payload.ContentBlock.ID, payload.ContentBlock.Name)
			}
		case "content_block_delta":
			if payload.Delta == nil {
				continue
			}
			switch payload.Delta.Type {
			case "text_delta":
				text.WriteString(payload.Delta.Text)
			case "input_json_delta":
				if toolIndexes[payload.Index] {
					acc.AppendArguments(toolcall.IndexKey(payload.Index), payload.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if payload.Delta != nil && payload.Delta.StopReason != "" {
				resp.FinishReason = payload.Delta.StopReason
			}
			if payload.Usage != nil {
				resp.Usage.CompletionTokens = payload.Usage.OutputTokens
			}
		case "error":
			if payload.Error != nil {
				return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: payload.Error.Message}
			}
		}
	}

	if !seenAny {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: "stream produced no decodable events"}
	}

	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	resp.Content = text.String()
	resp.ToolCalls = acc.Finalize()
	return resp, nil
}

// decodeArguments parses a JSON argument string into the object Anthropic
// expects as tool_use input. Malformed text degrades to an empty object.
func decodeArguments(args string) map[string]any {
	if args == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(args), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// encodeArguments renders a tool_use input object back to JSON text.
func encodeArguments(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}
