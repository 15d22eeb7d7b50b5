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

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI Responses API. It is the one stateful
// vendor here: a turn is resumed by previous_response_id instead of resending
// history, and completed function calls arrive as whole output items rather
// than argument deltas.
type OpenAIProvider struct {
	name   string
	logger *slog.Logger
}

func NewOpenAIProvider(logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{name: "openai", logger: logger}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) ContinuationStrategy() canonical.ContinuationStrategy {
	return canonical.ContinuationStatefulID
}

func (p *OpenAIProvider) Endpoint(baseURL, model string, stream bool) string {
	base := openaiDefaultBaseURL
	if baseURL != "" {
		base = strings.TrimSuffix(baseURL, "/")
	}
	return base + "/responses"
}

func (p *OpenAIProvider) Headers(creds settings.Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+creds.APIKey)
	h.Set("Content-Type", "application/json")
	if creds.Organization != "" {
		h.Set("OpenAI-Organization", creds.Organization)
	}
	return h
}

// Responses API wire structures.

type openaiRequest struct {
	Model              string       `json:"model"`
	Input              []openaiItem `json:"input"`
	Instructions       string       `json:"instructions,omitempty"`
	Temperature        *float64     `json:"temperature,omitempty"`
	MaxOutputTokens    int          `json:"max_output_tokens,omitempty"`
	Tools              []openaiTool `json:"tools,omitempty"`
	ToolChoice         any          `json:"tool_choice,omitempty"`
	Stream             bool         `json:"stream,omitempty"`
	PreviousResponseID string       `json:"previous_response_id,omitempty"`
}

type openaiItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []openaiContent `json:"content,omitempty"`

	// function_call items
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status,omitempty"`

	// function_call_output items
	Output string `json:"output,omitempty"`
}

type openaiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type openaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openaiResponse struct {
	ID     string       `json:"id"`
	Model  string       `json:"model"`
	Status string       `json:"status"`
	Output []openaiItem `json:"output"`
	Usage  *openaiUsage `json:"usage,omitempty"`
	Error  *openaiError `json:"error,omitempty"`
}

type openaiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (p *OpenAIProvider) Encode(req *canonical.Request) ([]byte, error) {
	wire := openaiRequest{
		Model:              req.Model,
		Temperature:        clampTemperature(req.Temperature, 0, 2),
		MaxOutputTokens:    req.MaxTokens,
		Stream:             req.Stream,
		PreviousResponseID: req.ContinuationToken,
	}

	for _, m := range req.Messages {
		switch m.Role {
		case canonical.RoleSystem:
			// System instruction is a top-level field, not an input item.
			if wire.Instructions != "" {
				wire.Instructions += "\n"
			}
			wire.Instructions += m.Text()
		case canonical.RoleTool:
			wire.Input = append(wire.Input, openaiItem{
				Type:   "function_call_output",
				CallID: m.ToolCallID,
				Output: m.Text(),
			})
		case canonical.RoleAssistant:
			if text := m.Text(); text != "" {
				wire.Input = append(wire.Input, openaiItem{
					Type:    "message",
					Role:    "assistant",
					Content: []openaiContent{{Type: "output_text", Text: text}},
				})
			}
			for _, tc := range m.ToolCalls {
				wire.Input = append(wire.Input, openaiItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: tc.Arguments,
				})
			}
		default:
			wire.Input = append(wire.Input, openaiItem{
				Type:    "message",
				Role:    string(m.Role),
				Content: []openaiContent{{Type: "input_text", Text: m.Text()}},
			})
		}
	}

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	wire.ToolChoice = encodeOpenAIToolChoice(req.ToolChoice, len(req.Tools))

	return json.Marshal(wire)
}

// encodeOpenAIToolChoice maps the canonical tool choice to the Responses API
// value. A choice without tools is dropped to avoid vendor validation errors.
func encodeOpenAIToolChoice(tc *canonical.ToolChoice, toolCount int) any {
	if tc == nil || toolCount == 0 {
		return nil
	}
	switch tc.Mode {
	case canonical.ToolChoiceTool:
		return map[string]any{"type": "function", "name": tc.Name}
	case canonical.ToolChoiceAuto, canonical.ToolChoiceNone, canonical.ToolChoiceRequired:
		return string(tc.Mode)
	}
	return nil
}

func (p *OpenAIProvider) Decode(body []byte) (*canonical.Response, error) {
	var wire openaiResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: err.Error()}
	}
	if wire.Error != nil {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: wire.Error.Message}
	}
	if wire.ID == "" && len(wire.Output) == 0 {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: "response has no id and no output"}
	}

	resp := &canonical.Response{
		Model:             wire.Model,
		FinishReason:      wire.Status,
		ContinuationToken: wire.ID,
	}
	if wire.Usage != nil {
		resp.Usage = usageFromOpenAI(wire.Usage)
	}

	acc := toolcall.NewAccumulator(p.logger)
	resp.Content = collectOpenAIOutput(wire.Output, acc)
	resp.ToolCalls = acc.Finalize()

	return resp, nil
}

func usageFromOpenAI(u *openaiUsage) canonical.Usage {
	out := canonical.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

// collectOpenAIOutput filters output items by type: message items contribute
// their output_text parts, completed function_call items become tool calls.
func collectOpenAIOutput(items []openaiItem, acc *toolcall.Accumulator) string {
	var text strings.Builder
	for _, item := range items {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					text.WriteString(c.Text)
				}
			}
		case "function_call":
			if item.Status != "" && item.Status != "completed" {
				continue
			}
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			acc.Complete(toolcall.CompletedCall{
				ID:        id,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	return text.String()
}

type openaiStreamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	Item     *openaiItem     `json:"item,omitempty"`
	Response *openaiResponse `json:"response,omitempty"`
}

func (p *OpenAIProvider) DecodeStream(events []sse.Event) (*canonical.Response, error) {
	resp := &canonical.Response{}
	acc := toolcall.NewAccumulator(p.logger)

	var text strings.Builder
	seenAny := false

	for _, ev := range events {
		var payload openaiStreamEvent
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
		case "response.output_text.delta":
			text.WriteString(payload.Delta)
		case "response.output_item.done":
			if payload.Item != nil && payload.Item.Type == "function_call" {
				id := payload.Item.CallID
				if id == "" {
					id = payload.Item.ID
				}
				acc.Complete(toolcall.CompletedCall{
					ID:        id,
					Name:      payload.Item.Name,
					Arguments: payload.Item.Arguments,
				})
			}
		case "response.created", "response.in_progress", "response.completed", "response.failed":
			if payload.Response == nil {
				continue
			}
			if payload.Response.ID != "" {
				resp.ContinuationToken = payload.Response.ID
			}
			if payload.Response.Model != "" {
				resp.Model = payload.Response.Model
			}
			if payload.Response.Status != "" {
				resp.FinishReason = payload.Response.Status
			}
			if payload.Response.Usage != nil {
				resp.Usage = usageFromOpenAI(payload.Response.Usage)
			}
			if eventType == "response.failed" {
				msg := "response.failed"
				if payload.Response.Error != nil && payload.Response.Error.Message != "" {
					msg = payload.Response.Error.Message
				}
				return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: msg}
			}
			// The completed snapshot carries the full output; use it when
			// no text deltas were observed.
			if eventType == "response.completed" && text.Len() == 0 {
				text.WriteString(collectOpenAIOutput(payload.Response.Output, acc))
			}
		}
	}

	if !seenAny {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: "stream produced no decodable events"}
	}

	resp.Content = text.String()
	resp.ToolCalls = acc.Finalize()
	return resp, nil
}

// clampTemperature bounds a temperature to the vendor's valid range.
func clampTemperature(t *float64, lo, hi float64) *float64 {
	if t == nil {
		return nil
	}
	v := *t
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return &v
}
