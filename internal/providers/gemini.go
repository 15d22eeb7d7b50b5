package providers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/llmerr"
	"github.com/llmbridge/llmbridge/internal/settings"
	"github.com/llmbridge/llmbridge/internal/sse"
	"github.com/llmbridge/llmbridge/internal/toolcall"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider speaks the Gemini generateContent API. The model name is
// part of the URL, system instructions are a dedicated field, and function
// calls arrive whole (no argument fragments), so extraction uses the
// completed-item strategy with generated ids — Gemini assigns none.
type GeminiProvider struct {
	name   string
	logger *slog.Logger
}

func NewGeminiProvider(logger *slog.Logger) *GeminiProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiProvider{name: "gemini", logger: logger}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

func (p *GeminiProvider) ContinuationStrategy() canonical.ContinuationStrategy {
	return canonical.ContinuationHistoryRebuild
}

func (p *GeminiProvider) Endpoint(baseURL, model string, stream bool) string {
	base := geminiDefaultBaseURL
	if baseURL != "" {
		base = strings.TrimSuffix(baseURL, "/")
	}
	if stream {
		return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", base, model)
	}
	return fmt.Sprintf("%s/models/%s:generateContent", base, model)
}

func (p *GeminiProvider) Headers(creds settings.Credentials) http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", creds.APIKey)
	h.Set("Content-Type", "application/json")
	return h
}

// Gemini wire structures.

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
	Tools             []geminiToolGroup `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiToolGroup struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type geminiFunctionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates,omitempty"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	Error         *geminiAPIError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      *geminiContent `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
	Index        int            `json:"index,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (p *GeminiProvider) Encode(req *canonical.Request) ([]byte, error) {
	wire := geminiRequest{}

	if req.Temperature != nil || req.MaxTokens > 0 {
		wire.GenerationConfig = &geminiGenConfig{
			Temperature:     clampTemperature(req.Temperature, 0, 2),
			MaxOutputTokens: req.MaxTokens,
		}
	}

	// Gemini has no tool-call ids; results reference the function by name.
	callNames := map[string]string{}
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case canonical.RoleSystem:
			if wire.SystemInstruction == nil {
				wire.SystemInstruction = &geminiContent{}
			}
			wire.SystemInstruction.Parts = append(wire.SystemInstruction.Parts,
				geminiPart{Text: m.Text()})
		case canonical.RoleTool:
			wire.Contents = append(wire.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFunctionResponse{
						Name:     callNames[m.ToolCallID],
						Response: map[string]any{"content": m.Text()},
					},
				}},
			})
		case canonical.RoleAssistant:
			var parts []geminiPart
			if text := m.Text(); text != "" {
				parts = append(parts, geminiPart{Text: text})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Name,
						Args: decodeArguments(tc.Arguments),
					},
				})
			}
			wire.Contents = append(wire.Contents, geminiContent{Role: "model", Parts: parts})
		default:
			wire.Contents = append(wire.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Text()}},
			})
		}
	}

	if len(req.Tools) > 0 {
		group := geminiToolGroup{}
		for _, t := range req.Tools {
			group.FunctionDeclarations = append(group.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		wire.Tools = []geminiToolGroup{group}
		if tc := req.ToolChoice; tc != nil {
			wire.ToolConfig = &geminiToolConfig{
				FunctionCallingConfig: encodeGeminiToolChoice(tc),
			}
		}
	}

	return json.Marshal(wire)
}

func encodeGeminiToolChoice(tc *canonical.ToolChoice) geminiFunctionCallingConfig {
	switch tc.Mode {
	case canonical.ToolChoiceNone:
		return geminiFunctionCallingConfig{Mode: "NONE"}
	case canonical.ToolChoiceRequired:
		return geminiFunctionCallingConfig{Mode: "ANY"}
	case canonical.ToolChoiceTool:
		return geminiFunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.Name}}
	default:
		return geminiFunctionCallingConfig{Mode: "AUTO"}
	}
}

func (p *GeminiProvider) Decode(body []byte) (*canonical.Response, error) {
	var wire geminiResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: err.Error()}
	}
	if wire.Error != nil {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: wire.Error.Message}
	}
	if len(wire.Candidates) == 0 {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: "response has no candidates"}
	}

	resp := &canonical.Response{Model: wire.ModelVersion}
	acc := toolcall.NewAccumulator(p.logger)
	var text strings.Builder

	p.collectChunk(&wire, resp, acc, &text)

	resp.Content = text.String()
	resp.ToolCalls = acc.Finalize()
	return resp, nil
}

func (p *GeminiProvider) DecodeStream(events []sse.Event) (*canonical.Response, error) {
	resp := &canonical.Response{}
	acc := toolcall.NewAccumulator(p.logger)

	var text strings.Builder
	seenAny := false

	// Each streamed event is a self-contained generateContent chunk.
	for _, ev := range events {
		var chunk geminiResponse
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			p.logger.Warn("skipping undecodable stream event",
				"provider", p.name, "event", ev.Type, "error", err)
			continue
		}
		if chunk.Error != nil {
			return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: chunk.Error.Message}
		}
		seenAny = true
		if chunk.ModelVersion != "" {
			resp.Model = chunk.ModelVersion
		}
		p.collectChunk(&chunk, resp, acc, &text)
	}

	if !seenAny {
		return nil, &llmerr.ResponseFormatError{Provider: p.name, Detail: "stream produced no decodable events"}
	}

	resp.Content = text.String()
	resp.ToolCalls = acc.Finalize()
	return resp, nil
}

// collectChunk folds one response chunk into the accumulating state. Function
// calls arrive complete; ids are generated at finalization.
func (p *GeminiProvider) collectChunk(chunk *geminiResponse, resp *canonical.Response, acc *toolcall.Accumulator, text *strings.Builder) {
	for _, cand := range chunk.Candidates {
		if cand.Index != 0 {
			continue
		}
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
				if part.FunctionCall != nil {
					acc.Complete(toolcall.CompletedCall{
						Name:      part.FunctionCall.Name,
						Arguments: encodeArguments(part.FunctionCall.Args),
					})
				}
			}
		}
		if cand.FinishReason != "" {
			resp.FinishReason = cand.FinishReason
		}
	}
	if chunk.UsageMetadata != nil {
		resp.Usage = canonical.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
		if resp.Usage.TotalTokens == 0 {
			resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		}
	}
}
