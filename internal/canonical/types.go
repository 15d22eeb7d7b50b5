// Package canonical defines the provider-agnostic request and response model
// that every vendor adapter normalizes to and from.
package canonical

import (
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a typed content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is a single typed piece of message content. Most messages carry
// plain text and use Message.Content instead.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	MIMEType string   `json:"mime_type,omitempty"`
	Data     []byte   `json:"data,omitempty"`
}

// Message is one turn in a conversation.
//
// Content holds plain text; Parts, when set, takes precedence and carries
// structured content. Assistant turns that requested tools carry ToolCalls,
// and tool-result turns (Role == RoleTool) carry the ToolCallID they answer.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// Text returns the plain-text view of the message.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

// ToolChoice constrains which tool the model may call. Name is set only when
// Mode is ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// Request is the canonical, vendor-neutral chat request.
type Request struct {
	Model       string      `json:"model"`
	Messages    []Message   `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  *ToolChoice `json:"tool_choice,omitempty"`
	Stream      bool        `json:"stream,omitempty"`

	// ContinuationToken resumes a server-side conversation for vendors with
	// stateful continuation. Empty for full-history vendors.
	ContinuationToken string `json:"continuation_token,omitempty"`
}

var (
	ErrNoMessages = errors.New("request has no messages")
)

// Validate enforces the canonical request invariants.
func (r *Request) Validate() error {
	if r.Model == "" {
		return errors.New("request has no model")
	}
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		default:
			return fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
		if m.Content == "" && len(m.Parts) == 0 && len(m.ToolCalls) == 0 {
			return fmt.Errorf("message %d has no content", i)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature %v outside [0,2]", *r.Temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens %d must not be negative", r.MaxTokens)
	}
	return nil
}

// ToolCall is a vendor-reported request to invoke a named function.
// Arguments holds the JSON-encoded argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the caller-produced outcome of executing a tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// Usage reports token consumption for a single turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the canonical decoded vendor response for one turn.
type Response struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`

	// ContinuationToken is the vendor's opaque resumption value (a response
	// id for stateful vendors, empty for full-history vendors).
	ContinuationToken string `json:"continuation_token,omitempty"`
}

// NeedsContinuation reports whether the turn requested tool execution and
// must be resumed via the continuation manager.
func (r *Response) NeedsContinuation() bool {
	return len(r.ToolCalls) > 0
}

// ContinuationStrategy selects how a vendor resumes a tool-calling turn.
type ContinuationStrategy string

const (
	// ContinuationStatefulID resumes via an opaque server-side response id.
	ContinuationStatefulID ContinuationStrategy = "stateful_id"
	// ContinuationHistoryRebuild resends the full message history.
	ContinuationHistoryRebuild ContinuationStrategy = "history_rebuild"
)

// ContinuationState carries everything needed to build the next turn after
// tool execution. A new state is derived each turn; it is never mutated in
// place, so a failed follow-up call leaves the previous turn's state intact.
type ContinuationState struct {
	Strategy ContinuationStrategy `json:"strategy"`
	Provider string               `json:"provider"`
	Model    string               `json:"model"`

	// Token is the prior turn's continuation token (stateful_id only).
	Token string `json:"token,omitempty"`

	// Messages is the full prior history including the assistant turn that
	// carried the tool calls (history_rebuild only).
	Messages []Message `json:"messages,omitempty"`

	ToolCalls   []ToolCall  `json:"tool_calls,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  *ToolChoice `json:"tool_choice,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

// SplitModel parses the "provider,model" convention used in model strings.
// A bare model name yields an empty provider.
func SplitModel(model string) (provider, name string) {
	parts := strings.SplitN(model, ",", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return "", strings.TrimSpace(model)
}
