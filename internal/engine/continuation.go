package engine

import (
	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/llmerr"
)

// ContinuationState derives the state needed to resume the conversation after
// the caller executes the response's tool calls. A fresh state is built every
// turn; failures in the follow-up call leave it untouched, so the same state
// can be replayed.
func (e *Engine) ContinuationState(req *canonical.Request, resp *canonical.Response) (*canonical.ContinuationState, error) {
	res, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	state := &canonical.ContinuationState{
		Strategy:    res.provider.ContinuationStrategy(),
		Provider:    res.provider.Name(),
		Model:       req.Model,
		ToolCalls:   resp.ToolCalls,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	switch state.Strategy {
	case canonical.ContinuationStatefulID:
		if resp.ContinuationToken == "" {
			return nil, &llmerr.MissingContinuationStateError{Provider: state.Provider}
		}
		state.Token = resp.ContinuationToken
	case canonical.ContinuationHistoryRebuild:
		// The rebuilt history must include the assistant turn that carried
		// the tool calls, or the vendor rejects the dangling tool results.
		assistant := canonical.Message{
			Role:      canonical.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		state.Messages = append(append([]canonical.Message(nil), req.Messages...), assistant)
	}

	return state, nil
}

// ContinueWithToolResults builds the follow-up request that feeds tool
// execution results back to the vendor. Under the stateful strategy the
// request carries only the results and the prior turn's token; under history
// rebuild it carries the full conversation.
func (e *Engine) ContinueWithToolResults(state *canonical.ContinuationState, results []canonical.ToolResult) (*canonical.Request, error) {
	req := &canonical.Request{
		Model:       state.Model,
		Tools:       state.Tools,
		ToolChoice:  state.ToolChoice,
		Temperature: state.Temperature,
		MaxTokens:   state.MaxTokens,
		Stream:      state.Stream,
	}

	resultMessages := make([]canonical.Message, 0, len(results))
	for _, r := range results {
		resultMessages = append(resultMessages, canonical.Message{
			Role:       canonical.RoleTool,
			ToolCallID: r.ToolCallID,
			Content:    r.Content,
		})
	}

	switch state.Strategy {
	case canonical.ContinuationStatefulID:
		if state.Token == "" {
			return nil, &llmerr.MissingContinuationStateError{Provider: state.Provider}
		}
		req.ContinuationToken = state.Token
		req.Messages = resultMessages
	case canonical.ContinuationHistoryRebuild:
		req.Messages = append(append([]canonical.Message(nil), state.Messages...), resultMessages...)
	default:
		return nil, &llmerr.ConfigurationError{
			Provider: state.Provider,
			Reason:   "unknown continuation strategy " + string(state.Strategy),
		}
	}

	return req, nil
}
