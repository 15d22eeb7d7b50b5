// Package engine is the dispatch core: it resolves the vendor adapter from
// the model string, encodes the canonical request, drives the transport and
// decodes the vendor's answer back into the canonical model.
package engine

import (
	"context"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/llmerr"
	"github.com/llmbridge/llmbridge/internal/providers"
	"github.com/llmbridge/llmbridge/internal/settings"
	"github.com/llmbridge/llmbridge/internal/sse"
	"github.com/llmbridge/llmbridge/internal/transport"
)

// Engine coordinates adapters, credentials and the transport. It holds no
// per-conversation state; continuation state is derived per turn and owned by
// the caller.
type Engine struct {
	registry  *providers.Registry
	settings  settings.Provider
	transport *transport.Client
	logger    *slog.Logger
}

func New(registry *providers.Registry, creds settings.Provider, client *transport.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		settings:  creds,
		transport: client,
		logger:    logger,
	}
}

// resolved is everything needed to issue one vendor call.
type resolved struct {
	provider providers.Provider
	creds    settings.Credentials
	model    string
}

// resolve maps the request's "provider,model" string to an adapter and its
// credentials. Missing keys are a configuration error, surfaced before any
// network activity.
func (e *Engine) resolve(req *canonical.Request) (*resolved, error) {
	vendor, model := canonical.SplitModel(req.Model)
	if vendor == "" {
		return nil, &llmerr.ConfigurationError{
			Provider: req.Model,
			Reason:   `model must be of the form "provider,model"`,
		}
	}
	provider, ok := e.registry.Get(vendor)
	if !ok {
		return nil, &llmerr.ConfigurationError{Provider: vendor, Reason: "unknown provider"}
	}
	creds, err := e.settings.Get(vendor)
	if err != nil {
		return nil, &llmerr.ConfigurationError{Provider: vendor, Reason: err.Error()}
	}
	if creds.APIKey == "" {
		return nil, &llmerr.ConfigurationError{Provider: vendor, Reason: "no api key configured"}
	}
	return &resolved{provider: provider, creds: creds, model: model}, nil
}

// prepare validates and encodes the request, returning the transport call to
// issue. The adapter sees the bare model name, not the routing prefix.
func (e *Engine) prepare(req *canonical.Request, stream bool) (*resolved, *transport.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	res, err := e.resolve(req)
	if err != nil {
		return nil, nil, err
	}

	wireReq := *req
	wireReq.Model = res.model
	wireReq.Stream = stream

	body, err := res.provider.Encode(&wireReq)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("dispatching request",
		"provider", res.provider.Name(),
		"model", res.model,
		"stream", stream,
		"messages", len(req.Messages),
		"estimated_prompt_tokens", estimatePromptTokens(req.Messages),
	)

	return res, &transport.Request{
		Provider: res.provider.Name(),
		URL:      res.provider.Endpoint(res.creds.BaseURL, res.model, stream),
		Header:   res.provider.Headers(res.creds),
		Body:     body,
	}, nil
}

// Request performs a blocking invocation and returns the decoded response.
func (e *Engine) Request(ctx context.Context, req *canonical.Request) (*canonical.Response, error) {
	res, call, err := e.prepare(req, false)
	if err != nil {
		return nil, err
	}

	body, err := e.transport.Do(ctx, call)
	if err != nil {
		return nil, err
	}

	resp, err := res.provider.Decode(body)
	if err != nil {
		return nil, err
	}
	e.finish(res, resp)
	return resp, nil
}

// StreamRequest performs a streaming invocation. sink receives each raw
// vendor chunk as it arrives; the decoded response is assembled afterwards
// from the complete event sequence, so the conclusive result never depends on
// what the sink did with the incremental bytes.
func (e *Engine) StreamRequest(ctx context.Context, req *canonical.Request, sink transport.Sink) (*canonical.Response, error) {
	res, call, err := e.prepare(req, true)
	if err != nil {
		return nil, err
	}

	body, err := e.transport.Stream(ctx, call, sink)
	if err != nil {
		return nil, err
	}

	parser := sse.NewParser(e.logger)
	events := parser.Feed(body)
	events = append(events, parser.Flush()...)

	resp, err := res.provider.DecodeStream(events)
	if err != nil {
		return nil, err
	}
	e.finish(res, resp)
	return resp, nil
}

// finish backfills fields the vendor did not echo and logs the turn outcome.
func (e *Engine) finish(res *resolved, resp *canonical.Response) {
	if resp.Model == "" {
		resp.Model = res.model
	}
	e.logger.Debug("request complete",
		"provider", res.provider.Name(),
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.ToolCalls),
		"total_tokens", resp.Usage.TotalTokens,
	)
}

// estimatePromptTokens is a diagnostics-only estimate using the cl100k_base
// encoding. Vendor tokenizers differ; authoritative counts come back in the
// response usage.
func estimatePromptTokens(messages []canonical.Message) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Text(), nil, nil))
	}
	return total
}
