package providers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/settings"
	"github.com/llmbridge/llmbridge/internal/sse"
)

const grokDefaultBaseURL = "https://api.x.ai/v1"

// GrokProvider speaks the x.ai Chat Completions API, an OpenAI-compatible
// wire format with delta-accumulated tool-call arguments.
type GrokProvider struct {
	name   string
	logger *slog.Logger
}

func NewGrokProvider(logger *slog.Logger) *GrokProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrokProvider{name: "grok", logger: logger}
}

func (p *GrokProvider) Name() string {
	return p.name
}

func (p *GrokProvider) ContinuationStrategy() canonical.ContinuationStrategy {
	return canonical.ContinuationHistoryRebuild
}

func (p *GrokProvider) Endpoint(baseURL, model string, stream bool) string {
	base := grokDefaultBaseURL
	if baseURL != "" {
		base = strings.TrimSuffix(baseURL, "/")
	}
	return base + "/chat/completions"
}

func (p *GrokProvider) Headers(creds settings.Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+creds.APIKey)
	h.Set("Content-Type", "application/json")
	return h
}

func (p *GrokProvider) Encode(req *canonical.Request) ([]byte, error) {
	return encodeChat(req)
}

func (p *GrokProvider) Decode(body []byte) (*canonical.Response, error) {
	return decodeChat(p.name, p.logger, body)
}

func (p *GrokProvider) DecodeStream(events []sse.Event) (*canonical.Response, error) {
	return decodeChatStream(p.name, p.logger, events)
}
