package providers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/settings"
	"github.com/llmbridge/llmbridge/internal/sse"
)

const openrouterDefaultBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider speaks OpenRouter's Chat Completions API. Identical wire
// format to Grok apart from the attribution headers OpenRouter asks clients
// to send.
type OpenRouterProvider struct {
	name   string
	logger *slog.Logger
}

func NewOpenRouterProvider(logger *slog.Logger) *OpenRouterProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenRouterProvider{name: "openrouter", logger: logger}
}

func (p *OpenRouterProvider) Name() string {
	return p.name
}

func (p *OpenRouterProvider) ContinuationStrategy() canonical.ContinuationStrategy {
	return canonical.ContinuationHistoryRebuild
}

func (p *OpenRouterProvider) Endpoint(baseURL, model string, stream bool) string {
	base := openrouterDefaultBaseURL
	if baseURL != "" {
		base = strings.TrimSuffix(baseURL, "/")
	}
	return base + "/chat/completions"
}

func (p *OpenRouterProvider) Headers(creds settings.Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+creds.APIKey)
	h.Set("Content-Type", "application/json")
	h.Set("HTTP-Referer", "https://github.com/llmbridge/llmbridge")
	h.Set("X-Title", "llmbridge")
	return h
}

func (p *OpenRouterProvider) Encode(req *canonical.Request) ([]byte, error) {
	return encodeChat(req)
}

func (p *OpenRouterProvider) Decode(body []byte) (*canonical.Response, error) {
	return decodeChat(p.name, p.logger, body)
}

func (p *OpenRouterProvider) DecodeStream(events []sse.Event) (*canonical.Response, error) {
	return decodeChatStream(p.name, p.logger, events)
}
