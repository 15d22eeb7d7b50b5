package providers

import (
	"log/slog"
	"net/http"

	"github.com/llmbridge/llmbridge/internal/canonical"
	"github.com/llmbridge/llmbridge/internal/settings"
	"github.com/llmbridge/llmbridge/internal/sse"
)

// Provider is the contract every vendor adapter implements. Adapters are pure
// functions over their inputs: encoding and decoding perform no I/O, which is
// what makes them unit-testable without network access. Adding a vendor means
// adding an implementation and registering it, never touching the dispatch
// core.
type Provider interface {
	Name() string

	// Endpoint builds the request URL. baseURL overrides the vendor default
	// when non-empty; some vendors put the model and the streaming mode in
	// the path.
	Endpoint(baseURL, model string, stream bool) string

	// Headers returns the vendor's required HTTP headers (auth, version,
	// organization) for the given credentials.
	Headers(creds settings.Credentials) http.Header

	// Encode translates a canonical request into the vendor wire format.
	Encode(req *canonical.Request) ([]byte, error)

	// Decode translates a complete non-streaming vendor response body into
	// the canonical response.
	Decode(body []byte) (*canonical.Response, error)

	// DecodeStream folds the full ordered event sequence of a streamed
	// response into the canonical response.
	DecodeStream(events []sse.Event) (*canonical.Response, error)

	// ContinuationStrategy reports how this vendor resumes a tool-calling
	// conversation.
	ContinuationStrategy() canonical.ContinuationStrategy
}

// Registry holds the closed set of vendor adapters.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.providers[provider.Name()] = provider
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	provider, exists := r.providers[name]
	return provider, exists
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Initialize registers all built-in providers. The logger receives non-fatal
// extraction warnings from stream decoding.
func (r *Registry) Initialize(logger *slog.Logger) {
	r.Register(NewOpenAIProvider(logger))
	r.Register(NewAnthropicProvider(logger))
	r.Register(NewGeminiProvider(logger))
	r.Register(NewGrokProvider(logger))
	r.Register(NewOpenRouterProvider(logger))
}
