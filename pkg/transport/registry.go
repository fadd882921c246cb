package transport

import (
	"fmt"
	"net/http"
	"sync"
)

// Provider kinds.
const (
	KindGemini    = "gemini"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Options configures a transport instance.
type Options struct {
	ProviderID  string
	Kind        string
	BaseURL     string
	MaxTokens   int
	Temperature float64

	// HTTPClient overrides the shared client. Tests inject httptest clients.
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		if _, ok := o.HTTPClient.Transport.(*firstByteRoundTripper); ok {
			return o.HTTPClient
		}
		wrapped := *o.HTTPClient
		wrapped.Transport = &firstByteRoundTripper{base: transportOrDefault(o.HTTPClient.Transport)}
		return &wrapped
	}
	return NewHTTPClient(nil)
}

func transportOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

// New creates the transport variant matching opts.Kind.
func New(opts Options) (Transport, error) {
	if opts.ProviderID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	switch opts.Kind {
	case KindGemini:
		return NewGeminiTransport(opts), nil
	case KindOpenAI:
		return NewOpenAITransport(opts), nil
	case KindAnthropic:
		return NewAnthropicTransport(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", opts.Kind)
	}
}

// Registry holds one transport per provider id.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds or replaces a transport.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Provider()] = t
}

// Get returns the transport for a provider id.
func (r *Registry) Get(providerID string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[providerID]
	return t, ok
}
