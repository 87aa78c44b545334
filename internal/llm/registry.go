package llm

import "sync"

// APIFormat identifies the wire shape a provider's chat-completion endpoint
// speaks, so the transport knows how to build the request body and parse the
// response.
type APIFormat string

const (
	APIFormatOpenAI    APIFormat = "openai"
	APIFormatAnthropic APIFormat = "anthropic"
	APIFormatOllama    APIFormat = "ollama"
)

// AuthType identifies how a provider expects its API key presented.
type AuthType string

const (
	AuthTypeBearer AuthType = "bearer" // Authorization: Bearer <key>
	AuthTypeAPIKey AuthType = "apikey" // a provider-specific header, e.g. x-api-key
	AuthTypeNone   AuthType = "none"   // local providers (ollama) need no auth
)

// ProviderAPIConfig is everything the transport needs to call a provider's
// chat-completion endpoint, independent of which model is requested.
type ProviderAPIConfig struct {
	BaseURL      string
	ChatEndpoint string
	AuthType     AuthType
	AuthHeader   string // header name when AuthType is AuthTypeAPIKey
	ExtraHeaders map[string]string
	APIFormat    APIFormat
}

// ModelInfo is a single routable model under a provider.
type ModelInfo struct {
	ID           string
	Provider     string
	Capabilities ModelCapabilities
}

// ProviderRegistration is everything the registry knows about one provider.
type ProviderRegistration struct {
	Name      string
	APIConfig ProviderAPIConfig
	Models    map[string]ModelInfo
}

// Registry holds the static set of providers and models the router may
// address. It is built once at process bootstrap (see InitRegistry) and read
// concurrently by every router call thereafter.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderRegistration
}

// NewRegistry returns an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*ProviderRegistration)}
}

// Register adds or replaces a provider's registration.
func (r *Registry) Register(name string, reg ProviderRegistration) {
	reg.Name = name
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &reg
}

// GetProviderAPIConfig returns the named provider's API config.
func (r *Registry) GetProviderAPIConfig(provider string) (ProviderAPIConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[provider]
	if !ok {
		return ProviderAPIConfig{}, false
	}
	return p.APIConfig, true
}

// GetModel returns the registered ModelInfo for (provider, model).
func (r *Registry) GetModel(provider, model string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[provider]
	if !ok {
		return ModelInfo{}, false
	}
	m, ok := p.Models[model]
	return m, ok
}

// AllProviderNames returns every registered provider name.
func (r *Registry) AllProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
