package llm

// InitRegistry builds the static provider/model registry the router
// addresses. Unlike a SaaS product catalogue, the crawler only ever needs a
// handful of models per task, so the set below is small and hand-maintained
// rather than fetched from a provider's models endpoint at runtime.
func InitRegistry() *Registry {
	r := NewRegistry()

	r.Register(ProviderOpenRouter, ProviderRegistration{
		APIConfig: ProviderAPIConfig{
			BaseURL:      "https://openrouter.ai/api",
			ChatEndpoint: "/v1/chat/completions",
			AuthType:     AuthTypeBearer,
			APIFormat:    APIFormatOpenAI,
			ExtraHeaders: map[string]string{
				"HTTP-Referer": "https://github.com/jmylchreest/oem-crawler",
				"X-Title":      "oem-crawler",
			},
		},
		Models: map[string]ModelInfo{
			"meta-llama/llama-3.1-8b-instruct": {
				ID: "meta-llama/llama-3.1-8b-instruct", Provider: ProviderOpenRouter,
				Capabilities: ModelCapabilities{SupportsJSONMode: true},
			},
			"meta-llama/llama-3.1-70b-instruct": {
				ID: "meta-llama/llama-3.1-70b-instruct", Provider: ProviderOpenRouter,
				Capabilities: ModelCapabilities{SupportsJSONMode: true},
			},
			"google/gemini-2.0-flash-001": {
				ID: "google/gemini-2.0-flash-001", Provider: ProviderOpenRouter,
				Capabilities: ModelCapabilities{SupportsJSONMode: true, SupportsVision: true},
			},
		},
	})

	r.Register(ProviderAnthropic, ProviderRegistration{
		APIConfig: ProviderAPIConfig{
			BaseURL:      "https://api.anthropic.com",
			ChatEndpoint: "/v1/messages",
			AuthType:     AuthTypeAPIKey,
			AuthHeader:   "x-api-key",
			APIFormat:    APIFormatAnthropic,
			ExtraHeaders: map[string]string{"anthropic-version": "2023-06-01"},
		},
		Models: map[string]ModelInfo{
			"claude-3-5-sonnet-20241022": {
				ID: "claude-3-5-sonnet-20241022", Provider: ProviderAnthropic,
				Capabilities: ModelCapabilities{SupportsJSONMode: true, SupportsVision: true},
			},
			"claude-3-haiku-20240307": {
				ID: "claude-3-haiku-20240307", Provider: ProviderAnthropic,
				Capabilities: ModelCapabilities{SupportsJSONMode: true},
			},
		},
	})

	r.Register(ProviderOpenAI, ProviderRegistration{
		APIConfig: ProviderAPIConfig{
			BaseURL:      "https://api.openai.com",
			ChatEndpoint: "/v1/chat/completions",
			AuthType:     AuthTypeBearer,
			APIFormat:    APIFormatOpenAI,
		},
		Models: map[string]ModelInfo{
			"gpt-4o-mini": {
				ID: "gpt-4o-mini", Provider: ProviderOpenAI,
				Capabilities: ModelCapabilities{SupportsJSONMode: true, SupportsVision: true},
			},
			"gpt-4o": {
				ID: "gpt-4o", Provider: ProviderOpenAI,
				Capabilities: ModelCapabilities{SupportsJSONMode: true, SupportsVision: true},
			},
		},
	})

	r.Register(ProviderOllama, ProviderRegistration{
		APIConfig: ProviderAPIConfig{
			BaseURL:      "http://localhost:11434",
			ChatEndpoint: "/api/chat",
			AuthType:     AuthTypeNone,
			APIFormat:    APIFormatOllama,
		},
		Models: map[string]ModelInfo{
			"llama3.1": {ID: "llama3.1", Provider: ProviderOllama, Capabilities: ModelCapabilities{SupportsJSONMode: true}},
		},
	})

	return r
}
