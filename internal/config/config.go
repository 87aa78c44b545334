// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration, sourced entirely from the
// environment per spec §6 ("Environment variables supply provider API keys
// and DB/object-store credentials").
type Config struct {
	// Database
	DatabaseURL string

	// OEM configuration documents (spec §6's per-OEM config document).
	OEMConfigDir string

	// Object storage for screenshots/captured media, keyed by SHA-256
	// per spec §6's egress contract.
	StorageEnabled   bool
	StorageEndpoint  string
	StorageRegion    string
	StorageBucket    string
	StorageAccessKey string
	StorageSecretKey string

	// LLM provider credentials, read by internal/llm's transport.
	OpenRouterAPIKey string
	OllamaBaseURL    string
	AnthropicAPIKey  string
	OpenAIAPIKey     string

	// Monthly spend caps per model, keyed by the bare model id used in
	// llm.Routes, e.g. "gpt-4o-mini" (spec §4.6).
	LLMSpendCapsUSD map[string]float64

	// Scheduler (spec §4.9).
	SchedulerTick         time.Duration
	SchedulerShutdownGrace time.Duration
	GlobalConcurrency     int
	PerHostConcurrency    int

	// Renderer pool (spec §4.3).
	RendererMaxSessions  int
	RendererChromePath   string
	RendererMaxAge       time.Duration
	RendererMaxRequests  int

	// Removal reconciliation grace window default, overridable per-OEM
	// (spec §4.7's "configurable grace window").
	RemovalGraceWindow time.Duration

	// HeaderEncryptionKey, if set to a 32-byte secret, encrypts
	// DiscoveredAPI.RequiredHeaders at rest (spec §4.4's replayable APIs
	// often carry session credentials worth protecting in storage).
	HeaderEncryptionKey string

	// StoragePrefix namespaces archived snapshot keys within StorageBucket.
	StoragePrefix string

	// NotifyWebhookURL/Secret configure a single webhook subscriber for the
	// notification sink (spec §4's emit(ChangeEvent)). Empty URL disables
	// delivery; catalogue changes are still recorded either way.
	NotifyWebhookURL    string
	NotifyWebhookSecret string
}

// Load builds a Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", "file:oem-crawler.db"),
		OEMConfigDir: getEnv("OEM_CONFIG_DIR", "./oems"),

		StorageEnabled:   getEnvBool("STORAGE_ENABLED", false),
		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", ""),
		StorageRegion:    getEnv("STORAGE_REGION", "auto"),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", ""),

		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		OllamaBaseURL:    getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),

		LLMSpendCapsUSD: getEnvSpendCaps("LLM_SPEND_CAPS"),

		SchedulerTick:          getEnvDuration("SCHEDULER_TICK", 60*time.Second),
		SchedulerShutdownGrace: getEnvDuration("SCHEDULER_SHUTDOWN_GRACE", 60*time.Second),
		GlobalConcurrency:      getEnvInt("GLOBAL_CONCURRENCY", 8),
		PerHostConcurrency:     getEnvInt("PER_HOST_CONCURRENCY", 2),

		RendererMaxSessions: getEnvInt("RENDERER_MAX_SESSIONS", 4),
		RendererChromePath:  getEnv("RENDERER_CHROME_PATH", ""),
		RendererMaxAge:      getEnvDuration("RENDERER_MAX_AGE", 1*time.Hour),
		RendererMaxRequests: getEnvInt("RENDERER_MAX_REQUESTS", 200),

		RemovalGraceWindow: getEnvDuration("REMOVAL_GRACE_WINDOW", 72*time.Hour),

		HeaderEncryptionKey: getEnv("HEADER_ENCRYPTION_KEY", ""),

		StoragePrefix: getEnv("STORAGE_PREFIX", "snapshots"),

		NotifyWebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookSecret: getEnv("NOTIFY_WEBHOOK_SECRET", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL must be set")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSpendCaps parses a comma-separated "model=usd" list, e.g.
// "gpt-4o-mini=50,llama3.1=25".
func getEnvSpendCaps(key string) map[string]float64 {
	caps := map[string]float64{}
	value := os.Getenv(key)
	if value == "" {
		return caps
	}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		amount, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			continue
		}
		caps[kv[0]] = amount
	}
	return caps
}
