package llm

import (
	"fmt"
	"os"
)

// ProviderFactory creates providers.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

// DefaultModels maps provider names to their default vision models.
var DefaultModels = map[string]string{
	"gemini":    "gemini-2.0-flash",
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-20250514",
	"ollama":    "llava",
}

var registry = map[string]ProviderFactory{
	"gemini": func(cfg ProviderConfig) (Provider, error) {
		return NewGeminiProvider(cfg)
	},
	"openai": func(cfg ProviderConfig) (Provider, error) {
		return NewOpenAIProvider(cfg)
	},
	"anthropic": func(cfg ProviderConfig) (Provider, error) {
		return NewAnthropicProvider(cfg)
	},
	"ollama": func(cfg ProviderConfig) (Provider, error) {
		return NewOllamaProvider(cfg)
	},
}

// NewProvider creates a provider by name.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s (available: gemini, openai, anthropic, ollama)", name)
	}
	return factory(cfg)
}

// RegisterProvider adds a custom provider factory.
func RegisterProvider(name string, factory ProviderFactory) {
	registry[name] = factory
}

// AvailableProviders returns the list of registered providers.
func AvailableProviders() []string {
	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	return providers
}

// DetectProvider auto-detects a provider from available API keys.
// Priority: GEMINI_API_KEY > ANTHROPIC_API_KEY > OPENAI_API_KEY > ollama
// (no key needed).
func DetectProvider() (provider string, apiKey string) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return "gemini", key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return "anthropic", key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return "openai", key
	}
	return "ollama", ""
}

// GetDefaultModel returns the default model for a provider.
func GetDefaultModel(provider string) string {
	if model, ok := DefaultModels[provider]; ok {
		return model
	}
	return ""
}
