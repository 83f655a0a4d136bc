package llm

import (
	"fmt"
	"time"
)

// FactoryConfig holds the parameters needed to create a Provider. It is
// defined here so the llm package does not import the config package.
type FactoryConfig struct {
	// Provider is the backend name ("openai" or "anthropic").
	Provider string
	// Model is the model identifier.
	Model string
	// APIKey authenticates against the backend.
	APIKey string
	// BaseURL overrides the backend endpoint.
	BaseURL string
	// Temperature is the default sampling temperature.
	Temperature float64
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
}

// NewProvider creates the Provider named by cfg.Provider. An empty API key
// yields Disabled so the service can run without summarization.
func NewProvider(cfg FactoryConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return Disabled{}, nil
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
