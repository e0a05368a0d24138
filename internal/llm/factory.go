package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/authrules/internal/model"
)

// NewProvider creates a new review provider based on configuration
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		// No provider configured - return nil (review disabled)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown review provider: %s (supported: openai, ollama)", config.Provider)
	}
}

// ConfigFromModel converts the review and HTTP sections of the runtime config
func ConfigFromModel(review model.ReviewConfig, http model.HTTPConfig) Config {
	cfg := DefaultConfig()
	cfg.Provider = review.Provider
	cfg.Model = review.Model
	cfg.APIKey = review.APIKey
	cfg.BaseURL = review.BaseURL
	if review.Timeout > 0 {
		cfg.Timeout = review.Timeout
	}
	cfg.HTTPProxy = http.HTTPProxy
	cfg.HTTPSProxy = http.HTTPSProxy
	cfg.NoProxy = http.NoProxy
	return cfg
}
