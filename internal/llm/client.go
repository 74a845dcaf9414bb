// Package llm abstracts the model backend. Two implementations exist: the
// OpenAI-compatible client and a langchaingo-backed client, selected by the
// provider config field.
package llm

import (
	"context"
	"fmt"

	"agnusai/internal/config"
)

// Client is the model contract: one prompt in, one text completion out.
// Implementations are safe for concurrent use as long as their configuration
// is not modified after creation.
type Client interface {
	// Complete sends one completion request and returns the raw model text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Ping sends a minimal request to verify connectivity and credentials.
	Ping(ctx context.Context) error
	// Name identifies the backend and model for logging.
	Name() string
}

// New builds the configured backend.
func New(cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		c := NewOpenAIClient(cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.MaxConcurrency)
		if cfg.LLM.Timeout > 0 {
			c.SetTimeout(cfg.LLM.Timeout)
		}
		return c, nil
	case config.ProviderLangChain:
		return NewLangChainClient(cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
