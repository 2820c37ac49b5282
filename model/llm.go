package model

import (
	"context"
	"fmt"

	"docintel/config"
)

// Client produces a completion for a system instruction and a user prompt.
type Client interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

func NewClient(cfg config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(cfg.OllamaHost, cfg.LLM.Model), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}
