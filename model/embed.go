package model

import (
	"context"
	"fmt"

	"docintel/config"
)

// Embedder converts chunk or query text into fixed-dimension vectors. The
// vector at position i belongs to texts[i].
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	switch cfg.Embeddings.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(cfg.OllamaHost, cfg.Embeddings.Model, cfg.Embeddings.Dimension), nil
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Embeddings.Model, cfg.Embeddings.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embeddings.Provider)
	}
}
