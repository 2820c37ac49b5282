package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docintel/types"
)

type ollamaEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(host, model string, dimension int) Embedder {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	return &ollamaEmbedder{
		host:      host,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := e.host + "/api/embeddings"

	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body, err := json.Marshal(ollamaEmbeddingRequest{Model: e.model, Prompt: text})
		if err != nil {
			return nil, fmt.Errorf("marshal ollama request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create ollama request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: ollama: %v", types.ErrEmbeddingFailed, err)
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("%w: ollama status %d: %s",
				types.ErrEmbeddingFailed, resp.StatusCode, string(respBody))
		}

		var payload ollamaEmbeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: decode ollama response: %v", types.ErrEmbeddingFailed, err)
		}
		resp.Body.Close()

		vec := make([]float32, len(payload.Embedding))
		for i, v := range payload.Embedding {
			vec[i] = float32(v)
		}

		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("%w: ollama dimension mismatch: expected %d, got %d",
				types.ErrEmbeddingFailed, e.dimension, len(vec))
		}
		results = append(results, vec)
	}
	return results, nil
}
