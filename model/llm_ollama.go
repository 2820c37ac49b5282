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

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func NewOllamaClient(host, model string) Client {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	return &ollamaClient{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		System: system,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ollama: %v", types.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read ollama response: %v", types.ErrGenerationFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama status %d: %s",
			types.ErrGenerationFailed, resp.StatusCode, string(respBody))
	}

	var payload ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &payload); err == nil && payload.Response != "" {
		return payload.Response, nil
	}

	// Some deployments stream regardless of the flag; stitch the parts together.
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(respBody))
	for decoder.More() {
		var part ollamaGenerateResponse
		if err := decoder.Decode(&part); err != nil {
			break
		}
		output.WriteString(part.Response)
	}
	if output.Len() == 0 {
		return "", fmt.Errorf("%w: ollama returned empty response", types.ErrGenerationFailed)
	}
	return output.String(), nil
}
