package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/memforge-ai/memforge/internal/domain"
)

const (
	nomicEmbeddingURL = "https://api-atlas.nomic.ai/v1/embedding/text"
	nomicModel        = "nomic-embed-text-v1.5"
)

// NomicClient calls the Nomic Atlas text embedding API.
type NomicClient struct {
	apiKey     string
	dim        int
	httpClient *http.Client
}

func NewNomicClient(apiKey string, dim int) *NomicClient {
	return &NomicClient{
		apiKey:     apiKey,
		dim:        dim,
		httpClient: &http.Client{},
	}
}

type nomicEmbeddingRequest struct {
	Model    string   `json:"model"`
	Texts    []string `json:"texts"`
	TaskType string   `json:"task_type"`
}

type nomicEmbeddingResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Detail     string      `json:"detail,omitempty"`
}

func (c *NomicClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(nomicEmbeddingRequest{
		Model:    nomicModel,
		Texts:    texts,
		TaskType: "search_document",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nomicEmbeddingURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result nomicEmbeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

func (c *NomicClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *NomicClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts)
}

func (c *NomicClient) Dimension() int {
	return c.dim
}

func (c *NomicClient) HealthCheck(ctx context.Context) *domain.EmbeddingHealth {
	return healthProbe(ctx, c, nomicModel, c.dim)
}
