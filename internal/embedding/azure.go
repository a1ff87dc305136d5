package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/memforge-ai/memforge/internal/domain"
)

// AzureClient calls the Azure OpenAI embeddings deployment.
type AzureClient struct {
	apiKey     string
	endpoint   string
	deployment string
	apiVersion string
	dim        int
	httpClient *http.Client
}

func NewAzureClient(apiKey, endpoint, deployment, apiVersion string, dim int) *AzureClient {
	return &AzureClient{
		apiKey:     apiKey,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		deployment: deployment,
		apiVersion: apiVersion,
		dim:        dim,
		httpClient: &http.Client{},
	}
}

type azureEmbeddingRequest struct {
	Input []string `json:"input"`
}

type azureEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AzureClient) url() string {
	return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		c.endpoint, c.deployment, c.apiVersion)
}

func (c *AzureClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(azureEmbeddingRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

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

	var result azureEmbeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(result.Data), len(texts))
	}

	// The API may reorder; index restores input order.
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *AzureClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *AzureClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts)
}

func (c *AzureClient) Dimension() int {
	return c.dim
}

func (c *AzureClient) HealthCheck(ctx context.Context) *domain.EmbeddingHealth {
	return healthProbe(ctx, c, c.deployment, c.dim)
}

// healthProbe embeds a short probe string and reports latency. Shared by the
// real providers.
func healthProbe(ctx context.Context, c domain.EmbeddingClient, model string, dim int) *domain.EmbeddingHealth {
	start := time.Now()
	_, err := c.Embed(ctx, "health probe")
	h := &domain.EmbeddingHealth{
		OK:        err == nil,
		LatencyMs: time.Since(start).Milliseconds(),
		Model:     model,
		Dim:       dim,
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
