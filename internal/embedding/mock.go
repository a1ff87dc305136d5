package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/memforge-ai/memforge/internal/domain"
)

// MockClient produces deterministic pseudo-embeddings for tests: the same
// text always maps to the same unit vector, different texts to different
// ones.
type MockClient struct {
	dim int
}

func NewMockClient(dim int) *MockClient {
	return &MockClient{dim: dim}
}

func (c *MockClient) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, c.dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed)) / math.MaxInt64
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (c *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *MockClient) Dimension() int {
	return c.dim
}

func (c *MockClient) HealthCheck(context.Context) *domain.EmbeddingHealth {
	return &domain.EmbeddingHealth{OK: true, Model: "mock", Dim: c.dim}
}
