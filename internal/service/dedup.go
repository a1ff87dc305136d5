package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/identity"
	"github.com/memforge-ai/memforge/internal/llm"
)

const (
	dedupConfigKey  = "dedup_config"
	dedupPrefilterK = 10
	pairCacheTTL    = 10 * time.Minute
)

// Pair classifier labels.
const (
	pairDuplicate  = "DUPLICATE"
	pairSupersedes = "SUPERSEDES"
	pairDifferent  = "DIFFERENT"
)

// DedupConfig is the TTL-cached store record controlling deduplication.
// Thresholds are cosine similarities for the vector pre-filter.
type DedupConfig struct {
	Enabled          bool    `json:"enabled"`
	Threshold        float64 `json:"threshold"`
	AzureThreshold   float64 `json:"azureThreshold"`
	IntelliThreshold float64 `json:"intelliThreshold"`
}

func defaultDedupConfig() DedupConfig {
	return DedupConfig{
		Enabled:          true,
		Threshold:        0.75,
		AzureThreshold:   0.55,
		IntelliThreshold: 0.55,
	}
}

// thresholdFor picks the effective threshold once, by embedding provider
// name. Mixed-provider deployments are not supported.
func (c DedupConfig) thresholdFor(provider string) float64 {
	switch provider {
	case "azure":
		return c.AzureThreshold
	case "intelli":
		return c.IntelliThreshold
	default:
		return c.Threshold
	}
}

// DeduplicationEngine decides, before a write, whether a candidate text is
// new, a duplicate, or an update of an existing memory. Two stages: a vector
// ANN pre-filter over the user's active memories, then an LLM pair classifier
// on hits above threshold. Every failure mode returns INSERT so a write is
// never blocked by a flaky dependency.
type DeduplicationEngine struct {
	memories  domain.MemoryStore
	embedder  domain.EmbeddingClient
	llm       domain.LLMClient
	configs   domain.ConfigStore
	provider  string
	pairCache *ristretto.Cache[string, string]
	logger    *zap.Logger
}

func NewDeduplicationEngine(
	memories domain.MemoryStore,
	embedder domain.EmbeddingClient,
	client domain.LLMClient,
	configs domain.ConfigStore,
	provider string,
	logger *zap.Logger,
) (*DeduplicationEngine, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create dedup pair cache: %w", err)
	}
	return &DeduplicationEngine{
		memories:  memories,
		embedder:  embedder,
		llm:       client,
		configs:   configs,
		provider:  provider,
		pairCache: cache,
		logger:    logger,
	}, nil
}

func (e *DeduplicationEngine) Close() {
	e.pairCache.Close()
}

func (e *DeduplicationEngine) config(ctx context.Context) DedupConfig {
	cfg := defaultDedupConfig()
	if e.configs == nil {
		return cfg
	}
	raw, ok, err := e.configs.Get(ctx, dedupConfigKey)
	if err != nil || !ok || raw == "" {
		return cfg
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		e.logger.Warn("malformed dedup config, using defaults", zap.Error(err))
		return defaultDedupConfig()
	}
	return cfg
}

// Decide classifies text against the user's active memories.
func (e *DeduplicationEngine) Decide(ctx context.Context, userID, text string) domain.DedupDecision {
	insert := domain.DedupDecision{Action: domain.DedupInsert}

	cfg := e.config(ctx)
	if !cfg.Enabled {
		return insert
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("dedup embed failed, inserting", zap.Error(err))
		return insert
	}
	hits, err := e.memories.VectorSearch(ctx, userID, vec, dedupPrefilterK)
	if err != nil {
		e.logger.Warn("dedup vector search failed, inserting", zap.Error(err))
		return insert
	}

	threshold := cfg.thresholdFor(e.provider)
	for _, hit := range hits {
		if hit.Score < threshold {
			break
		}
		label, err := e.pairLabel(ctx, hit.Content, text)
		if err != nil {
			e.logger.Warn("dedup pair classification failed, inserting",
				zap.String("existing_id", hit.ID),
				zap.Error(err))
			return insert
		}
		switch label {
		case pairDuplicate:
			return domain.DedupDecision{Action: domain.DedupSkip, ExistingID: hit.ID}
		case pairSupersedes:
			return domain.DedupDecision{Action: domain.DedupSupersede, ExistingID: hit.ID}
		}
	}
	return insert
}

// pairLabel classifies (existing, candidate), caching by canonical pair hash
// so a re-seen pair skips the LLM.
func (e *DeduplicationEngine) pairLabel(ctx context.Context, existing, candidate string) (string, error) {
	key := pairKey(existing, candidate)
	if label, ok := e.pairCache.Get(key); ok {
		return label, nil
	}

	out, err := e.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:      fmt.Sprintf(llm.DedupPairPrompt, existing, candidate),
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil {
		return "", err
	}

	label := strings.ToUpper(strings.TrimSpace(llm.StripFences(out)))
	switch label {
	case pairDuplicate, pairSupersedes, pairDifferent:
	default:
		label = pairDifferent
	}
	e.pairCache.SetWithTTL(key, label, 1, pairCacheTTL)
	return label, nil
}

// pairKey preserves direction: SUPERSEDES is not symmetric.
func pairKey(existing, candidate string) string {
	return identity.GenerateIDFromString(existing + "\x1f" + candidate)
}
