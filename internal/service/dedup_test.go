package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/llm"
)

func newDedupEngine(t *testing.T, mems *fakeMemoryStore, mock *llm.MockClient, provider string) *DeduplicationEngine {
	t.Helper()
	e, err := NewDeduplicationEngine(mems, newFakeEmbedder(), mock, newFakeConfigStore(), provider, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func scoredHit(id, content string, score float64) domain.MemoryWithScore {
	return domain.MemoryWithScore{
		Memory: domain.Memory{ID: id, Content: content},
		Score:  score,
	}
}

func TestDecideNoHitsInserts(t *testing.T) {
	mems := newFakeMemoryStore()
	mock := llm.NewMockClient()
	e := newDedupEngine(t, mems, mock, "mock")

	got := e.Decide(context.Background(), "u1", "My blood type is O positive.")
	assert.Equal(t, domain.DedupInsert, got.Action)
	assert.Equal(t, 0, mock.CallCount())
}

func TestDecideBelowThresholdInserts(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{scoredHit("m1", "I like coffee", 0.4)}
	mock := llm.NewMockClient()
	e := newDedupEngine(t, mems, mock, "mock")

	got := e.Decide(context.Background(), "u1", "My dog is named Rex")
	assert.Equal(t, domain.DedupInsert, got.Action)
	assert.Equal(t, 0, mock.CallCount())
}

func TestDecideDuplicateSkips(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{scoredHit("m1", "My blood type is O positive.", 0.95)}
	mock := llm.NewMockClient().Queue("DUPLICATE")
	e := newDedupEngine(t, mems, mock, "mock")

	got := e.Decide(context.Background(), "u1", "Blood type: O+")
	assert.Equal(t, domain.DedupDecision{Action: domain.DedupSkip, ExistingID: "m1"}, got)
}

func TestDecideSupersedes(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{scoredHit("m1", "I live in NYC", 0.9)}
	mock := llm.NewMockClient().Queue("SUPERSEDES")
	e := newDedupEngine(t, mems, mock, "mock")

	got := e.Decide(context.Background(), "u1", "I moved to London")
	assert.Equal(t, domain.DedupDecision{Action: domain.DedupSupersede, ExistingID: "m1"}, got)
}

func TestDecideAllDifferentInserts(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{
		scoredHit("m1", "I like coffee", 0.85),
		scoredHit("m2", "I like tea", 0.8),
	}
	mock := llm.NewMockClient().Queue("DIFFERENT", "DIFFERENT")
	e := newDedupEngine(t, mems, mock, "mock")

	got := e.Decide(context.Background(), "u1", "I like cocoa")
	assert.Equal(t, domain.DedupInsert, got.Action)
	assert.Equal(t, 2, mock.CallCount())
}

func TestDecideStopsAtFirstDecision(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{
		scoredHit("m1", "first", 0.9),
		scoredHit("m2", "second", 0.85),
	}
	mock := llm.NewMockClient().Queue("DUPLICATE")
	e := newDedupEngine(t, mems, mock, "mock")

	got := e.Decide(context.Background(), "u1", "candidate")
	assert.Equal(t, "m1", got.ExistingID)
	assert.Equal(t, 1, mock.CallCount())
}

func TestDecideFailsOpenOnErrors(t *testing.T) {
	t.Run("embed error", func(t *testing.T) {
		mems := newFakeMemoryStore()
		mems.vectorHits = []domain.MemoryWithScore{scoredHit("m1", "x", 0.9)}
		mock := llm.NewMockClient()
		emb := newFakeEmbedder()
		emb.err = assert.AnError
		e, err := NewDeduplicationEngine(mems, emb, mock, newFakeConfigStore(), "mock", zap.NewNop())
		require.NoError(t, err)
		defer e.Close()

		got := e.Decide(context.Background(), "u1", "text")
		assert.Equal(t, domain.DedupInsert, got.Action)
	})

	t.Run("vector search error", func(t *testing.T) {
		mems := newFakeMemoryStore()
		mems.vectorErr = assert.AnError
		e := newDedupEngine(t, mems, llm.NewMockClient(), "mock")

		got := e.Decide(context.Background(), "u1", "text")
		assert.Equal(t, domain.DedupInsert, got.Action)
	})

	t.Run("llm error", func(t *testing.T) {
		mems := newFakeMemoryStore()
		mems.vectorHits = []domain.MemoryWithScore{scoredHit("m1", "x", 0.9)}
		mock := llm.NewMockClient()
		mock.Err = assert.AnError
		e := newDedupEngine(t, mems, mock, "mock")

		got := e.Decide(context.Background(), "u1", "text")
		assert.Equal(t, domain.DedupInsert, got.Action)
	})
}

func TestDecideDisabledConfig(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{scoredHit("m1", "x", 0.99)}
	configs := newFakeConfigStore()
	require.NoError(t, configs.Set(context.Background(), dedupConfigKey, `{"enabled":false}`))

	mock := llm.NewMockClient()
	e, err := NewDeduplicationEngine(mems, newFakeEmbedder(), mock, configs, "mock", zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	got := e.Decide(context.Background(), "u1", "text")
	assert.Equal(t, domain.DedupInsert, got.Action)
	assert.Equal(t, 0, mock.CallCount())
}

func TestThresholdByProvider(t *testing.T) {
	cfg := defaultDedupConfig()
	assert.Equal(t, 0.55, cfg.thresholdFor("azure"))
	assert.Equal(t, 0.55, cfg.thresholdFor("intelli"))
	assert.Equal(t, 0.75, cfg.thresholdFor("nomic"))
	assert.Equal(t, 0.75, cfg.thresholdFor("mock"))
}
