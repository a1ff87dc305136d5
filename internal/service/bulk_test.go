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

func newBulkIngester(t *testing.T, mems *fakeMemoryStore, emb *fakeEmbedder, withDedup bool) *BulkIngester {
	t.Helper()
	tasks := NewTaskSupervisor(2, zap.NewNop())
	t.Cleanup(func() { _ = tasks.Shutdown(context.Background()) })

	cat := NewCategorizer(mems, llm.NewMockClient().Queue("[]"), zap.NewNop())
	ext := NewEntityExtractor(mems, newFakeEntityStore(), emb, llm.NewMockClient(), tasks, zap.NewNop())

	var dedup *DeduplicationEngine
	if withDedup {
		var err error
		dedup, err = NewDeduplicationEngine(mems, emb, llm.NewMockClient(), newFakeConfigStore(), "mock", zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(dedup.Close)
	}
	return NewBulkIngester(mems, dedup, emb, cat, ext, tasks, 100, zap.NewNop())
}

func TestBulkIngestInBatchDedupIsCaseInsensitive(t *testing.T) {
	mems := newFakeMemoryStore()
	emb := newFakeEmbedder()
	b := newBulkIngester(t, mems, emb, false)

	out := b.Ingest(context.Background(), "u1", []BulkItem{
		{Text: "A"}, {Text: "a"}, {Text: "B"},
	}, BulkOptions{AppName: "bulk"})

	require.Len(t, out, 3)
	assert.Equal(t, BulkAdded, out[0].Status)
	assert.NotEmpty(t, out[0].ID)
	assert.Equal(t, BulkSkippedDuplicate, out[1].Status)
	assert.Equal(t, BulkAdded, out[2].Status)

	// One embedding batch of size 2 and one UNWIND write.
	require.Len(t, emb.batchSizes, 1)
	assert.Equal(t, 2, emb.batchSizes[0])
	assert.Equal(t, 1, mems.bulkCreateCalls)
}

func TestBulkIngestEmptyTextFails(t *testing.T) {
	mems := newFakeMemoryStore()
	b := newBulkIngester(t, mems, newFakeEmbedder(), false)

	out := b.Ingest(context.Background(), "u1", []BulkItem{
		{Text: "  "}, {Text: "valid"},
	}, BulkOptions{})

	assert.Equal(t, BulkFailed, out[0].Status)
	assert.Equal(t, BulkAdded, out[1].Status)
}

func TestBulkIngestCrossStoreDedupSkips(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{
		{Memory: domain.Memory{ID: "existing", Content: "I live in NYC"}, Score: 0.9},
	}
	emb := newFakeEmbedder()

	tasks := NewTaskSupervisor(2, zap.NewNop())
	t.Cleanup(func() { _ = tasks.Shutdown(context.Background()) })
	cat := NewCategorizer(mems, llm.NewMockClient().Queue("[]"), zap.NewNop())
	ext := NewEntityExtractor(mems, newFakeEntityStore(), emb, llm.NewMockClient(), tasks, zap.NewNop())
	dedup, err := NewDeduplicationEngine(mems, emb, llm.NewMockClient().Queue("DUPLICATE"), newFakeConfigStore(), "mock", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(dedup.Close)
	b := NewBulkIngester(mems, dedup, emb, cat, ext, tasks, 100, zap.NewNop())

	out := b.Ingest(context.Background(), "u1", []BulkItem{
		{Text: "I live in New York City"},
	}, BulkOptions{DedupEnabled: true})

	require.Len(t, out, 1)
	assert.Equal(t, BulkSkippedDuplicate, out[0].Status)
	assert.Equal(t, "existing", out[0].ID)
	assert.Equal(t, 0, mems.bulkCreateCalls)
}

func TestBulkIngestDedupErrorFallsThroughAsUnique(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorHits = []domain.MemoryWithScore{
		{Memory: domain.Memory{ID: "m1", Content: "x"}, Score: 0.9},
	}
	emb := newFakeEmbedder()

	tasks := NewTaskSupervisor(2, zap.NewNop())
	t.Cleanup(func() { _ = tasks.Shutdown(context.Background()) })
	cat := NewCategorizer(mems, llm.NewMockClient().Queue("[]"), zap.NewNop())
	ext := NewEntityExtractor(mems, newFakeEntityStore(), emb, llm.NewMockClient(), tasks, zap.NewNop())
	broken := llm.NewMockClient()
	broken.Err = assert.AnError
	dedup, err := NewDeduplicationEngine(mems, emb, broken, newFakeConfigStore(), "mock", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(dedup.Close)
	b := NewBulkIngester(mems, dedup, emb, cat, ext, tasks, 100, zap.NewNop())

	out := b.Ingest(context.Background(), "u1", []BulkItem{{Text: "something new"}}, BulkOptions{DedupEnabled: true})
	assert.Equal(t, BulkAdded, out[0].Status)
}

func TestBulkIngestEmbedErrorMarksSurvivorsFailed(t *testing.T) {
	mems := newFakeMemoryStore()
	emb := newFakeEmbedder()
	emb.err = assert.AnError
	b := newBulkIngester(t, mems, emb, false)

	out := b.Ingest(context.Background(), "u1", []BulkItem{{Text: "a"}, {Text: "b"}}, BulkOptions{})
	assert.Equal(t, BulkFailed, out[0].Status)
	assert.Equal(t, BulkFailed, out[1].Status)
}

func TestBulkConcurrencyDerivedFromRPM(t *testing.T) {
	b := &BulkIngester{rpm: 100}
	assert.Equal(t, 5, b.concurrency(BulkOptions{}))

	b.rpm = 40
	assert.Equal(t, 2, b.concurrency(BulkOptions{}))

	b.rpm = 10
	assert.Equal(t, 1, b.concurrency(BulkOptions{}))

	assert.Equal(t, 7, b.concurrency(BulkOptions{Concurrency: 7}))
}
