package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
)

func mem(id, content string) domain.Memory {
	return domain.Memory{ID: id, Content: content}
}

func TestFuseRRFBothArmsBeatSingleArm(t *testing.T) {
	// A memory ranked second in both arms (1/62 + 1/62) outscores a memory
	// ranked first in only one arm (1/61).
	text := []domain.Memory{mem("only-text", "a"), mem("both", "b")}
	vector := []domain.Memory{mem("only-vector", "c"), mem("both", "b")}

	fused := fuseRRF(text, vector)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].ID)
	assert.InDelta(t, 1.0/62+1.0/62, fused[0].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/61, fused[1].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/61, fused[2].RRFScore, 1e-12)
}

func TestFuseRRFRanksAreOneBased(t *testing.T) {
	fused := fuseRRF([]domain.Memory{mem("m1", "x")}, []domain.Memory{mem("m1", "x")})
	require.Len(t, fused, 1)
	require.NotNil(t, fused[0].TextRank)
	require.NotNil(t, fused[0].VectorRank)
	assert.Equal(t, 1, *fused[0].TextRank)
	assert.Equal(t, 1, *fused[0].VectorRank)
}

func TestFuseRRFSingleArmLeavesOtherRankNil(t *testing.T) {
	fused := fuseRRF([]domain.Memory{mem("m1", "x")}, nil)
	require.Len(t, fused, 1)
	assert.NotNil(t, fused[0].TextRank)
	assert.Nil(t, fused[0].VectorRank)
}

func TestFuseRRFDeterministicTieBreak(t *testing.T) {
	// Same score: text-ranked memory sorts before the vector-only one.
	fused := fuseRRF([]domain.Memory{mem("t", "x")}, []domain.Memory{mem("v", "y")})
	require.Len(t, fused, 2)
	assert.Equal(t, "t", fused[0].ID)
	assert.Equal(t, "v", fused[1].ID)
}

func newSearchEngine(t *testing.T, mems *fakeMemoryStore) (*HybridSearchEngine, *fakeAppStore) {
	t.Helper()
	apps := newFakeAppStore()
	s := NewTaskSupervisor(2, zap.NewNop())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return NewHybridSearchEngine(mems, newFakeEntityStore(), apps, newFakeEmbedder(), s, zap.NewNop()), apps
}

func TestSearchHybridFusesArms(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.textHits = []domain.Memory{mem("a", "alpha"), mem("b", "bravo")}
	mems.vectorHits = []domain.MemoryWithScore{
		{Memory: mem("b", "bravo"), Score: 0.9},
		{Memory: mem("c", "charlie"), Score: 0.8},
	}
	engine, _ := newSearchEngine(t, mems)

	out, err := engine.Search(context.Background(), domain.SearchRequest{
		Query: "b", UserID: "u1", TopK: 10,
	})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
}

func TestSearchDegradesWhenOneArmFails(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.textHits = []domain.Memory{mem("a", "alpha")}
	mems.vectorErr = assert.AnError
	engine, _ := newSearchEngine(t, mems)

	out, err := engine.Search(context.Background(), domain.SearchRequest{
		Query: "alpha", UserID: "u1",
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestSearchSingleArmModeErrors(t *testing.T) {
	mems := newFakeMemoryStore()
	mems.vectorErr = assert.AnError
	engine, _ := newSearchEngine(t, mems)

	_, err := engine.Search(context.Background(), domain.SearchRequest{
		Query: "q", UserID: "u1", Mode: domain.SearchVector,
	})
	assert.Error(t, err)
}

func TestSearchCapsToTopK(t *testing.T) {
	mems := newFakeMemoryStore()
	for i := 0; i < 5; i++ {
		mems.textHits = append(mems.textHits, mem(string(rune('a'+i)), "x"))
	}
	engine, _ := newSearchEngine(t, mems)

	out, err := engine.Search(context.Background(), domain.SearchRequest{
		Query: "x", UserID: "u1", TopK: 2, Mode: domain.SearchText,
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestConfidentHeuristic(t *testing.T) {
	one := 1
	assert.True(t, Confident([]domain.SearchResult{{TextRank: &one, RRFScore: 0.001}}))
	assert.True(t, Confident([]domain.SearchResult{{RRFScore: 0.013}}))
	assert.False(t, Confident([]domain.SearchResult{{RRFScore: 0.011}}))
	assert.False(t, Confident(nil))
}

func TestDisplayScoreClamped(t *testing.T) {
	assert.Equal(t, 1.0, DisplayScore(0.05))
	assert.InDelta(t, 0.5, DisplayScore(0.016393), 0.001)
	assert.Equal(t, 0.0, DisplayScore(0))
}

func TestFilterCategoryAndCreatedAfter(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []domain.SearchResult{
		{ID: "old", CreatedAt: after.Add(-time.Hour), Categories: []string{"work"}},
		{ID: "new", CreatedAt: after.Add(time.Hour), Categories: []string{"Work"}},
		{ID: "other", CreatedAt: after.Add(time.Hour), Categories: []string{"travel"}},
	}

	out, _ := Filter(results, domain.SearchFilters{Category: "work", CreatedAfter: &after})
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].ID)
}

func TestFilterTagReportsPreTagCount(t *testing.T) {
	results := []domain.SearchResult{
		{ID: "a", Tags: []string{"home"}},
		{ID: "b", Tags: []string{"work"}},
		{ID: "c", Tags: []string{"Work"}},
	}

	out, beforeTag := Filter(results, domain.SearchFilters{Tag: "work"})
	assert.Equal(t, 3, beforeTag)
	assert.Len(t, out, 2)
}

func TestOversample(t *testing.T) {
	assert.Equal(t, 200, Oversample(10, false))
	assert.Equal(t, 200, Oversample(10, true))
	assert.Equal(t, 250, Oversample(50, false))
	assert.Equal(t, 500, Oversample(50, true))
}

func TestLogAccessIsAsync(t *testing.T) {
	mems := newFakeMemoryStore()
	engine, apps := newSearchEngine(t, mems)

	engine.LogAccess("u1", "cli", "query", []domain.SearchResult{{ID: "m1"}, {ID: "m2"}})

	assert.Eventually(t, func() bool {
		apps.mu.Lock()
		defer apps.mu.Unlock()
		return len(apps.accessLogs) == 1 && len(apps.accessLogs[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestLogAccessSkipsWithoutApp(t *testing.T) {
	mems := newFakeMemoryStore()
	engine, apps := newSearchEngine(t, mems)

	engine.LogAccess("u1", "", "query", []domain.SearchResult{{ID: "m1"}})
	time.Sleep(20 * time.Millisecond)
	apps.mu.Lock()
	defer apps.mu.Unlock()
	assert.Empty(t, apps.accessLogs)
}
