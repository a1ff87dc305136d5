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

func newExtractorFixture(t *testing.T, mock *llm.MockClient) (*EntityExtractor, *fakeMemoryStore, *fakeEntityStore) {
	t.Helper()
	memories := newFakeMemoryStore()
	entities := newFakeEntityStore()
	tasks := NewTaskSupervisor(2, zap.NewNop())
	t.Cleanup(func() { _ = tasks.Shutdown(context.Background()) })
	ext := NewEntityExtractor(memories, entities, newFakeEmbedder(), mock, tasks, zap.NewNop())
	return ext, memories, entities
}

func seedMemory(t *testing.T, memories *fakeMemoryStore, userID, content string) string {
	t.Helper()
	m := &domain.Memory{Content: content, State: domain.StateActive, ExtractionStatus: domain.ExtractionPending}
	require.NoError(t, memories.Create(context.Background(), userID, m, ""))
	return m.ID
}

func TestProcessExtractsEntitiesAndRelationships(t *testing.T) {
	mock := llm.NewMockClient().Queue(`{
		"entities":[
			{"name":"John","type":"person","description":"A colleague"},
			{"name":"Acme","type":"organization","description":"An employer"}
		],
		"relationships":[
			{"source":"John","target":"Acme","type":"WORKS_AT","description":"John works at Acme"}
		]}`)
	ext, memories, entities := newExtractorFixture(t, mock)
	id := seedMemory(t, memories, "u1", "John works at Acme")

	require.NoError(t, ext.Process(context.Background(), id))

	assert.Equal(t, domain.ExtractionDone, memories.memories[id].ExtractionStatus)
	assert.Len(t, entities.entities, 2)

	john, err := entities.GetByNormalizedName(context.Background(), "u1", "john")
	require.NoError(t, err)
	require.NotNil(t, john)
	assert.Equal(t, "person", john.Type)
	assert.Equal(t, []string{id}, entities.mentions[john.ID])

	require.Len(t, entities.rels, 1)
	assert.Equal(t, "WORKS_AT", entities.rels[0].Type)
}

func TestProcessIdempotentOnDone(t *testing.T) {
	mock := llm.NewMockClient()
	ext, memories, _ := newExtractorFixture(t, mock)
	id := seedMemory(t, memories, "u1", "already handled")
	memories.memories[id].ExtractionStatus = domain.ExtractionDone

	require.NoError(t, ext.Process(context.Background(), id))
	assert.Equal(t, 0, mock.CallCount())
}

func TestProcessUnknownMemoryErrors(t *testing.T) {
	ext, _, _ := newExtractorFixture(t, llm.NewMockClient())
	assert.Error(t, ext.Process(context.Background(), "does-not-exist"))
}

func TestProcessLLMFailureMarksFailed(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Err = assert.AnError
	ext, memories, _ := newExtractorFixture(t, mock)
	id := seedMemory(t, memories, "u1", "some content")

	assert.Error(t, ext.Process(context.Background(), id))
	assert.Equal(t, domain.ExtractionFailed, memories.memories[id].ExtractionStatus)
	assert.Equal(t, 1, memories.memories[id].ExtractionAttempts)
}

func TestProcessReusesExistingEntity(t *testing.T) {
	mock := llm.NewMockClient().Queue(`{
		"entities":[{"name":"John","type":"person","description":"A colleague","metadata":{"team":"infra"}}],
		"relationships":[]}`)
	ext, memories, entities := newExtractorFixture(t, mock)

	existing := &domain.Entity{Name: "John", NormalizedName: "john", Type: "person", Description: "A colleague"}
	require.NoError(t, entities.Create(context.Background(), "u1", existing))

	id := seedMemory(t, memories, "u1", "John again")
	require.NoError(t, ext.Process(context.Background(), id))

	// No second node, mention linked, metadata shallow-merged.
	assert.Len(t, entities.entities, 1)
	assert.Equal(t, []string{id}, entities.mentions[existing.ID])
	assert.Equal(t, "infra", entities.entities[existing.ID].Metadata["team"])
}

func TestProcessGrowOnlyUpgrades(t *testing.T) {
	mock := llm.NewMockClient().Queue(`{
		"entities":[{"name":"Rex","type":"golden retriever","description":"A very good dog who loves fetch"}],
		"relationships":[]}`)
	ext, memories, entities := newExtractorFixture(t, mock)

	short := &domain.Entity{Name: "REX ", NormalizedName: "rex", Type: "dog", Description: "A dog"}
	entities.entities["e1"] = short
	short.ID = "e1"
	short.UserID = "u1"
	entities.byName["u1/rex"] = "e1"

	id := seedMemory(t, memories, "u1", "Rex fetched the ball")
	require.NoError(t, ext.Process(context.Background(), id))

	// Tier-1 hit consolidates descriptions asynchronously instead of
	// overwriting, so only the mention is recorded synchronously.
	assert.Equal(t, []string{id}, entities.mentions["e1"])
}

func TestNormalizeExtractionDropsMalformedEntries(t *testing.T) {
	raw := `{
		"entities":[
			{"name":"Valid","type":"person","description":"ok","metadata":{"k":"v"}},
			{"name":42,"type":"person"},
			{"name":"NoType"},
			{"name":"BadMeta","type":"thing","metadata":[1,2]}
		],
		"relationships":[
			{"source":"Valid","target":"BadMeta","type":"KNOWS"},
			{"source":"Valid","type":"KNOWS"}
		]}`

	res, err := normalizeExtraction(raw)
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "Valid", res.Entities[0].Name)
	assert.Equal(t, map[string]any{"k": "v"}, res.Entities[0].Metadata)
	// Array metadata is rejected, the entity itself survives.
	assert.Equal(t, "BadMeta", res.Entities[1].Name)
	assert.Nil(t, res.Entities[1].Metadata)

	require.Len(t, res.Relationships, 1)
	assert.Equal(t, "KNOWS", res.Relationships[0].Type)
}

func TestNormalizeExtractionRejectsNonJSON(t *testing.T) {
	_, err := normalizeExtraction("the model rambled instead")
	assert.Error(t, err)
}

func TestLinkEntitiesArbitratesConflicts(t *testing.T) {
	mock := llm.NewMockClient().Queue(
		`{"entities":[
			{"name":"John","type":"person","description":""},
			{"name":"Acme","type":"organization","description":""}
		],
		"relationships":[{"source":"John","target":"Acme","type":"WORKS_AT","description":"remote now"}]}`,
		"UPDATE",
	)
	ext, memories, entities := newExtractorFixture(t, mock)

	john := &domain.Entity{Name: "John", NormalizedName: "john", Type: "person"}
	acme := &domain.Entity{Name: "Acme", NormalizedName: "acme", Type: "organization"}
	require.NoError(t, entities.Create(context.Background(), "u1", john))
	require.NoError(t, entities.Create(context.Background(), "u1", acme))
	require.NoError(t, entities.CreateRelationship(context.Background(), "u1", &domain.EntityRelationship{
		SourceID: john.ID, TargetID: acme.ID, Type: "WORKS_AT", Description: "on-site",
		Metadata: map[string]any{"since": "2020"},
	}))

	id := seedMemory(t, memories, "u1", "John now works remotely for Acme")
	require.NoError(t, ext.Process(context.Background(), id))

	require.Len(t, entities.rels, 2)
	latest := entities.rels[1]
	assert.Equal(t, "remote now", latest.Description)
	// Old edge metadata is carried into the new edge.
	assert.Equal(t, "2020", latest.Metadata["since"])
}

func TestLinkEntitiesKeepVerdictLeavesEdge(t *testing.T) {
	mock := llm.NewMockClient().Queue(
		`{"entities":[
			{"name":"A","type":"thing","description":""},
			{"name":"B","type":"thing","description":""}
		],
		"relationships":[{"source":"A","target":"B","type":"NEAR","description":"changed"}]}`,
		"KEEP",
	)
	ext, memories, entities := newExtractorFixture(t, mock)

	a := &domain.Entity{Name: "A", NormalizedName: "a", Type: "thing"}
	b := &domain.Entity{Name: "B", NormalizedName: "b", Type: "thing"}
	require.NoError(t, entities.Create(context.Background(), "u1", a))
	require.NoError(t, entities.Create(context.Background(), "u1", b))
	require.NoError(t, entities.CreateRelationship(context.Background(), "u1", &domain.EntityRelationship{
		SourceID: a.ID, TargetID: b.ID, Type: "NEAR", Description: "original",
	}))

	id := seedMemory(t, memories, "u1", "A is near B")
	require.NoError(t, ext.Process(context.Background(), id))
	assert.Len(t, entities.rels, 1)
}
