package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/llm"
)

type writerFixture struct {
	writer   *MemoryWriter
	memories *fakeMemoryStore
	history  *fakeHistoryStore
	tasks    *TaskSupervisor
	catLLM   *llm.MockClient
}

func newWriterFixture(t *testing.T) *writerFixture {
	t.Helper()
	memories := newFakeMemoryStore()
	history := &fakeHistoryStore{}
	emb := newFakeEmbedder()
	tasks := NewTaskSupervisor(2, zap.NewNop())
	t.Cleanup(func() { _ = tasks.Shutdown(context.Background()) })

	catLLM := llm.NewMockClient()
	catLLM.Default = `["preferences"]`
	cat := NewCategorizer(memories, catLLM, zap.NewNop())
	ext := NewEntityExtractor(memories, newFakeEntityStore(), emb, llm.NewMockClient(), tasks, zap.NewNop())

	return &writerFixture{
		writer:   NewMemoryWriter(memories, history, emb, cat, ext, tasks, 0, zap.NewNop()),
		memories: memories,
		history:  history,
		tasks:    tasks,
		catLLM:   catLLM,
	}
}

func (f *writerFixture) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, f.tasks.Shutdown(context.Background()))
}

func TestAddStoresMemoryAndSchedulesFollowups(t *testing.T) {
	f := newWriterFixture(t)

	m, handle, err := f.writer.Add(context.Background(), "u1", "I prefer window seats", AddOptions{AppName: "cli"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.StateActive, m.State)
	require.NoError(t, handle.Await(context.Background(), time.Second))

	f.drain(t)
	assert.Contains(t, f.history.actions(m.ID), domain.HistoryAdd)
	assert.Equal(t, []string{"preferences"}, f.memories.cats[m.ID])
	assert.Equal(t, domain.ExtractionDone, f.memories.memories[m.ID].ExtractionStatus)
}

func TestAddSuppressesCategorization(t *testing.T) {
	f := newWriterFixture(t)

	m, _, err := f.writer.Add(context.Background(), "u1", "tagged item", AddOptions{SuppressCategories: true})
	require.NoError(t, err)

	f.drain(t)
	assert.Empty(t, f.memories.cats[m.ID])
}

func TestSupersedeClosesOldAndInheritsTags(t *testing.T) {
	f := newWriterFixture(t)
	old := &domain.Memory{Content: "I live in NYC", Tags: []string{"location"}, State: domain.StateActive}
	require.NoError(t, f.memories.Create(context.Background(), "u1", old, ""))

	m, handle, err := f.writer.Supersede(context.Background(), "u1", old.ID, "I moved to London", AddOptions{})
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, handle.Await(context.Background(), time.Second))

	assert.NotNil(t, f.memories.memories[old.ID].InvalidAt)
	assert.Equal(t, m.ID, f.memories.memories[old.ID].SupersededBy)
	assert.Equal(t, []string{"location"}, f.memories.memories[m.ID].Tags)

	f.drain(t)
	assert.Contains(t, f.history.actions(m.ID), domain.HistorySupersede)
}

func TestSupersedeUnknownIDReturnsNil(t *testing.T) {
	f := newWriterFixture(t)

	m, handle, err := f.writer.Supersede(context.Background(), "u1", "missing", "text", AddOptions{})
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Nil(t, handle)
}

func TestDeleteArchivePauseLifecycle(t *testing.T) {
	f := newWriterFixture(t)
	ctx := context.Background()

	mkMem := func(content string) string {
		m := &domain.Memory{Content: content, State: domain.StateActive}
		require.NoError(t, f.memories.Create(ctx, "u1", m, ""))
		return m.ID
	}

	delID, arcID, pauseID := mkMem("a"), mkMem("b"), mkMem("c")

	ok, err := f.writer.Delete(ctx, "u1", delID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StateDeleted, f.memories.memories[delID].State)

	ok, err = f.writer.Archive(ctx, "u1", arcID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, f.memories.memories[arcID].InvalidAt)

	ok, err = f.writer.Pause(ctx, "u1", pauseID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StatePaused, f.memories.memories[pauseID].State)
	assert.Nil(t, f.memories.memories[pauseID].InvalidAt)

	// Archived memories cannot be archived twice.
	ok, err = f.writer.Archive(ctx, "u1", arcID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.drain(t)
	assert.Contains(t, f.history.actions(delID), domain.HistoryDelete)
	assert.Contains(t, f.history.actions(arcID), domain.HistoryArchive)
	assert.Contains(t, f.history.actions(pauseID), domain.HistoryPause)
}

func TestDeleteIsUserScoped(t *testing.T) {
	f := newWriterFixture(t)
	m := &domain.Memory{Content: "private", State: domain.StateActive}
	require.NoError(t, f.memories.Create(context.Background(), "owner", m, ""))

	ok, err := f.writer.Delete(context.Background(), "intruder", m.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StateActive, f.memories.memories[m.ID].State)
}

func TestUpdateRewritesContent(t *testing.T) {
	f := newWriterFixture(t)
	m := &domain.Memory{Content: "old", State: domain.StateActive}
	require.NoError(t, f.memories.Create(context.Background(), "u1", m, ""))

	ok, err := f.writer.Update(context.Background(), "u1", m.ID, "new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", f.memories.memories[m.ID].Content)
}

func TestEmbeddingTextUsesContextWindow(t *testing.T) {
	memories := newFakeMemoryStore()
	memories.recent = []domain.Memory{{Content: "earlier fact"}}
	w := &MemoryWriter{memories: memories, contextWindow: 3}

	text := w.embeddingText(context.Background(), "u1", "new fact")
	assert.Equal(t, "earlier fact\nnew fact", text)

	w.contextWindow = 0
	assert.Equal(t, "new fact", w.embeddingText(context.Background(), "u1", "new fact"))
}
