package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/identity"
)

// AddOptions carries the optional fields of one memory write.
type AddOptions struct {
	AppName  string
	Tags     []string
	Metadata map[string]any
	// SuppressCategories skips automatic categorization, used when the
	// caller attaches explicit categories.
	SuppressCategories bool
}

// MemoryWriter owns all memory mutations. Writes are synchronous; history,
// categorization and entity extraction run fire-and-forget afterwards.
type MemoryWriter struct {
	memories    domain.MemoryStore
	history     domain.HistoryStore
	embedder    domain.EmbeddingClient
	categorizer *Categorizer
	extractor   *EntityExtractor
	tasks       *TaskSupervisor
	logger      *zap.Logger

	// contextWindow > 0 prefixes the embedding text with the N most recent
	// memories. The stored content is always the original text.
	contextWindow int
}

func NewMemoryWriter(
	memories domain.MemoryStore,
	history domain.HistoryStore,
	embedder domain.EmbeddingClient,
	categorizer *Categorizer,
	extractor *EntityExtractor,
	tasks *TaskSupervisor,
	contextWindow int,
	logger *zap.Logger,
) *MemoryWriter {
	return &MemoryWriter{
		memories:      memories,
		history:       history,
		embedder:      embedder,
		categorizer:   categorizer,
		extractor:     extractor,
		tasks:         tasks,
		contextWindow: contextWindow,
		logger:        logger,
	}
}

// Add stores a new memory and returns it along with the handle of its
// extraction task, so batch callers can drain extraction between items.
func (w *MemoryWriter) Add(ctx context.Context, userID, text string, opts AddOptions) (*domain.Memory, *TaskHandle, error) {
	vec, err := w.embedder.Embed(ctx, w.embeddingText(ctx, userID, text))
	if err != nil {
		return nil, nil, fmt.Errorf("embed memory: %w", err)
	}

	m := &domain.Memory{
		Content:   text,
		Embedding: vec,
		State:     domain.StateActive,
		Tags:      opts.Tags,
		Metadata:  opts.Metadata,
	}
	if err := w.memories.Create(ctx, userID, m, opts.AppName); err != nil {
		return nil, nil, fmt.Errorf("create memory: %w", err)
	}

	w.appendHistory(m.ID, "", text, domain.HistoryAdd)
	if !opts.SuppressCategories {
		w.scheduleCategorize(userID, m.ID, text)
	}
	return m, w.scheduleExtraction(m.ID), nil
}

// Supersede atomically closes oldID and writes a replacement. A nil tags
// slice inherits the old memory's tags.
func (w *MemoryWriter) Supersede(ctx context.Context, userID, oldID, newText string, opts AddOptions) (*domain.Memory, *TaskHandle, error) {
	vec, err := w.embedder.Embed(ctx, newText)
	if err != nil {
		return nil, nil, fmt.Errorf("embed replacement: %w", err)
	}

	m := &domain.Memory{
		Content:   newText,
		Embedding: vec,
		State:     domain.StateActive,
		Tags:      opts.Tags,
		Metadata:  opts.Metadata,
	}
	ok, err := w.memories.Supersede(ctx, userID, oldID, m, opts.AppName)
	if err != nil {
		return nil, nil, fmt.Errorf("supersede memory %s: %w", oldID, err)
	}
	if !ok {
		return nil, nil, nil
	}

	w.appendHistory(m.ID, "", newText, domain.HistorySupersede)
	if !opts.SuppressCategories {
		w.scheduleCategorize(userID, m.ID, newText)
	}
	return m, w.scheduleExtraction(m.ID), nil
}

// Delete soft-deletes a memory. Returns whether anything matched.
func (w *MemoryWriter) Delete(ctx context.Context, userID, memoryID string) (bool, error) {
	ok, err := w.memories.SoftDelete(ctx, userID, memoryID)
	if err != nil {
		return false, fmt.Errorf("delete memory %s: %w", memoryID, err)
	}
	if ok {
		w.appendHistory(memoryID, "", "", domain.HistoryDelete)
	}
	return ok, nil
}

// Archive closes the validity interval of an active memory without deleting it.
func (w *MemoryWriter) Archive(ctx context.Context, userID, memoryID string) (bool, error) {
	ok, err := w.memories.Archive(ctx, userID, memoryID)
	if err != nil {
		return false, fmt.Errorf("archive memory %s: %w", memoryID, err)
	}
	if ok {
		w.appendHistory(memoryID, "", "", domain.HistoryArchive)
	}
	return ok, nil
}

// Pause marks an active memory paused. Paused memories stay valid.
func (w *MemoryWriter) Pause(ctx context.Context, userID, memoryID string) (bool, error) {
	ok, err := w.memories.Pause(ctx, userID, memoryID)
	if err != nil {
		return false, fmt.Errorf("pause memory %s: %w", memoryID, err)
	}
	if ok {
		w.appendHistory(memoryID, "", "", domain.HistoryPause)
	}
	return ok, nil
}

// Touch refreshes updatedAt without changing content.
func (w *MemoryWriter) Touch(ctx context.Context, userID, memoryID string) (bool, error) {
	ok, err := w.memories.Touch(ctx, userID, memoryID)
	if err != nil {
		return false, fmt.Errorf("touch memory %s: %w", memoryID, err)
	}
	return ok, nil
}

// Update overwrites content and embedding in place. Retained for back-compat;
// Supersede is the bi-temporal mutation.
func (w *MemoryWriter) Update(ctx context.Context, userID, memoryID, newText string) (bool, error) {
	vec, err := w.embedder.Embed(ctx, newText)
	if err != nil {
		return false, fmt.Errorf("embed updated content: %w", err)
	}
	ok, err := w.memories.UpdateContent(ctx, userID, memoryID, newText, vec)
	if err != nil {
		return false, fmt.Errorf("update memory %s: %w", memoryID, err)
	}
	return ok, nil
}

// embeddingText optionally prefixes text with recent memories so the vector
// captures conversational context. Failures degrade to the bare text.
func (w *MemoryWriter) embeddingText(ctx context.Context, userID, text string) string {
	if w.contextWindow <= 0 {
		return text
	}
	recent, err := w.memories.Recent(ctx, userID, w.contextWindow)
	if err != nil || len(recent) == 0 {
		return text
	}
	var b strings.Builder
	for _, m := range recent {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(text)
	return b.String()
}

func (w *MemoryWriter) appendHistory(memoryID, previous, next string, action domain.HistoryAction) {
	w.tasks.Submit("history", func(ctx context.Context) error {
		return w.history.Append(ctx, &domain.MemoryHistory{
			ID:            identity.GenerateID(),
			MemoryID:      memoryID,
			PreviousValue: previous,
			NewValue:      next,
			Action:        action,
		})
	})
}

func (w *MemoryWriter) scheduleCategorize(userID, memoryID, content string) {
	w.tasks.Submit("categorize", func(ctx context.Context) error {
		return w.categorizer.Categorize(ctx, userID, memoryID, content)
	})
}

func (w *MemoryWriter) scheduleExtraction(memoryID string) *TaskHandle {
	return w.tasks.Submit("extract-entities", func(ctx context.Context) error {
		return w.extractor.Process(ctx, memoryID)
	})
}
