package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/memforge-ai/memforge/internal/domain"
)

// Bulk item statuses.
const (
	BulkAdded            = "added"
	BulkSkippedDuplicate = "skipped_duplicate"
	BulkFailed           = "failed"
)

// BulkItem is one entry of a bulk ingestion request.
type BulkItem struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	ValidAt  *time.Time     `json:"valid_at,omitempty"`
}

// BulkStatus is the per-position outcome of a bulk ingestion.
type BulkStatus struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BulkOptions tune one ingestion run. Zero Concurrency derives the bound
// from the LLM provider's minute budget.
type BulkOptions struct {
	AppName      string
	Concurrency  int
	DedupEnabled bool
}

// BulkIngester writes many memories in two store round trips: one anchor
// MERGE and one UNWIND batch. Dedup runs before the write, embedding runs as
// a single batch call.
type BulkIngester struct {
	memories    domain.MemoryStore
	dedup       *DeduplicationEngine
	embedder    domain.EmbeddingClient
	categorizer *Categorizer
	extractor   *EntityExtractor
	tasks       *TaskSupervisor
	rpm         int
	logger      *zap.Logger
}

func NewBulkIngester(
	memories domain.MemoryStore,
	dedup *DeduplicationEngine,
	embedder domain.EmbeddingClient,
	categorizer *Categorizer,
	extractor *EntityExtractor,
	tasks *TaskSupervisor,
	requestsPerMinute int,
	logger *zap.Logger,
) *BulkIngester {
	return &BulkIngester{
		memories:    memories,
		dedup:       dedup,
		embedder:    embedder,
		categorizer: categorizer,
		extractor:   extractor,
		tasks:       tasks,
		rpm:         requestsPerMinute,
		logger:      logger,
	}
}

func (b *BulkIngester) concurrency(opts BulkOptions) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	n := b.rpm / 20
	if n > 5 {
		n = 5
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Ingest processes items and returns one status per input position.
func (b *BulkIngester) Ingest(ctx context.Context, userID string, items []BulkItem, opts BulkOptions) []BulkStatus {
	statuses := make([]BulkStatus, len(items))

	// Stage 1: in-batch exact dedup on the normalized text.
	seen := make(map[string]bool, len(items))
	var candidates []int
	for i, item := range items {
		norm := strings.ToLower(strings.TrimSpace(item.Text))
		if norm == "" {
			statuses[i] = BulkStatus{Status: BulkFailed, Error: "empty text"}
			continue
		}
		if seen[norm] {
			statuses[i] = BulkStatus{Status: BulkSkippedDuplicate}
			continue
		}
		seen[norm] = true
		candidates = append(candidates, i)
	}

	// Stage 2: cross-store near-dedup, bounded by a semaphore. Dedup errors
	// fall open inside Decide, so an outcome other than INSERT is always a
	// real duplicate.
	survivors := candidates
	if opts.DedupEnabled && b.dedup != nil {
		survivors = b.crossStoreDedup(ctx, userID, items, candidates, statuses, b.concurrency(opts))
	}
	if len(survivors) == 0 {
		return statuses
	}

	// Stage 3: one embedding batch for all survivors.
	texts := make([]string, len(survivors))
	for j, i := range survivors {
		texts[j] = items[i].Text
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, i := range survivors {
			statuses[i] = BulkStatus{Status: BulkFailed, Error: fmt.Sprintf("embed: %v", err)}
		}
		return statuses
	}

	// Stages 4-5: anchor MERGE plus one UNWIND write.
	mems := make([]*domain.Memory, len(survivors))
	for j, i := range survivors {
		m := &domain.Memory{
			Content:   items[i].Text,
			Embedding: vecs[j],
			State:     domain.StateActive,
			Metadata:  items[i].Metadata,
		}
		if items[i].ValidAt != nil {
			m.ValidAt = *items[i].ValidAt
		}
		mems[j] = m
	}
	if err := b.memories.BulkCreate(ctx, userID, opts.AppName, mems); err != nil {
		for _, i := range survivors {
			statuses[i] = BulkStatus{Status: BulkFailed, Error: fmt.Sprintf("write: %v", err)}
		}
		return statuses
	}

	// Stage 6: fire-and-forget extraction and categorization per created id.
	for j, i := range survivors {
		m := mems[j]
		statuses[i] = BulkStatus{Status: BulkAdded, ID: m.ID}
		b.tasks.Submit("bulk-categorize", func(ctx context.Context) error {
			return b.categorizer.Categorize(ctx, userID, m.ID, m.Content)
		})
		b.tasks.Submit("bulk-extract", func(ctx context.Context) error {
			return b.extractor.Process(ctx, m.ID)
		})
	}
	return statuses
}

func (b *BulkIngester) crossStoreDedup(ctx context.Context, userID string, items []BulkItem, candidates []int, statuses []BulkStatus, bound int) []int {
	sem := semaphore.NewWeighted(int64(bound))
	decisions := make([]domain.DedupDecision, len(items))
	var wg sync.WaitGroup

	for _, i := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone; remaining items fall through as unique.
			decisions[i] = domain.DedupDecision{Action: domain.DedupInsert}
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			decisions[i] = b.dedup.Decide(ctx, userID, items[i].Text)
		}(i)
	}
	wg.Wait()

	var survivors []int
	for _, i := range candidates {
		switch decisions[i].Action {
		case domain.DedupSkip, domain.DedupSupersede:
			statuses[i] = BulkStatus{Status: BulkSkippedDuplicate, ID: decisions[i].ExistingID}
		default:
			survivors = append(survivors, i)
		}
	}
	return survivors
}
