// Package mcp exposes the ingestion orchestrator as MCP tools over SSE.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/service"
)

const (
	// perItemDrainMax bounds how long one item waits for the previous
	// item's entity extraction.
	perItemDrainMax = 3 * time.Second
	// batchDrainBudget bounds extraction draining across a whole batch.
	batchDrainBudget = 12 * time.Second

	// invalidateScoreThreshold is the minimum fused score for a hit to be
	// soft-deleted by an INVALIDATE intent.
	invalidateScoreThreshold = 0.015
	invalidateTopK           = 10

	browseDefaultLimit = 50
	browseMaxLimit     = 200
	searchDefaultLimit = 10

	// tagStarvationRatio triggers a warning when the tag filter drops more
	// than this share of raw hits.
	tagStarvationRatio = 0.7
)

// Orchestrator routes tool calls through the ingestion pipeline: intent
// classification, deduplication, writes and hybrid recall. Items within one
// call run strictly sequentially.
type Orchestrator struct {
	intents  *service.IntentClassifier
	dedup    *service.DeduplicationEngine
	writer   *service.MemoryWriter
	search   *service.HybridSearchEngine
	memories domain.MemoryStore
	entities domain.EntityStore
	apps     domain.AppStore
	logger   *zap.Logger
}

func NewOrchestrator(
	intents *service.IntentClassifier,
	dedup *service.DeduplicationEngine,
	writer *service.MemoryWriter,
	search *service.HybridSearchEngine,
	memories domain.MemoryStore,
	entities domain.EntityStore,
	apps domain.AppStore,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		intents:  intents,
		dedup:    dedup,
		writer:   writer,
		search:   search,
		memories: memories,
		entities: entities,
		apps:     apps,
		logger:   logger,
	}
}

// AddMemoriesRequest is the parsed input of the add_memories tool.
type AddMemoriesRequest struct {
	Items      []string
	Categories []string
	Tags       []string
	// SuppressAutoCategories defaults to true when Categories is non-empty
	// and the caller did not set it explicitly.
	SuppressAutoCategories *bool
}

// ItemError correlates a failure with its input position.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// AddMemoriesResult is the minimal index-correlated response.
type AddMemoriesResult struct {
	IDs         []string    `json:"ids,omitempty"`
	Stored      int         `json:"stored,omitempty"`
	Superseded  int         `json:"superseded,omitempty"`
	Skipped     int         `json:"skipped,omitempty"`
	Invalidated int         `json:"invalidated,omitempty"`
	Deleted     int         `json:"deleted,omitempty"`
	Touched     int         `json:"touched,omitempty"`
	Resolved    int         `json:"resolved,omitempty"`
	Errors      []ItemError `json:"errors,omitempty"`
}

func (r *AddMemoriesRequest) suppressAuto() bool {
	if r.SuppressAutoCategories != nil {
		return *r.SuppressAutoCategories
	}
	return len(r.Categories) > 0
}

// AddMemories processes items sequentially: intra-batch exact dedup, bounded
// extraction draining between items, intent dispatch per item.
func (o *Orchestrator) AddMemories(ctx context.Context, userID, appName string, req AddMemoriesRequest) AddMemoriesResult {
	var res AddMemoriesResult

	if appName != "" {
		active, err := o.apps.IsActive(ctx, userID, appName)
		if err == nil && !active {
			for i := range req.Items {
				res.Errors = append(res.Errors, ItemError{Index: i, Message: "app is paused"})
			}
			return res
		}
	}

	batchDeadline := time.Now().Add(batchDrainBudget)
	seen := make(map[string]bool, len(req.Items))
	var prevExtraction *service.TaskHandle

	for i, text := range req.Items {
		text = strings.TrimSpace(text)
		if text == "" {
			res.Errors = append(res.Errors, ItemError{Index: i, Message: "empty text"})
			continue
		}
		norm := strings.ToLower(text)
		if seen[norm] {
			res.Skipped++
			continue
		}
		seen[norm] = true

		o.drainPrevious(ctx, prevExtraction, batchDeadline)
		prevExtraction = nil

		intent := o.intents.Classify(ctx, text)
		switch intent.Kind {
		case domain.IntentStore:
			handle, err := o.store(ctx, userID, appName, text, req, &res)
			if err != nil {
				res.Errors = append(res.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			prevExtraction = handle

		case domain.IntentInvalidate:
			n, err := o.invalidate(ctx, userID, intent.Target)
			if err != nil {
				res.Errors = append(res.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			res.Invalidated += n

		case domain.IntentDeleteEntity:
			if _, err := o.entities.Delete(ctx, userID, intent.EntityName); err != nil {
				res.Errors = append(res.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			res.Deleted++

		case domain.IntentTouch:
			ok, err := o.touchBestMatch(ctx, userID, intent.Target)
			if err != nil {
				res.Errors = append(res.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			if ok {
				res.Touched++
			}

		case domain.IntentResolve:
			ok, err := o.resolveBestMatch(ctx, userID, intent.Target)
			if err != nil {
				res.Errors = append(res.Errors, ItemError{Index: i, Message: err.Error()})
				continue
			}
			if ok {
				res.Resolved++
			}
		}
	}

	return res
}

// drainPrevious awaits the previous item's extraction for at most
// perItemDrainMax, never exceeding the batch budget.
func (o *Orchestrator) drainPrevious(ctx context.Context, h *service.TaskHandle, batchDeadline time.Time) {
	if h == nil || h.Done() {
		return
	}
	remaining := time.Until(batchDeadline)
	if remaining <= 0 {
		return
	}
	budget := perItemDrainMax
	if remaining < budget {
		budget = remaining
	}
	if err := h.Await(ctx, budget); err != nil && err != context.DeadlineExceeded {
		o.logger.Debug("extraction drain", zap.Error(err))
	}
}

func (o *Orchestrator) store(ctx context.Context, userID, appName, text string, req AddMemoriesRequest, res *AddMemoriesResult) (*service.TaskHandle, error) {
	decision := o.dedup.Decide(ctx, userID, text)
	opts := service.AddOptions{
		AppName:            appName,
		Tags:               req.Tags,
		SuppressCategories: req.suppressAuto(),
	}

	switch decision.Action {
	case domain.DedupSkip:
		res.Skipped++
		res.IDs = append(res.IDs, decision.ExistingID)
		return nil, nil

	case domain.DedupSupersede:
		m, handle, err := o.writer.Supersede(ctx, userID, decision.ExistingID, text, opts)
		if err != nil {
			return nil, err
		}
		if m == nil {
			// Old memory vanished between decision and write; store fresh.
			break
		}
		res.Superseded++
		res.IDs = append(res.IDs, m.ID)
		o.attachCategories(ctx, userID, m.ID, req.Categories)
		return handle, nil
	}

	m, handle, err := o.writer.Add(ctx, userID, text, opts)
	if err != nil {
		return nil, err
	}
	res.Stored++
	res.IDs = append(res.IDs, m.ID)
	o.attachCategories(ctx, userID, m.ID, req.Categories)
	return handle, nil
}

func (o *Orchestrator) attachCategories(ctx context.Context, userID, memoryID string, categories []string) {
	if len(categories) == 0 {
		return
	}
	valid := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return
	}
	if err := o.memories.AttachCategories(ctx, userID, memoryID, valid); err != nil {
		o.logger.Warn("attach categories failed",
			zap.String("memory_id", memoryID),
			zap.Error(err))
	}
}

// invalidate soft-deletes every strong hit for the target description.
func (o *Orchestrator) invalidate(ctx context.Context, userID, target string) (int, error) {
	hits, err := o.search.Search(ctx, domain.SearchRequest{
		Query:  target,
		UserID: userID,
		TopK:   invalidateTopK,
		Mode:   domain.SearchHybrid,
	})
	if err != nil {
		return 0, fmt.Errorf("search invalidation target: %w", err)
	}

	n := 0
	for _, h := range hits {
		if h.RRFScore < invalidateScoreThreshold {
			continue
		}
		ok, err := o.writer.Delete(ctx, userID, h.ID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (o *Orchestrator) touchBestMatch(ctx context.Context, userID, target string) (bool, error) {
	best, err := o.search.FindBestMatch(ctx, userID, target)
	if err != nil || best == nil {
		return false, err
	}
	return o.writer.Touch(ctx, userID, best.ID)
}

func (o *Orchestrator) resolveBestMatch(ctx context.Context, userID, target string) (bool, error) {
	best, err := o.search.FindBestMatch(ctx, userID, target)
	if err != nil || best == nil {
		return false, err
	}
	return o.writer.Archive(ctx, userID, best.ID)
}
