package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/service"
)

// SearchMemoryRequest is the parsed input of the search_memory tool. An
// empty Query selects browse mode.
type SearchMemoryRequest struct {
	Query           string
	Limit           int
	Offset          int
	Category        string
	CreatedAfter    *time.Time
	Tag             string
	IncludeEntities bool
}

// MemoryHit is one result entry as surfaced to the tool caller.
type MemoryHit struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
	AppName    string   `json:"app_name,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Score      float64  `json:"score,omitempty"`
}

// SearchMemoryResult covers both modes. Browse fills Total/Categories/Tags;
// search fills Confident and optionally Entities and Warning.
type SearchMemoryResult struct {
	Mode       string                 `json:"mode"`
	Results    []MemoryHit            `json:"results"`
	Total      int                    `json:"total,omitempty"`
	Categories []domain.CategoryCount `json:"categories,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Confident  bool                   `json:"confident,omitempty"`
	Entities   []domain.EntityMatch   `json:"entities,omitempty"`
	Warning    string                 `json:"warning,omitempty"`
}

// SearchMemory dispatches to browse or search mode on the presence of a query.
func (o *Orchestrator) SearchMemory(ctx context.Context, userID, appName string, req SearchMemoryRequest) (*SearchMemoryResult, error) {
	if req.Query == "" {
		return o.browse(ctx, userID, req)
	}
	return o.hybridRecall(ctx, userID, appName, req)
}

// browse pages the user's current memories chronologically, with the
// category and tag vocabulary for drill-down.
func (o *Orchestrator) browse(ctx context.Context, userID string, req SearchMemoryRequest) (*SearchMemoryResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = browseDefaultLimit
	}
	if limit > browseMaxLimit {
		limit = browseMaxLimit
	}
	page := req.Offset/limit + 1

	var cats []string
	if req.Category != "" {
		cats = []string{req.Category}
	}
	items, total, err := o.memories.List(ctx, userID, domain.ListOptions{
		Categories: cats,
		Page:       page,
		Size:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("browse memories: %w", err)
	}

	categories, err := o.memories.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	tags, err := o.memories.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	hits := make([]MemoryHit, 0, len(items))
	for _, m := range items {
		hits = append(hits, memoryHit(m, 0))
	}
	return &SearchMemoryResult{
		Mode:       "browse",
		Results:    hits,
		Total:      total,
		Categories: categories,
		Tags:       tags,
	}, nil
}

// hybridRecall runs the fused search over an oversampled fetch so the
// boundary post-filters do not starve the caller's limit.
func (o *Orchestrator) hybridRecall(ctx context.Context, userID, appName string, req SearchMemoryRequest) (*SearchMemoryResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = searchDefaultLimit
	}

	raw, err := o.search.Search(ctx, domain.SearchRequest{
		Query:   req.Query,
		UserID:  userID,
		TopK:    service.Oversample(limit, req.Tag != ""),
		Mode:    domain.SearchHybrid,
		AppName: appName,
	})
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	filtered, beforeTag := service.Filter(raw, domain.SearchFilters{
		Category:     req.Category,
		CreatedAfter: req.CreatedAfter,
		Tag:          req.Tag,
	})

	res := &SearchMemoryResult{
		Mode:      "search",
		Confident: service.Confident(filtered),
	}
	if req.Tag != "" && beforeTag > 0 {
		dropped := float64(beforeTag-len(filtered)) / float64(beforeTag)
		if dropped > tagStarvationRatio {
			res.Warning = "tag_filter_warning: the tag filter removed most matches, consider browse mode"
		}
	}

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	res.Results = make([]MemoryHit, 0, len(filtered))
	for _, r := range filtered {
		res.Results = append(res.Results, searchHit(r))
	}

	if req.IncludeEntities {
		entities, err := o.search.SearchEntities(ctx, userID, req.Query, 0)
		if err == nil {
			res.Entities = entities
		}
	}

	o.search.LogAccess(userID, appName, req.Query, filtered)
	return res, nil
}

func memoryHit(m domain.Memory, score float64) MemoryHit {
	return MemoryHit{
		ID:         m.ID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt.Unix(),
		UpdatedAt:  m.UpdatedAt.Unix(),
		AppName:    m.AppName,
		Categories: m.Categories,
		Tags:       m.Tags,
		Score:      score,
	}
}

func searchHit(r domain.SearchResult) MemoryHit {
	return MemoryHit{
		ID:         r.ID,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt.Unix(),
		UpdatedAt:  r.UpdatedAt.Unix(),
		AppName:    r.AppName,
		Categories: r.Categories,
		Tags:       r.Tags,
		Score:      service.DisplayScore(r.RRFScore),
	}
}
