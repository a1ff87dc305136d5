package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
)

const (
	// rrfK is the Reciprocal Rank Fusion constant.
	rrfK = 60
	// rrfConfidenceFloor is the minimum fused score for a vector-only result
	// set to count as confident.
	rrfConfidenceFloor = 0.012
	// rrfDisplayDivisor normalizes a fused score to a 0..1 display score.
	// 0.032786 ≈ 2/(K+1), the score of a memory ranked first in both arms.
	rrfDisplayDivisor = 0.032786

	defaultSearchLimit = 10
	entitySearchLimit  = 5
)

// HybridSearchEngine fuses a lexical arm and a vector arm with Reciprocal
// Rank Fusion. Post-filtering and access logging happen at the surface
// boundary via Filter and LogAccess.
type HybridSearchEngine struct {
	memories domain.MemoryStore
	entities domain.EntityStore
	apps     domain.AppStore
	embedder domain.EmbeddingClient
	tasks    *TaskSupervisor
	logger   *zap.Logger
}

func NewHybridSearchEngine(
	memories domain.MemoryStore,
	entities domain.EntityStore,
	apps domain.AppStore,
	embedder domain.EmbeddingClient,
	tasks *TaskSupervisor,
	logger *zap.Logger,
) *HybridSearchEngine {
	return &HybridSearchEngine{
		memories: memories,
		entities: entities,
		apps:     apps,
		embedder: embedder,
		tasks:    tasks,
		logger:   logger,
	}
}

// Search runs the requested arms and returns the fused ranking, capped to
// TopK. A failed arm degrades the search to the surviving arm.
func (s *HybridSearchEngine) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = defaultSearchLimit
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.SearchHybrid
	}

	var textArm, vectorArm []domain.Memory

	if mode == domain.SearchHybrid || mode == domain.SearchText {
		hits, err := s.memories.TextSearch(ctx, req.UserID, req.Query, topK)
		if err != nil {
			if mode == domain.SearchText {
				return nil, fmt.Errorf("text search: %w", err)
			}
			s.logger.Warn("text arm failed, degrading to vector", zap.Error(err))
		} else {
			textArm = hits
		}
	}

	if mode == domain.SearchHybrid || mode == domain.SearchVector {
		hits, err := s.vectorArm(ctx, req.UserID, req.Query, topK)
		if err != nil {
			if mode == domain.SearchVector {
				return nil, fmt.Errorf("vector search: %w", err)
			}
			s.logger.Warn("vector arm failed, degrading to text", zap.Error(err))
		} else {
			vectorArm = hits
		}
	}

	fused := fuseRRF(textArm, vectorArm)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// vectorArm embeds the query and fetches 2x candidates so the user-anchored
// bi-temporal filter inside the store does not starve the arm.
func (s *HybridSearchEngine) vectorArm(ctx context.Context, userID, query string, topK int) ([]domain.Memory, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.memories.VectorSearch(ctx, userID, vec, topK*2)
	if err != nil {
		return nil, err
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]domain.Memory, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Memory)
	}
	return out, nil
}

// fuseRRF merges two ranked arms by Reciprocal Rank Fusion with K=60. Each
// arm contributes 1/(K+rank) for ids it ranked; ties break toward text rank,
// then id, so the ordering is deterministic.
func fuseRRF(textArm, vectorArm []domain.Memory) []domain.SearchResult {
	byID := make(map[string]*domain.SearchResult)
	order := make([]string, 0, len(textArm)+len(vectorArm))

	ensure := func(m domain.Memory) *domain.SearchResult {
		if r, ok := byID[m.ID]; ok {
			return r
		}
		r := &domain.SearchResult{
			ID:         m.ID,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
			UpdatedAt:  m.UpdatedAt,
			AppName:    m.AppName,
			Categories: m.Categories,
			Tags:       m.Tags,
		}
		byID[m.ID] = r
		order = append(order, m.ID)
		return r
	}

	for i, m := range textArm {
		rank := i + 1
		r := ensure(m)
		r.TextRank = &rank
		r.RRFScore += 1.0 / float64(rrfK+rank)
	}
	for i, m := range vectorArm {
		rank := i + 1
		r := ensure(m)
		r.VectorRank = &rank
		r.RRFScore += 1.0 / float64(rrfK+rank)
	}

	out := make([]domain.SearchResult, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		ti, tj := rankOrMax(out[i].TextRank), rankOrMax(out[j].TextRank)
		if ti != tj {
			return ti < tj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func rankOrMax(r *int) int {
	if r == nil {
		return int(^uint(0) >> 1)
	}
	return *r
}

// Confident reports whether the result set is trustworthy: any text-ranked
// hit, or a fused score above the RRF floor.
func Confident(results []domain.SearchResult) bool {
	for _, r := range results {
		if r.TextRank != nil {
			return true
		}
		if r.RRFScore > rrfConfidenceFloor {
			return true
		}
	}
	return false
}

// DisplayScore maps a fused score onto 0..1 for presentation.
func DisplayScore(rrf float64) float64 {
	s := rrf / rrfDisplayDivisor
	if s > 1 {
		return 1
	}
	return s
}

// Filter applies the boundary post-filters. It returns the survivors plus
// the raw count before the tag filter, so callers can warn when a tag filter
// starves the set.
func Filter(results []domain.SearchResult, f domain.SearchFilters) (filtered []domain.SearchResult, beforeTag int) {
	pre := results[:0:0]
	for _, r := range results {
		if f.Category != "" && !hasCategory(r.Categories, f.Category) {
			continue
		}
		if f.CreatedAfter != nil && !r.CreatedAt.After(*f.CreatedAfter) {
			continue
		}
		pre = append(pre, r)
	}
	beforeTag = len(pre)
	if f.Tag == "" {
		return pre, beforeTag
	}
	out := pre[:0:0]
	for _, r := range pre {
		if hasTag(r.Tags, f.Tag) {
			out = append(out, r)
		}
	}
	return out, beforeTag
}

func hasCategory(categories []string, want string) bool {
	for _, c := range categories {
		if strings.EqualFold(c, want) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// Oversample returns the fetch size for a filtered search so post-filtering
// does not starve the caller's limit.
func Oversample(limit int, tagged bool) int {
	mult := 5
	if tagged {
		mult = 10
	}
	n := limit * mult
	if n < 200 {
		n = 200
	}
	return n
}

// LogAccess records ACCESSED edges for the surviving results without
// blocking the response.
func (s *HybridSearchEngine) LogAccess(userID, appName, query string, results []domain.SearchResult) {
	if appName == "" || len(results) == 0 {
		return
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	s.tasks.Submit("log-access", func(ctx context.Context) error {
		return s.apps.LogAccess(ctx, userID, appName, ids, query)
	})
}

// SearchEntities enriches a search with entity hits: substring match plus
// semantic ANN over description embeddings, deduplicated by id, with
// relationships fetched in one round trip.
func (s *HybridSearchEngine) SearchEntities(ctx context.Context, userID, query string, limit int) ([]domain.EntityMatch, error) {
	if limit <= 0 {
		limit = entitySearchLimit
	}

	seen := make(map[string]bool)
	var matched []domain.Entity

	substr, err := s.entities.SearchSubstring(ctx, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("entity substring search: %w", err)
	}
	for _, e := range substr {
		if !seen[e.ID] {
			seen[e.ID] = true
			matched = append(matched, e)
		}
	}

	if len(matched) < limit {
		vec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			hits, err := s.entities.VectorSearch(ctx, userID, vec, limit)
			if err == nil {
				for _, h := range hits {
					if !seen[h.ID] {
						seen[h.ID] = true
						matched = append(matched, h.Entity)
					}
				}
			}
		}
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	if len(matched) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matched))
	for _, e := range matched {
		ids = append(ids, e.ID)
	}
	rels, err := s.entities.RelationshipsFor(ctx, userID, ids)
	if err != nil {
		s.logger.Warn("relationship fetch failed", zap.Error(err))
		rels = map[string][]domain.EntityRelationship{}
	}

	out := make([]domain.EntityMatch, 0, len(matched))
	for _, e := range matched {
		out = append(out, domain.EntityMatch{Entity: e, Relationships: rels[e.ID]})
	}
	return out, nil
}

// FindBestMatch resolves a free-text description of an existing memory to its
// best fused hit, used by the targeted intents.
func (s *HybridSearchEngine) FindBestMatch(ctx context.Context, userID, target string) (*domain.SearchResult, error) {
	results, err := s.Search(ctx, domain.SearchRequest{
		Query:  target,
		UserID: userID,
		TopK:   1,
		Mode:   domain.SearchHybrid,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}
