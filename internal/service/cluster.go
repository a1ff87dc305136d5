package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/identity"
	"github.com/memforge-ai/memforge/internal/llm"
)

const (
	// subclusterMinSize is the smallest prefix group worth its own node.
	subclusterMinSize = 2
	// summarySampleSize caps how many member contents go into one summary call.
	summarySampleSize = 15
)

// ClusteringService rebuilds the user's community layer: level-0 communities
// from the store's detection procedure, level-1 subclusters from a shared
// first-words content prefix. Titles and summaries come from the LLM with a
// deterministic fallback.
type ClusteringService struct {
	communities domain.CommunityStore
	llm         domain.LLMClient
	logger      *zap.Logger
}

func NewClusteringService(communities domain.CommunityStore, client domain.LLMClient, logger *zap.Logger) *ClusteringService {
	return &ClusteringService{communities: communities, llm: client, logger: logger}
}

// Rebuild replaces the user's community layer from scratch.
func (s *ClusteringService) Rebuild(ctx context.Context, userID string) ([]domain.Community, error) {
	detected, err := s.communities.DetectCommunities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("detect communities: %w", err)
	}
	if len(detected) == 0 {
		return nil, s.communities.Replace(ctx, userID, nil, nil)
	}

	rawIDs := make([]int64, 0, len(detected))
	for id := range detected {
		rawIDs = append(rawIDs, id)
	}
	sort.Slice(rawIDs, func(i, j int) bool { return rawIDs[i] < rawIDs[j] })

	var communities []domain.Community
	members := make(map[string][]string)

	for _, rawID := range rawIDs {
		group := detected[rawID]
		parent := domain.Community{
			ID:          identity.GenerateID(),
			Level:       0,
			MemberCount: len(group),
		}
		parent.Name, parent.Summary = s.describe(ctx, group, fmt.Sprintf("community-%d", rawID))
		communities = append(communities, parent)
		for _, m := range group {
			members[parent.ID] = append(members[parent.ID], m.MemoryID)
		}

		for _, sub := range buildSubclusters(group) {
			child := domain.Community{
				ID:          identity.GenerateID(),
				Level:       1,
				ParentID:    parent.ID,
				MemberCount: len(sub.members),
			}
			child.Name, child.Summary = s.describe(ctx, sub.members, sub.prefix)
			communities = append(communities, child)
			for _, m := range sub.members {
				members[child.ID] = append(members[child.ID], m.MemoryID)
			}
		}
	}

	if err := s.communities.Replace(ctx, userID, communities, members); err != nil {
		return nil, err
	}
	return communities, nil
}

// List returns the stored community layer.
func (s *ClusteringService) List(ctx context.Context, userID string) ([]domain.Community, error) {
	return s.communities.List(ctx, userID)
}

type subcluster struct {
	prefix  string
	members []domain.CommunityMember
}

// buildSubclusters splits a community by the first three words of each
// member's content. A lightweight stand-in for re-running detection on the
// subgraph; prefix groups below subclusterMinSize stay with the parent only.
func buildSubclusters(group []domain.CommunityMember) []subcluster {
	byPrefix := make(map[string][]domain.CommunityMember)
	for _, m := range group {
		p := firstWords(m.Content, 3)
		if p == "" {
			continue
		}
		byPrefix[p] = append(byPrefix[p], m)
	}

	prefixes := make([]string, 0, len(byPrefix))
	for p, ms := range byPrefix {
		if len(ms) >= subclusterMinSize && len(ms) < len(group) {
			prefixes = append(prefixes, p)
		}
	}
	sort.Strings(prefixes)

	out := make([]subcluster, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, subcluster{prefix: p, members: byPrefix[p]})
	}
	return out
}

func firstWords(s string, n int) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// describe asks the LLM for a title and summary, falling back to the given
// name on any failure.
func (s *ClusteringService) describe(ctx context.Context, members []domain.CommunityMember, fallback string) (name, summary string) {
	sample := members
	if len(sample) > summarySampleSize {
		sample = sample[:summarySampleSize]
	}
	var lines []string
	for _, m := range sample {
		lines = append(lines, "- "+m.Content)
	}

	out, err := s.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:      fmt.Sprintf(llm.CommunitySummaryPrompt, strings.Join(lines, "\n")),
		Temperature: 0,
		MaxTokens:   150,
		JSONMode:    true,
	})
	if err != nil {
		s.logger.Warn("community summary failed", zap.Error(err))
		return fallback, ""
	}

	var parsed struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(llm.StripFences(out)), &parsed); err != nil || strings.TrimSpace(parsed.Title) == "" {
		return fallback, ""
	}
	return strings.TrimSpace(parsed.Title), strings.TrimSpace(parsed.Summary)
}
