package store

import (
	"context"
	"fmt"

	"github.com/memforge-ai/memforge/internal/domain"
)

// CommunityStore persists the clustering output: Community nodes, membership
// edges and the two-level hierarchy.
type CommunityStore struct {
	g *Gateway
}

func NewCommunityStore(g *Gateway) *CommunityStore {
	return &CommunityStore{g: g}
}

// Replace swaps the user's whole community layer in one transaction: old
// communities go away, then nodes, IN_COMMUNITY memberships and
// SUBCOMMUNITY_OF edges are rebuilt from the detection output.
func (s *CommunityStore) Replace(ctx context.Context, userID string, communities []domain.Community, members map[string][]string) error {
	now := isoNow()

	nodes := make([]map[string]any, 0, len(communities))
	var parentEdges []map[string]any
	for _, c := range communities {
		nodes = append(nodes, map[string]any{
			"id":          c.ID,
			"name":        c.Name,
			"summary":     c.Summary,
			"level":       c.Level,
			"parentId":    c.ParentID,
			"memberCount": c.MemberCount,
		})
		if c.ParentID != "" {
			parentEdges = append(parentEdges, map[string]any{"childId": c.ID, "parentId": c.ParentID})
		}
	}
	var memberRows []map[string]any
	for communityID, memoryIDs := range members {
		for _, memID := range memoryIDs {
			memberRows = append(memberRows, map[string]any{"communityId": communityID, "memoryId": memID})
		}
	}

	steps := []domain.QueryStep{
		{
			Cypher: `MATCH (u:User {userId: $userId})-[:HAS_COMMUNITY]->(c:Community) DETACH DELETE c`,
			Params: map[string]any{"userId": userID},
		},
		{
			Cypher: `MATCH (u:User {userId: $userId})
UNWIND $nodes AS com
CREATE (c:Community {id: com.id, name: com.name, summary: com.summary,
        level: com.level, parentId: com.parentId, memberCount: com.memberCount,
        createdAt: $now, updatedAt: $now})
CREATE (u)-[:HAS_COMMUNITY]->(c)`,
			Params: map[string]any{"userId": userID, "nodes": nodes, "now": now},
		},
	}
	if len(memberRows) > 0 {
		steps = append(steps, domain.QueryStep{
			Cypher: `MATCH (u:User {userId: $userId})
UNWIND $members AS mem
MATCH (u)-[:HAS_MEMORY]->(m:Memory {id: mem.memoryId})
MATCH (u)-[:HAS_COMMUNITY]->(c:Community {id: mem.communityId})
MERGE (m)-[:IN_COMMUNITY]->(c)`,
			Params: map[string]any{"userId": userID, "members": memberRows},
		})
	}
	if len(parentEdges) > 0 {
		steps = append(steps, domain.QueryStep{
			Cypher: `MATCH (u:User {userId: $userId})
UNWIND $edges AS edge
MATCH (u)-[:HAS_COMMUNITY]->(child:Community {id: edge.childId})
MATCH (u)-[:HAS_COMMUNITY]->(parent:Community {id: edge.parentId})
MERGE (child)-[:SUBCOMMUNITY_OF]->(parent)`,
			Params: map[string]any{"userId": userID, "edges": parentEdges},
		})
	}

	if _, err := s.g.Transaction(ctx, steps); err != nil {
		return fmt.Errorf("replace communities: %w", err)
	}
	return nil
}

func (s *CommunityStore) List(ctx context.Context, userID string) ([]domain.Community, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_COMMUNITY]->(c:Community)
RETURN c.id AS id, c.name AS name, c.summary AS summary, c.level AS level,
       c.parentId AS parentId, c.memberCount AS memberCount,
       c.createdAt AS createdAt, c.updatedAt AS updatedAt
ORDER BY c.level, c.memberCount DESC`,
		map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	out := make([]domain.Community, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Community{
			ID:          rowString(row, "id"),
			Name:        rowString(row, "name"),
			Summary:     rowString(row, "summary"),
			Level:       rowInt(row, "level"),
			ParentID:    rowString(row, "parentId"),
			MemberCount: rowInt(row, "memberCount"),
			CreatedAt:   rowTime(row, "createdAt"),
			UpdatedAt:   rowTime(row, "updatedAt"),
		})
	}
	return out, nil
}

// DetectCommunities runs the store's community-detection procedure and maps
// the user's current memories to raw community ids.
func (s *CommunityStore) DetectCommunities(ctx context.Context, userID string) (map[int64][]domain.CommunityMember, error) {
	rows, err := s.g.Read(ctx, `CALL community_detection.get() YIELD node, community_id
WITH node, community_id
MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(node)
WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
RETURN node.id AS memoryId, node.content AS content, community_id AS communityId`,
		map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("community detection: %w", err)
	}
	out := map[int64][]domain.CommunityMember{}
	for _, row := range rows {
		cid, _ := row["communityId"].(int64)
		out[cid] = append(out[cid], domain.CommunityMember{
			MemoryID: rowString(row, "memoryId"),
			Content:  rowString(row, "content"),
		})
	}
	return out, nil
}
