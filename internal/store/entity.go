package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/identity"
)

const entityReturn = `e.id AS id, e.name AS name, e.normalizedName AS normalizedName,
       e.type AS type, e.description AS description, e.metadata AS metadata,
       e.userId AS userId, e.summary AS summary`

// EntityStore persists Entity nodes, MENTIONS edges and RELATED_TO edges.
// Entities are user-scoped; at most one exists per (userId, normalizedName).
type EntityStore struct {
	g *Gateway
}

func NewEntityStore(g *Gateway) *EntityStore {
	return &EntityStore{g: g}
}

func (s *EntityStore) Create(ctx context.Context, userID string, e *domain.Entity) error {
	if e.ID == "" {
		e.ID = identity.GenerateID()
	}
	if e.NormalizedName == "" {
		e.NormalizedName = domain.NormalizeEntityName(e.Name)
	}
	// MERGE on the uniqueness key so a concurrent extraction of the same
	// name does not create a second node.
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})
MERGE (e:Entity {userId: $userId, normalizedName: $normalizedName})
ON CREATE SET e.id = $id, e.name = $name, e.type = $type,
              e.description = $description, e.descriptionEmbedding = $descEmbedding,
              e.metadata = $metadata, e.createdAt = $now
MERGE (u)-[:HAS_ENTITY]->(e)
RETURN e.id AS id`,
		map[string]any{
			"userId":         userID,
			"normalizedName": e.NormalizedName,
			"id":             e.ID,
			"name":           e.Name,
			"type":           e.Type,
			"description":    e.Description,
			"descEmbedding":  vecParam(e.DescriptionEmbedding),
			"metadata":       metadataParam(e.Metadata),
			"now":            isoNow(),
		})
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	if len(rows) > 0 {
		e.ID = rowString(rows[0], "id")
	}
	return nil
}

func (s *EntityStore) GetByID(ctx context.Context, userID, entityID string) (*domain.Entity, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
RETURN `+entityReturn,
		map[string]any{"userId": userID, "id": entityID})
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	e := entityFromRow(rows[0])
	return &e, nil
}

func (s *EntityStore) GetByNormalizedName(ctx context.Context, userID, normalizedName string) (*domain.Entity, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {normalizedName: $normalizedName})
RETURN `+entityReturn,
		map[string]any{"userId": userID, "normalizedName": normalizedName})
	if err != nil {
		return nil, fmt.Errorf("get entity by name: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	e := entityFromRow(rows[0])
	return &e, nil
}

// LookupByNormalizedNames maps each normalized name to its existing entity
// id in one UNWIND round trip. Missing names are absent from the map.
func (s *EntityStore) LookupByNormalizedNames(ctx context.Context, userID string, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})
UNWIND $names AS normName
MATCH (u)-[:HAS_ENTITY]->(e:Entity {normalizedName: normName})
RETURN e.normalizedName AS normalizedName, e.id AS id`,
		map[string]any{"userId": userID, "names": names})
	if err != nil {
		return nil, fmt.Errorf("batch entity lookup: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[rowString(row, "normalizedName")] = rowString(row, "id")
	}
	return out, nil
}

// Update applies the resolution upgrade rules in one statement: type and
// description only grow longer, metadata shallow-merges.
func (s *EntityStore) Update(ctx context.Context, userID, entityID string, typ, description string, descEmbedding []float32, metadata map[string]any) error {
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
SET e.type = CASE WHEN size($type) > size(coalesce(e.type, '')) THEN $type ELSE e.type END,
    e.description = CASE WHEN size($description) > size(coalesce(e.description, '')) THEN $description ELSE e.description END,
    e.descriptionEmbedding = CASE WHEN size($description) > size(coalesce(e.description, '')) THEN $descEmbedding ELSE e.descriptionEmbedding END`,
		map[string]any{
			"userId":        userID,
			"id":            entityID,
			"type":          typ,
			"description":   description,
			"descEmbedding": vecParam(descEmbedding),
		})
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	if len(metadata) > 0 {
		return s.MergeMetadata(ctx, userID, entityID, metadata)
	}
	return nil
}

func (s *EntityStore) SetDescription(ctx context.Context, userID, entityID, description string, descEmbedding []float32) error {
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
SET e.description = $description, e.descriptionEmbedding = $descEmbedding`,
		map[string]any{
			"userId": userID, "id": entityID,
			"description": description, "descEmbedding": vecParam(descEmbedding),
		})
	if err != nil {
		return fmt.Errorf("set entity description: %w", err)
	}
	return nil
}

// MergeMetadata shallow-merges incoming keys into the stored JSON metadata.
// The merge runs read-modify-write through the graph store; last writer wins
// per key.
func (s *EntityStore) MergeMetadata(ctx context.Context, userID, entityID string, metadata map[string]any) error {
	if len(metadata) == 0 {
		return nil
	}
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
RETURN e.metadata AS metadata`,
		map[string]any{"userId": userID, "id": entityID})
	if err != nil {
		return fmt.Errorf("read entity metadata: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	merged := metadataFromRow(rows[0]["metadata"])
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal merged metadata: %w", err)
	}
	_, err = s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
SET e.metadata = $metadata`,
		map[string]any{"userId": userID, "id": entityID, "metadata": string(payload)})
	if err != nil {
		return fmt.Errorf("write entity metadata: %w", err)
	}
	return nil
}

func (s *EntityStore) SetSummary(ctx context.Context, userID, entityID, summary string) error {
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $id})
SET e.summary = $summary, e.summaryUpdatedAt = $now`,
		map[string]any{"userId": userID, "id": entityID, "summary": summary, "now": isoNow()})
	if err != nil {
		return fmt.Errorf("set entity summary: %w", err)
	}
	return nil
}

func (s *EntityStore) LinkMention(ctx context.Context, userID, memoryID, entityID string) error {
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $memoryId})
MATCH (u)-[:HAS_ENTITY]->(e:Entity {id: $entityId})
MERGE (m)-[:MENTIONS]->(e)`,
		map[string]any{"userId": userID, "memoryId": memoryID, "entityId": entityID})
	if err != nil {
		return fmt.Errorf("link mention: %w", err)
	}
	return nil
}

func (s *EntityStore) MentionCount(ctx context.Context, userID, entityID string) (int, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $entityId})
OPTIONAL MATCH (m:Memory)-[:MENTIONS]->(e)
RETURN count(m) AS mentions`,
		map[string]any{"userId": userID, "entityId": entityID})
	if err != nil {
		return 0, fmt.Errorf("mention count: %w", err)
	}
	if len(rows) == 0 {
		return 0, ErrNotFound
	}
	return rowInt(rows[0], "mentions"), nil
}

func (s *EntityStore) MentioningMemories(ctx context.Context, userID, entityID string, limit int) ([]domain.Memory, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity {id: $entityId})
MATCH (m:Memory)-[:MENTIONS]->(e)
WHERE m.state <> 'deleted'
RETURN `+memoryReturn+`
ORDER BY m.createdAt DESC
LIMIT $limit`,
		map[string]any{"userId": userID, "entityId": entityID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("mentioning memories: %w", err)
	}
	mems := make([]domain.Memory, 0, len(rows))
	for _, row := range rows {
		mems = append(mems, memoryFromRow(row))
	}
	return mems, nil
}

func (s *EntityStore) GetRelationship(ctx context.Context, userID, sourceID, targetID, relType string) (*domain.EntityRelationship, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(src:Entity {id: $sourceId})
MATCH (src)-[r:RELATED_TO {type: $type}]->(tgt:Entity {id: $targetId})
RETURN r.type AS type, r.description AS description, r.metadata AS metadata, r.at AS at
ORDER BY r.at DESC LIMIT 1`,
		map[string]any{"userId": userID, "sourceId": sourceID, "targetId": targetID, "type": relType})
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	row := rows[0]
	return &domain.EntityRelationship{
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        rowString(row, "type"),
		Description: rowString(row, "description"),
		Metadata:    metadataFromRow(row["metadata"]),
		At:          rowTime(row, "at"),
	}, nil
}

func (s *EntityStore) CreateRelationship(ctx context.Context, userID string, rel *domain.EntityRelationship) error {
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(src:Entity {id: $sourceId})
MATCH (u)-[:HAS_ENTITY]->(tgt:Entity {id: $targetId})
CREATE (src)-[:RELATED_TO {type: $type, description: $description, metadata: $metadata, at: $now}]->(tgt)`,
		map[string]any{
			"userId":      userID,
			"sourceId":    rel.SourceID,
			"targetId":    rel.TargetID,
			"type":        rel.Type,
			"description": rel.Description,
			"metadata":    metadataParam(rel.Metadata),
			"now":         isoNow(),
		})
	if err != nil {
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

// VectorSearch is the tier-2 semantic match over entity descriptions.
func (s *EntityStore) VectorSearch(ctx context.Context, userID string, vec []float32, k int) ([]domain.EntityWithScore, error) {
	if err := s.g.EnsureVectorIndexes(ctx); err != nil {
		return nil, err
	}
	rows, err := s.g.Read(ctx, `CALL vector_search.search('`+EntityVectorIndex+`', $k, $vec)
YIELD node, similarity
MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(node)
WITH node AS e, similarity
RETURN `+entityReturn+`, similarity
ORDER BY similarity DESC`,
		map[string]any{"userId": userID, "k": k, "vec": vecParam(vec)})
	if err != nil {
		return nil, fmt.Errorf("entity vector search: %w", err)
	}
	out := make([]domain.EntityWithScore, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.EntityWithScore{
			Entity: entityFromRow(row),
			Score:  rowFloat(row, "similarity"),
		})
	}
	return out, nil
}

func (s *EntityStore) SearchSubstring(ctx context.Context, userID, query string, limit int) ([]domain.Entity, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity)
WHERE toLower(e.name) CONTAINS toLower($query)
RETURN `+entityReturn+`
LIMIT $limit`,
		map[string]any{"userId": userID, "query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("entity substring search: %w", err)
	}
	out := make([]domain.Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, entityFromRow(row))
	}
	return out, nil
}

// RelationshipsFor fetches RELATED_TO edges touching any of entityIDs in one
// UNWIND over both directions, keyed by the entity id they were fetched for.
func (s *EntityStore) RelationshipsFor(ctx context.Context, userID string, entityIDs []string) (map[string][]domain.EntityRelationship, error) {
	if len(entityIDs) == 0 {
		return map[string][]domain.EntityRelationship{}, nil
	}
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})
UNWIND $ids AS entityId
MATCH (u)-[:HAS_ENTITY]->(e:Entity {id: entityId})
MATCH (e)-[r:RELATED_TO]-(other:Entity)
RETURN entityId,
       startNode(r).id AS sourceId, startNode(r).name AS sourceName,
       endNode(r).id AS targetId, endNode(r).name AS targetName,
       r.type AS type, r.description AS description, r.metadata AS metadata, r.at AS at`,
		map[string]any{"userId": userID, "ids": entityIDs})
	if err != nil {
		return nil, fmt.Errorf("fetch relationships: %w", err)
	}
	out := make(map[string][]domain.EntityRelationship, len(entityIDs))
	for _, row := range rows {
		key := rowString(row, "entityId")
		out[key] = append(out[key], domain.EntityRelationship{
			SourceID:    rowString(row, "sourceId"),
			SourceName:  rowString(row, "sourceName"),
			TargetID:    rowString(row, "targetId"),
			TargetName:  rowString(row, "targetName"),
			Type:        rowString(row, "type"),
			Description: rowString(row, "description"),
			Metadata:    metadataFromRow(row["metadata"]),
			At:          rowTime(row, "at"),
		})
	}
	return out, nil
}

// Delete resolves idOrName — a valid HEX32 id takes precedence, then
// case-insensitive name — counts its edges and removes the entity node.
// Mentioning memories are left intact.
func (s *EntityStore) Delete(ctx context.Context, userID, idOrName string) (*domain.EntityDeletion, error) {
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity)
WHERE ($byId AND e.id = $idOrName) OR (NOT $byId AND toLower(e.name) = toLower($idOrName))
WITH e LIMIT 1
OPTIONAL MATCH (m:Memory)-[men:MENTIONS]->(e)
OPTIONAL MATCH (e)-[r:RELATED_TO]-(:Entity)
WITH e, count(DISTINCT men) AS mentions, count(DISTINCT r) AS rels, e.name AS name
DETACH DELETE e
RETURN name, mentions, rels`,
		map[string]any{
			"userId":   userID,
			"idOrName": idOrName,
			"byId":     identity.Validate(idOrName),
		})
	if err != nil {
		return nil, fmt.Errorf("delete entity: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &domain.EntityDeletion{
		Name:          rowString(rows[0], "name"),
		Mentions:      rowInt(rows[0], "mentions"),
		Relationships: rowInt(rows[0], "rels"),
	}, nil
}

func entityFromRow(row domain.Row) domain.Entity {
	return domain.Entity{
		ID:             rowString(row, "id"),
		Name:           rowString(row, "name"),
		NormalizedName: rowString(row, "normalizedName"),
		Type:           rowString(row, "type"),
		Description:    rowString(row, "description"),
		Metadata:       metadataFromRow(row["metadata"]),
		UserID:         rowString(row, "userId"),
		Summary:        rowString(row, "summary"),
	}
}
