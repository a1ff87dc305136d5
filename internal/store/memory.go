package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/identity"
)

// memoryReturn is the conventional projection for memory reads.
const memoryReturn = `m.id AS id, m.content AS content, m.state AS state,
       m.metadata AS metadata, m.tags AS tags, m.validAt AS validAt,
       m.invalidAt AS invalidAt, m.createdAt AS createdAt, m.updatedAt AS updatedAt,
       m.extractionStatus AS extractionStatus, m.extractionAttempts AS extractionAttempts`

// MemoryStore persists Memory nodes. Every query traverses the
// User-[:HAS_MEMORY]->Memory path; a bare id lookup would cross user
// namespaces and is deliberately absent.
type MemoryStore struct {
	g *Gateway
}

func NewMemoryStore(g *Gateway) *MemoryStore {
	return &MemoryStore{g: g}
}

// UserNodeID derives the deterministic node id for a caller-supplied userId.
func UserNodeID(userID string) string {
	return identity.GenerateIDFromString("user:" + userID)
}

// AppNodeID derives the deterministic node id for an (user, appName) pair.
func AppNodeID(userID, appName string) string {
	return identity.GenerateIDFromString("app:" + userID + ":" + appName)
}

func (s *MemoryStore) Create(ctx context.Context, userID string, m *domain.Memory, appName string) error {
	now := isoNow()
	if m.ID == "" {
		m.ID = identity.GenerateID()
	}
	params := map[string]any{
		"userId":     userID,
		"userNodeId": UserNodeID(userID),
		"id":         m.ID,
		"content":    m.Content,
		"embedding":  vecParam(m.Embedding),
		"metadata":   metadataParam(m.Metadata),
		"tags":       tagsParam(m.Tags),
		"now":        now,
	}

	cypher := `MERGE (u:User {userId: $userId})
ON CREATE SET u.id = $userNodeId, u.createdAt = $now
CREATE (m:Memory {id: $id, content: $content, embedding: $embedding,
        state: 'active', metadata: $metadata, tags: $tags,
        validAt: $now, invalidAt: null, createdAt: $now, updatedAt: $now,
        extractionStatus: 'pending', extractionAttempts: 0})
CREATE (u)-[:HAS_MEMORY]->(m)`

	if appName != "" {
		params["appName"] = appName
		params["appId"] = AppNodeID(userID, appName)
		cypher += `
MERGE (a:App {userId: $userId, appName: $appName})
ON CREATE SET a.id = $appId, a.isActive = true, a.createdAt = $now
CREATE (m)-[:CREATED_BY]->(a)`
	}
	cypher += `
RETURN m.id AS id, m.createdAt AS createdAt`

	rows, err := s.g.Write(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("create memory: no row returned")
	}
	m.State = domain.StateActive
	m.ValidAt = rowTime(rows[0], "createdAt")
	m.CreatedAt = m.ValidAt
	m.UpdatedAt = m.ValidAt
	m.ExtractionStatus = domain.ExtractionPending
	return nil
}

func (s *MemoryStore) BulkCreate(ctx context.Context, userID, appName string, mems []*domain.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	now := isoNow()

	// One MERGE round trip for the shared anchor nodes, then one UNWIND for
	// the whole batch. Keeping these separate avoids re-merging User/App per
	// row.
	_, err := s.g.Write(ctx, `MERGE (u:User {userId: $userId})
ON CREATE SET u.id = $userNodeId, u.createdAt = $now
MERGE (a:App {userId: $userId, appName: $appName})
ON CREATE SET a.id = $appId, a.isActive = true, a.createdAt = $now`,
		map[string]any{
			"userId":     userID,
			"userNodeId": UserNodeID(userID),
			"appName":    appName,
			"appId":      AppNodeID(userID, appName),
			"now":        now,
		})
	if err != nil {
		return fmt.Errorf("merge bulk anchors: %w", err)
	}

	batch := make([]map[string]any, 0, len(mems))
	for _, m := range mems {
		if m.ID == "" {
			m.ID = identity.GenerateID()
		}
		validAt := now
		if !m.ValidAt.IsZero() {
			validAt = isoTime(m.ValidAt)
		}
		batch = append(batch, map[string]any{
			"id":        m.ID,
			"content":   m.Content,
			"embedding": vecParam(m.Embedding),
			"metadata":  metadataParam(m.Metadata),
			"tags":      tagsParam(m.Tags),
			"validAt":   validAt,
		})
	}

	_, err = s.g.Write(ctx, `MATCH (u:User {userId: $userId})
MATCH (a:App {userId: $userId, appName: $appName})
UNWIND $memories AS mem
CREATE (m:Memory {id: mem.id, content: mem.content, embedding: mem.embedding,
        state: 'active', metadata: mem.metadata, tags: mem.tags,
        validAt: mem.validAt, invalidAt: null, createdAt: $now, updatedAt: $now,
        extractionStatus: 'pending', extractionAttempts: 0})
CREATE (u)-[:HAS_MEMORY]->(m)
CREATE (m)-[:CREATED_BY]->(a)`,
		map[string]any{
			"userId":   userID,
			"appName":  appName,
			"memories": batch,
			"now":      now,
		})
	if err != nil {
		return fmt.Errorf("bulk create memories: %w", err)
	}
	return nil
}

// Supersede atomically closes old and creates the replacement in a single
// statement, so concurrent supersedes of the same memory serialize in the
// store's transaction engine.
func (s *MemoryStore) Supersede(ctx context.Context, userID, oldID string, m *domain.Memory, appName string) (bool, error) {
	now := isoNow()
	if m.ID == "" {
		m.ID = identity.GenerateID()
	}
	params := map[string]any{
		"userId":       userID,
		"oldId":        oldID,
		"id":           m.ID,
		"content":      m.Content,
		"embedding":    vecParam(m.Embedding),
		"metadata":     metadataParam(m.Metadata),
		"tags":         tagsParam(m.Tags),
		"tagsProvided": m.Tags != nil,
		"now":          now,
	}

	cypher := `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(old:Memory {id: $oldId})
SET old.invalidAt = $now, old.updatedAt = $now
CREATE (new:Memory {id: $id, content: $content, embedding: $embedding,
        state: 'active', metadata: $metadata,
        tags: CASE WHEN $tagsProvided THEN $tags ELSE coalesce(old.tags, []) END,
        validAt: $now, invalidAt: null, createdAt: $now, updatedAt: $now,
        extractionStatus: 'pending', extractionAttempts: 0})
CREATE (u)-[:HAS_MEMORY]->(new)
CREATE (new)-[:SUPERSEDES {at: $now}]->(old)`

	if appName != "" {
		params["appName"] = appName
		params["appId"] = AppNodeID(userID, appName)
		cypher += `
MERGE (a:App {userId: $userId, appName: $appName})
ON CREATE SET a.id = $appId, a.isActive = true, a.createdAt = $now
CREATE (new)-[:CREATED_BY]->(a)`
	}
	cypher += `
RETURN new.id AS id, old.content AS oldContent, new.tags AS tags`

	rows, err := s.g.Write(ctx, cypher, params)
	if err != nil {
		return false, fmt.Errorf("supersede memory: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	m.State = domain.StateActive
	m.Tags = rowStrings(rows[0], "tags")
	t, _ := parseISO(now)
	m.ValidAt = t
	m.CreatedAt = t
	m.UpdatedAt = t
	return true, nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, userID, memoryID string) (bool, error) {
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
SET m.state = 'deleted', m.invalidAt = $now, m.deletedAt = $now, m.updatedAt = $now
RETURN m.id AS id`,
		map[string]any{"userId": userID, "id": memoryID, "now": isoNow()})
	if err != nil {
		return false, fmt.Errorf("soft delete memory: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *MemoryStore) BulkSoftDelete(ctx context.Context, userID string, memoryIDs []string) (int, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})
UNWIND $ids AS memId
MATCH (u)-[:HAS_MEMORY]->(m:Memory {id: memId})
SET m.state = 'deleted', m.invalidAt = $now, m.deletedAt = $now, m.updatedAt = $now
RETURN count(m) AS deleted`,
		map[string]any{"userId": userID, "ids": memoryIDs, "now": isoNow()})
	if err != nil {
		return 0, fmt.Errorf("bulk soft delete: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rowInt(rows[0], "deleted"), nil
}

// Archive closes the validity interval: archived memories disappear from
// current-time queries.
func (s *MemoryStore) Archive(ctx context.Context, userID, memoryID string) (bool, error) {
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
WHERE m.state = 'active'
SET m.state = 'archived', m.archivedAt = $now, m.invalidAt = $now, m.updatedAt = $now
RETURN m.id AS id`,
		map[string]any{"userId": userID, "id": memoryID, "now": isoNow()})
	if err != nil {
		return false, fmt.Errorf("archive memory: %w", err)
	}
	return len(rows) > 0, nil
}

// Pause keeps the memory valid but marks it paused.
func (s *MemoryStore) Pause(ctx context.Context, userID, memoryID string) (bool, error) {
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
WHERE m.state = 'active'
SET m.state = 'paused', m.updatedAt = $now
RETURN m.id AS id`,
		map[string]any{"userId": userID, "id": memoryID, "now": isoNow()})
	if err != nil {
		return false, fmt.Errorf("pause memory: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *MemoryStore) Touch(ctx context.Context, userID, memoryID string) (bool, error) {
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
SET m.updatedAt = $now
RETURN m.id AS id`,
		map[string]any{"userId": userID, "id": memoryID, "now": isoNow()})
	if err != nil {
		return false, fmt.Errorf("touch memory: %w", err)
	}
	return len(rows) > 0, nil
}

// UpdateContent is the deprecated in-place mutation kept for back-compat.
func (s *MemoryStore) UpdateContent(ctx context.Context, userID, memoryID, content string, embedding []float32) (bool, error) {
	rows, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
SET m.content = $content, m.embedding = $embedding, m.updatedAt = $now
RETURN m.id AS id`,
		map[string]any{
			"userId": userID, "id": memoryID,
			"content": content, "embedding": vecParam(embedding), "now": isoNow(),
		})
	if err != nil {
		return false, fmt.Errorf("update memory content: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, userID, memoryID string) (*domain.Memory, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
OPTIONAL MATCH (m)-[:HAS_CATEGORY]->(c:Category)
OPTIONAL MATCH (m)-[:CREATED_BY]->(a:App)
OPTIONAL MATCH (newer:Memory)-[:SUPERSEDES]->(m)
RETURN `+memoryReturn+`,
       collect(DISTINCT c.name) AS categories, a.appName AS appName, newer.id AS supersededBy`,
		map[string]any{"userId": userID, "id": memoryID})
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	m := memoryFromRow(rows[0])
	return &m, nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, opts domain.ListOptions) ([]domain.Memory, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Size <= 0 {
		opts.Size = 10
	}

	var conds []string
	params := map[string]any{"userId": userID}

	conds = append(conds, "m.state <> 'deleted'")
	if opts.AsOf != nil {
		conds = append(conds, "m.validAt <= $asOf AND (m.invalidAt IS NULL OR m.invalidAt > $asOf)")
		params["asOf"] = isoTime(*opts.AsOf)
	} else if !opts.IncludeSuperseded {
		conds = append(conds, "m.invalidAt IS NULL")
	}
	if opts.AppID != "" {
		conds = append(conds, "EXISTS ((m)-[:CREATED_BY]->(:App {id: $appId}))")
		params["appId"] = opts.AppID
	}
	if len(opts.Categories) > 0 {
		conds = append(conds, "EXISTS { MATCH (m)-[:HAS_CATEGORY]->(cat:Category) WHERE toLower(cat.name) IN $categories }")
		lowered := make([]string, len(opts.Categories))
		for i, c := range opts.Categories {
			lowered[i] = strings.ToLower(c)
		}
		params["categories"] = lowered
	}
	where := "WHERE " + strings.Join(conds, " AND ")

	countRows, err := s.g.Read(ctx,
		`MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory) `+where+` RETURN count(m) AS total`,
		params)
	if err != nil {
		return nil, 0, fmt.Errorf("count memories: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total = rowInt(countRows[0], "total")
	}

	params["skip"] = (opts.Page - 1) * opts.Size
	params["limit"] = opts.Size
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory) `+where+`
OPTIONAL MATCH (m)-[:HAS_CATEGORY]->(c:Category)
OPTIONAL MATCH (m)-[:CREATED_BY]->(a:App)
RETURN `+memoryReturn+`, collect(DISTINCT c.name) AS categories, a.appName AS appName
ORDER BY m.createdAt DESC
SKIP $skip LIMIT $limit`, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list memories: %w", err)
	}

	mems := make([]domain.Memory, 0, len(rows))
	for _, row := range rows {
		mems = append(mems, memoryFromRow(row))
	}
	return mems, total, nil
}

// Recent returns the n most recent current memories, newest first.
func (s *MemoryStore) Recent(ctx context.Context, userID string, n int) ([]domain.Memory, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
RETURN `+memoryReturn+`
ORDER BY m.createdAt DESC
LIMIT $limit`,
		map[string]any{"userId": userID, "limit": n})
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	mems := make([]domain.Memory, 0, len(rows))
	for _, row := range rows {
		mems = append(mems, memoryFromRow(row))
	}
	return mems, nil
}

func (s *MemoryStore) ListIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
WHERE m.state <> 'deleted'
RETURN m.id AS id`,
		map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list memory ids: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, rowString(row, "id"))
	}
	return ids, nil
}

// Owner resolves the user that owns a memory. Used only by the extraction
// worker, which receives a bare memory id.
func (s *MemoryStore) Owner(ctx context.Context, memoryID string) (string, error) {
	rows, err := s.g.Read(ctx,
		`MATCH (u:User)-[:HAS_MEMORY]->(m:Memory {id: $id}) RETURN u.userId AS userId`,
		map[string]any{"id": memoryID})
	if err != nil {
		return "", fmt.Errorf("resolve memory owner: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	return rowString(rows[0], "userId"), nil
}

// VectorSearch runs ANN over the user's current memories, best first.
func (s *MemoryStore) VectorSearch(ctx context.Context, userID string, vec []float32, k int) ([]domain.MemoryWithScore, error) {
	if err := s.g.EnsureVectorIndexes(ctx); err != nil {
		return nil, err
	}
	rows, err := s.g.Read(ctx, `CALL vector_search.search('`+MemoryVectorIndex+`', $k, $vec)
YIELD node, similarity
MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(node)
WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
WITH node AS m, similarity
OPTIONAL MATCH (m)-[:CREATED_BY]->(a:App)
RETURN `+memoryReturn+`, a.appName AS appName, similarity
ORDER BY similarity DESC`,
		map[string]any{"userId": userID, "k": k, "vec": vecParam(vec)})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]domain.MemoryWithScore, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.MemoryWithScore{
			Memory: memoryFromRow(row),
			Score:  rowFloat(row, "similarity"),
		})
	}
	return out, nil
}

// TextSearch runs the full-text arm over the user's current memories. Rank is
// the 1-based position in the returned slice.
func (s *MemoryStore) TextSearch(ctx context.Context, userID, query string, limit int) ([]domain.Memory, error) {
	rows, err := s.g.Read(ctx, `CALL text_search.search_all('`+TextIndexName+`', $query)
YIELD node
MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(node)
WHERE node.invalidAt IS NULL AND node.state <> 'deleted'
WITH node AS m
OPTIONAL MATCH (m)-[:CREATED_BY]->(a:App)
RETURN `+memoryReturn+`, a.appName AS appName
LIMIT $limit`,
		map[string]any{"userId": userID, "query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	mems := make([]domain.Memory, 0, len(rows))
	for _, row := range rows {
		mems = append(mems, memoryFromRow(row))
	}
	return mems, nil
}

func (s *MemoryStore) AttachCategories(ctx context.Context, userID, memoryID string, categories []string) error {
	if len(categories) == 0 {
		return nil
	}
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
UNWIND $categories AS name
MERGE (c:Category {name: name})
MERGE (m)-[:HAS_CATEGORY]->(c)`,
		map[string]any{"userId": userID, "id": memoryID, "categories": categories})
	if err != nil {
		return fmt.Errorf("attach categories: %w", err)
	}
	return nil
}

func (s *MemoryStore) ListCategories(ctx context.Context, userID string) ([]domain.CategoryCount, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)-[:HAS_CATEGORY]->(c:Category)
WHERE m.invalidAt IS NULL AND m.state <> 'deleted'
RETURN c.name AS name, count(DISTINCT m) AS total
ORDER BY total DESC, name`,
		map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]domain.CategoryCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.CategoryCount{Name: rowString(row, "name"), Count: rowInt(row, "total")})
	}
	return out, nil
}

func (s *MemoryStore) ListTags(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
WHERE m.invalidAt IS NULL AND m.state <> 'deleted' AND m.tags IS NOT NULL
UNWIND m.tags AS tag
RETURN DISTINCT tag ORDER BY tag`,
		map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]string, 0, len(rows))
	for _, row := range rows {
		if t := rowString(row, "tag"); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}

func (s *MemoryStore) ExtractionState(ctx context.Context, userID, memoryID string) (domain.ExtractionStatus, string, error) {
	rows, err := s.g.Read(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
RETURN m.extractionStatus AS status, m.content AS content`,
		map[string]any{"userId": userID, "id": memoryID})
	if err != nil {
		return "", "", fmt.Errorf("read extraction state: %w", err)
	}
	if len(rows) == 0 {
		return "", "", ErrNotFound
	}
	return domain.ExtractionStatus(rowString(rows[0], "status")), rowString(rows[0], "content"), nil
}

func (s *MemoryStore) SetExtractionStatus(ctx context.Context, userID, memoryID string, status domain.ExtractionStatus, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := s.g.Write(ctx, `MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
SET m.extractionStatus = $status,
    m.extractionError = CASE WHEN $error = '' THEN null ELSE $error END,
    m.extractionAttempts = coalesce(m.extractionAttempts, 0) +
        CASE WHEN $status = 'failed' THEN 1 ELSE 0 END`,
		map[string]any{"userId": userID, "id": memoryID, "status": string(status), "error": errMsg})
	if err != nil {
		return fmt.Errorf("set extraction status: %w", err)
	}
	return nil
}

func tagsParam(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
