package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/memforge-ai/memforge/internal/domain"
)

// AppStore persists App nodes and the ACCESSED edges written by search.
type AppStore struct {
	g *Gateway
}

func NewAppStore(g *Gateway) *AppStore {
	return &AppStore{g: g}
}

func (s *AppStore) List(ctx context.Context, userID, name string, active *bool) ([]domain.App, error) {
	var conds []string
	params := map[string]any{"userId": userID}
	if name != "" {
		conds = append(conds, "toLower(a.appName) CONTAINS toLower($name)")
		params["name"] = name
	}
	if active != nil {
		conds = append(conds, "a.isActive = $active")
		params["active"] = *active
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.g.Read(ctx, `MATCH (a:App {userId: $userId}) `+where+`
OPTIONAL MATCH (m:Memory)-[:CREATED_BY]->(a)
WHERE m.state <> 'deleted'
RETURN a.id AS id, a.appName AS appName, a.isActive AS isActive,
       a.createdAt AS createdAt, count(m) AS memoryCount
ORDER BY a.createdAt`,
		params)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	out := make([]domain.App, 0, len(rows))
	for _, row := range rows {
		out = append(out, appFromRow(row))
	}
	return out, nil
}

func (s *AppStore) Get(ctx context.Context, userID, appID string) (*domain.App, error) {
	rows, err := s.g.Read(ctx, `MATCH (a:App {userId: $userId, id: $appId})
OPTIONAL MATCH (m:Memory)-[:CREATED_BY]->(a)
WHERE m.state <> 'deleted'
RETURN a.id AS id, a.appName AS appName, a.isActive AS isActive,
       a.createdAt AS createdAt, count(m) AS memoryCount`,
		map[string]any{"userId": userID, "appId": appID})
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	app := appFromRow(rows[0])
	return &app, nil
}

func (s *AppStore) SetActive(ctx context.Context, userID, appID string, active bool) (bool, error) {
	rows, err := s.g.Write(ctx,
		`MATCH (a:App {userId: $userId, id: $appId}) SET a.isActive = $active RETURN a.id AS id`,
		map[string]any{"userId": userID, "appId": appID, "active": active})
	if err != nil {
		return false, fmt.Errorf("set app active: %w", err)
	}
	return len(rows) > 0, nil
}

// IsActive reports whether writes attributed to appName are allowed. Unknown
// apps are active: the node is created on first write.
func (s *AppStore) IsActive(ctx context.Context, userID, appName string) (bool, error) {
	rows, err := s.g.Read(ctx,
		`MATCH (a:App {userId: $userId, appName: $appName}) RETURN a.isActive AS isActive`,
		map[string]any{"userId": userID, "appName": appName})
	if err != nil {
		return false, fmt.Errorf("check app active: %w", err)
	}
	if len(rows) == 0 {
		return true, nil
	}
	return rowBool(rows[0], "isActive"), nil
}

// LogAccess MERGEs one ACCESSED edge per surviving search result, bumping
// accessCount on re-access.
func (s *AppStore) LogAccess(ctx context.Context, userID, appName string, memoryIDs []string, query string) error {
	if appName == "" || len(memoryIDs) == 0 {
		return nil
	}
	_, err := s.g.Write(ctx, `MERGE (a:App {userId: $userId, appName: $appName})
ON CREATE SET a.id = $appId, a.isActive = true, a.createdAt = $now
WITH a
MATCH (u:User {userId: $userId})
UNWIND $ids AS memId
MATCH (u)-[:HAS_MEMORY]->(m:Memory {id: memId})
MERGE (a)-[acc:ACCESSED]->(m)
ON CREATE SET acc.accessCount = 1, acc.accessedAt = $now, acc.queryUsed = $query
ON MATCH SET acc.accessCount = coalesce(acc.accessCount, 0) + 1,
             acc.accessedAt = $now, acc.queryUsed = $query`,
		map[string]any{
			"userId":  userID,
			"appName": appName,
			"appId":   AppNodeID(userID, appName),
			"ids":     memoryIDs,
			"query":   query,
			"now":     isoNow(),
		})
	if err != nil {
		return fmt.Errorf("log access: %w", err)
	}
	return nil
}

func appFromRow(row domain.Row) domain.App {
	return domain.App{
		ID:          rowString(row, "id"),
		AppName:     rowString(row, "appName"),
		IsActive:    rowBool(row, "isActive"),
		CreatedAt:   rowTime(row, "createdAt"),
		MemoryCount: rowInt(row, "memoryCount"),
	}
}
