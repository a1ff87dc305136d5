package store

import (
	"context"
	"fmt"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/identity"
)

// HistoryStore is the append-only audit log of memory mutations.
type HistoryStore struct {
	g *Gateway
}

func NewHistoryStore(g *Gateway) *HistoryStore {
	return &HistoryStore{g: g}
}

func (s *HistoryStore) Append(ctx context.Context, h *domain.MemoryHistory) error {
	if h.ID == "" {
		h.ID = identity.GenerateID()
	}
	_, err := s.g.Write(ctx, `CREATE (:MemoryHistory {id: $id, memoryId: $memoryId,
        previousValue: $previousValue, newValue: $newValue,
        action: $action, createdAt: $now})`,
		map[string]any{
			"id":            h.ID,
			"memoryId":      h.MemoryID,
			"previousValue": h.PreviousValue,
			"newValue":      h.NewValue,
			"action":        string(h.Action),
			"now":           isoNow(),
		})
	if err != nil {
		return fmt.Errorf("append memory history: %w", err)
	}
	return nil
}

func (s *HistoryStore) ListByMemory(ctx context.Context, memoryID string) ([]domain.MemoryHistory, error) {
	rows, err := s.g.Read(ctx, `MATCH (h:MemoryHistory {memoryId: $memoryId})
RETURN h.id AS id, h.memoryId AS memoryId, h.previousValue AS previousValue,
       h.newValue AS newValue, h.action AS action, h.createdAt AS createdAt
ORDER BY h.createdAt`,
		map[string]any{"memoryId": memoryID})
	if err != nil {
		return nil, fmt.Errorf("list memory history: %w", err)
	}
	out := make([]domain.MemoryHistory, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.MemoryHistory{
			ID:            rowString(row, "id"),
			MemoryID:      rowString(row, "memoryId"),
			PreviousValue: rowString(row, "previousValue"),
			NewValue:      rowString(row, "newValue"),
			Action:        domain.HistoryAction(rowString(row, "action")),
			CreatedAt:     rowTime(row, "createdAt"),
		})
	}
	return out, nil
}
