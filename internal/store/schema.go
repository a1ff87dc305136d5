package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TextIndexName is the full-text index over :Memory used by the lexical
// search arm.
const TextIndexName = "memory_content"

// InitSchema applies the idempotent DDL on boot: uniqueness constraints,
// scalar indexes, the full-text index and both vector indexes. Statements
// that fail because the object already exists are skipped.
func InitSchema(ctx context.Context, g *Gateway, logger *zap.Logger) error {
	statements := []string{
		`CREATE CONSTRAINT ON (u:User) ASSERT u.userId IS UNIQUE`,
		`CREATE CONSTRAINT ON (m:Memory) ASSERT m.id IS UNIQUE`,
		`CREATE CONSTRAINT ON (a:App) ASSERT a.id IS UNIQUE`,
		`CREATE CONSTRAINT ON (e:Entity) ASSERT e.id IS UNIQUE`,
		`CREATE CONSTRAINT ON (c:Community) ASSERT c.id IS UNIQUE`,

		`CREATE INDEX ON :Memory(validAt)`,
		`CREATE INDEX ON :Memory(invalidAt)`,
		`CREATE INDEX ON :Entity(name)`,
		`CREATE INDEX ON :Entity(type)`,
		`CREATE INDEX ON :Entity(normalizedName)`,
		`CREATE INDEX ON :Entity(userId)`,
		`CREATE INDEX ON :MemoryHistory(memoryId)`,

		fmt.Sprintf(`CREATE TEXT INDEX %s ON :Memory`, TextIndexName),
	}

	for _, stmt := range statements {
		if _, err := g.Write(ctx, stmt, nil); err != nil {
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("apply schema statement %q: %w", stmt, err)
		}
	}

	if err := g.EnsureVectorIndexes(ctx); err != nil {
		return err
	}

	logger.Info("schema initialized")
	return nil
}
