// Package store implements persistence over the graph+vector database. The
// Gateway owns the one Bolt connection pool; every label-specific store goes
// through it and inherits its retry behaviour.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

const (
	maxAttempts    = 3
	initialBackoff = 300 * time.Millisecond

	acquisitionTimeout = 10 * time.Second

	// MemoryVectorIndex and EntityVectorIndex are the two ANN indexes the
	// gateway lazily verifies.
	MemoryVectorIndex = "memory_vectors"
	EntityVectorIndex = "entity_vectors"

	memoryVectorCapacity = 100000
	entityVectorCapacity = 10000
)

// transientMarkers are error-message fragments worth a retry. The first four
// are connection-class and additionally invalidate the pool.
var connectionMarkers = []string{
	"connection closed by server",
	"service unavailable",
	"econnrefused",
	"econnreset",
}

var transientMarkers = []string{
	"cannot resolve conflicting transactions",
	"tantivy error",
	"index writer was killed",
}

// Gateway owns a pooled Bolt connection to the graph store and exposes read,
// write and multi-step transactional execution with retry on transient
// failures.
type Gateway struct {
	logger   *zap.Logger
	uri      string
	username string
	password string
	poolSize int
	dim      int

	mu     sync.RWMutex
	driver neo4j.DriverWithContext

	vectorIndexesVerified atomic.Bool
}

// NewGateway dials the store at uri with a pool sized to the expected
// concurrency. dim is the embedding dimension used when re-creating vector
// indexes.
func NewGateway(ctx context.Context, uri, username, password string, poolSize, dim int, logger *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		logger:   logger,
		uri:      uri,
		username: username,
		password: password,
		poolSize: poolSize,
		dim:      dim,
	}
	driver, err := g.dial()
	if err != nil {
		return nil, fmt.Errorf("dial graph store: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify graph store connectivity: %w", err)
	}
	g.driver = driver
	return g, nil
}

func (g *Gateway) dial() (neo4j.DriverWithContext, error) {
	return neo4j.NewDriverWithContext(g.uri,
		neo4j.BasicAuth(g.username, g.password, ""),
		func(c *config.Config) {
			c.MaxConnectionPoolSize = g.poolSize
			c.ConnectionAcquisitionTimeout = acquisitionTimeout
		})
}

// Close shuts the pool down.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.driver == nil {
		return nil
	}
	err := g.driver.Close(ctx)
	g.driver = nil
	return err
}

func (g *Gateway) current() neo4j.DriverWithContext {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.driver
}

// invalidate drops the pool after a connection-class failure so the next call
// re-dials, and resets the vector-index guard so verification re-runs.
func (g *Gateway) invalidate(ctx context.Context, cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vectorIndexesVerified.Store(false)
	if g.driver != nil {
		_ = g.driver.Close(ctx)
	}
	driver, err := g.dial()
	if err != nil {
		g.driver = nil
		g.logger.Error("re-dial after connection failure failed", zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	g.driver = driver
	g.logger.Warn("connection pool invalidated and re-dialed", zap.NamedError("cause", cause))
}

var skipLimitRe = regexp.MustCompile(`(?i)\b(SKIP|LIMIT)\s+(\$\w+)`)

// rewriteSkipLimit wraps SKIP/LIMIT parameters in toInteger() so float-typed
// parameters coerce unambiguously.
func rewriteSkipLimit(cypher string) string {
	return skipLimitRe.ReplaceAllString(cypher, "$1 toInteger($2)")
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectionMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isTransient reports whether the error is worth retrying. Syntax and
// constraint errors are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if isConnectionError(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to maxAttempts times with exponential backoff on
// transient errors, invalidating the pool on connection-class failures.
func (g *Gateway) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if isConnectionError(err) {
			g.invalidate(ctx, err)
		}
		if attempt == maxAttempts-1 {
			break
		}
		backoff := initialBackoff << uint(attempt)
		g.logger.Warn("transient store error, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (g *Gateway) run(ctx context.Context, mode neo4j.AccessMode, cypher string, params map[string]any) ([]map[string]any, error) {
	driver := g.current()
	if driver == nil {
		return nil, errors.New("graph store connection closed by server")
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode})
	defer func() { _ = session.Close(ctx) }()

	result, err := session.Run(ctx, rewriteSkipLimit(cypher), params)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for result.Next(ctx) {
		rows = append(rows, result.Record().AsMap())
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Read executes a read query and returns all rows.
func (g *Gateway) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	err := g.withRetry(ctx, func() error {
		var runErr error
		rows, runErr = g.run(ctx, neo4j.AccessModeRead, cypher, params)
		return runErr
	})
	return rows, err
}

// Write executes a write query and returns all rows.
func (g *Gateway) Write(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	err := g.withRetry(ctx, func() error {
		var runErr error
		rows, runErr = g.run(ctx, neo4j.AccessModeWrite, cypher, params)
		return runErr
	})
	return rows, err
}

// Transaction executes the steps in order inside one explicit write
// transaction, committing on success and rolling back on the first error.
func (g *Gateway) Transaction(ctx context.Context, steps []domain.QueryStep) ([][]map[string]any, error) {
	var out [][]map[string]any
	err := g.withRetry(ctx, func() error {
		driver := g.current()
		if driver == nil {
			return errors.New("graph store connection closed by server")
		}
		session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		defer func() { _ = session.Close(ctx) }()

		res, txErr := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			all := make([][]map[string]any, 0, len(steps))
			for _, step := range steps {
				result, err := tx.Run(ctx, rewriteSkipLimit(step.Cypher), step.Params)
				if err != nil {
					return nil, err
				}
				var rows []map[string]any
				for result.Next(ctx) {
					rows = append(rows, result.Record().AsMap())
				}
				if err := result.Err(); err != nil {
					return nil, err
				}
				all = append(all, rows)
			}
			return all, nil
		})
		if txErr != nil {
			return txErr
		}
		out = res.([][]map[string]any)
		return nil
	})
	return out, err
}

// EnsureVectorIndexes verifies once per process lifecycle that both vector
// indexes exist, re-creating any missing one with the configured dimension
// and cosine metric. The guard resets when the pool is invalidated.
func (g *Gateway) EnsureVectorIndexes(ctx context.Context) error {
	if g.vectorIndexesVerified.Load() {
		return nil
	}

	rows, err := g.Read(ctx, "SHOW VECTOR INDEX INFO", nil)
	if err != nil {
		return fmt.Errorf("list vector indexes: %w", err)
	}
	present := map[string]bool{}
	for _, row := range rows {
		if name, ok := row["index_name"].(string); ok {
			present[name] = true
		}
	}

	wanted := []struct {
		name     string
		label    string
		property string
		capacity int
	}{
		{MemoryVectorIndex, "Memory", "embedding", memoryVectorCapacity},
		{EntityVectorIndex, "Entity", "descriptionEmbedding", entityVectorCapacity},
	}
	for _, idx := range wanted {
		if present[idx.name] {
			continue
		}
		ddl := fmt.Sprintf(
			`CREATE VECTOR INDEX %s ON :%s(%s) WITH CONFIG {"dimension": %d, "capacity": %d, "metric": "cos"}`,
			idx.name, idx.label, idx.property, g.dim, idx.capacity)
		if _, err := g.Write(ctx, ddl, nil); err != nil && !alreadyExists(err) {
			return fmt.Errorf("create vector index %s: %w", idx.name, err)
		}
		g.logger.Info("vector index created", zap.String("index", idx.name), zap.Int("dimension", g.dim))
	}

	g.vectorIndexesVerified.Store(true)
	return nil
}

func alreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}
