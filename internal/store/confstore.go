package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// configTTL bounds how stale a cached config read may be. Writes invalidate
// immediately in this replica; other replicas converge within the TTL.
const configTTL = 30 * time.Second

// ConfigStore reads and writes :Config nodes with a per-replica TTL cache in
// front of the graph store.
type ConfigStore struct {
	g     *Gateway
	cache *ristretto.Cache[string, string]
}

func NewConfigStore(g *Gateway) (*ConfigStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("build config cache: %w", err)
	}
	return &ConfigStore{g: g, cache: cache}, nil
}

// Get returns the JSON value for key. The boolean reports presence.
func (s *ConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, v != "", nil
	}

	rows, err := s.g.Read(ctx,
		`MATCH (c:Config {key: $key}) RETURN c.value AS value`,
		map[string]any{"key": key})
	if err != nil {
		return "", false, fmt.Errorf("read config %s: %w", key, err)
	}
	value := ""
	if len(rows) > 0 {
		value = rowString(rows[0], "value")
	}
	// Absent keys are cached too, as the empty string, so a hot missing key
	// does not hammer the store.
	s.cache.SetWithTTL(key, value, 1, configTTL)
	return value, value != "", nil
}

// Set upserts the value and invalidates the cached entry.
func (s *ConfigStore) Set(ctx context.Context, key, value string) error {
	_, err := s.g.Write(ctx,
		`MERGE (c:Config {key: $key}) SET c.value = $value`,
		map[string]any{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("write config %s: %w", key, err)
	}
	s.cache.Del(key)
	return nil
}

// Close releases the cache resources.
func (s *ConfigStore) Close() {
	s.cache.Close()
}
