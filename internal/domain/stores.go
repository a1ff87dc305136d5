package domain

import (
	"context"
	"time"
)

// Row is one result row of a graph query, keyed by return alias.
type Row = map[string]any

// QueryStep is one (cypher, params) pair inside an explicit transaction.
type QueryStep struct {
	Cypher string
	Params map[string]any
}

// GraphStore is the gateway to the graph+vector database. All persistence
// goes through it; implementations retry transient failures.
type GraphStore interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
	Write(ctx context.Context, cypher string, params map[string]any) ([]Row, error)
	// Transaction runs the steps in order inside one write transaction,
	// committing on success and rolling back on the first error.
	Transaction(ctx context.Context, steps []QueryStep) ([][]Row, error)
	// EnsureVectorIndexes lazily verifies the vector indexes once per process
	// lifecycle, re-creating any that are missing.
	EnsureVectorIndexes(ctx context.Context) error
}

// EmbeddingHealth is the result of an embedding provider health probe.
type EmbeddingHealth struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model"`
	Dim       int    `json:"dim"`
	Error     string `json:"error,omitempty"`
}

// EmbeddingClient turns text into fixed-dimension vectors.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in order; result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	HealthCheck(ctx context.Context) *EmbeddingHealth
}

// CompletionRequest is one chat completion call. Classification callers set
// Temperature 0 and JSONMode.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// LLMClient is the chat completion provider.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// MemoryWithScore pairs a memory with its cosine similarity to a query vector.
type MemoryWithScore struct {
	Memory
	Score float64 `json:"score"`
}

// EntityWithScore pairs an entity with its cosine similarity to a query vector.
type EntityWithScore struct {
	Entity
	Score float64 `json:"score"`
}

// ListOptions filter and paginate a bi-temporal memory listing.
type ListOptions struct {
	AppID             string
	Categories        []string
	Page              int
	Size              int
	IncludeSuperseded bool
	AsOf              *time.Time
}

// CategoryCount is one category with the number of current memories in it.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// MemoryStore persists Memory nodes and their edges. Every operation is
// anchored on the owning user; an id that exists under another user behaves
// as not found.
type MemoryStore interface {
	Create(ctx context.Context, userID string, m *Memory, appName string) error
	BulkCreate(ctx context.Context, userID, appName string, mems []*Memory) error
	// Supersede atomically closes old and creates m linked by SUPERSEDES.
	Supersede(ctx context.Context, userID, oldID string, m *Memory, appName string) (bool, error)
	SoftDelete(ctx context.Context, userID, memoryID string) (bool, error)
	BulkSoftDelete(ctx context.Context, userID string, memoryIDs []string) (int, error)
	Archive(ctx context.Context, userID, memoryID string) (bool, error)
	Pause(ctx context.Context, userID, memoryID string) (bool, error)
	Touch(ctx context.Context, userID, memoryID string) (bool, error)
	UpdateContent(ctx context.Context, userID, memoryID, content string, embedding []float32) (bool, error)

	GetByID(ctx context.Context, userID, memoryID string) (*Memory, error)
	List(ctx context.Context, userID string, opts ListOptions) ([]Memory, int, error)
	Recent(ctx context.Context, userID string, n int) ([]Memory, error)
	ListIDs(ctx context.Context, userID string) ([]string, error)
	Owner(ctx context.Context, memoryID string) (string, error)

	VectorSearch(ctx context.Context, userID string, vec []float32, k int) ([]MemoryWithScore, error)
	TextSearch(ctx context.Context, userID, query string, limit int) ([]Memory, error)

	AttachCategories(ctx context.Context, userID, memoryID string, categories []string) error
	ListCategories(ctx context.Context, userID string) ([]CategoryCount, error)
	ListTags(ctx context.Context, userID string) ([]string, error)

	ExtractionState(ctx context.Context, userID, memoryID string) (ExtractionStatus, string, error)
	SetExtractionStatus(ctx context.Context, userID, memoryID string, status ExtractionStatus, errMsg string) error
}

// HistoryStore is the append-only audit log.
type HistoryStore interface {
	Append(ctx context.Context, h *MemoryHistory) error
	ListByMemory(ctx context.Context, memoryID string) ([]MemoryHistory, error)
}

// EntityDeletion summarizes a DELETE_ENTITY outcome.
type EntityDeletion struct {
	Name          string `json:"name"`
	Mentions      int    `json:"mentions"`
	Relationships int    `json:"relationships"`
}

// EntityStore persists Entity nodes, MENTIONS edges and RELATED_TO edges.
type EntityStore interface {
	Create(ctx context.Context, userID string, e *Entity) error
	GetByID(ctx context.Context, userID, entityID string) (*Entity, error)
	GetByNormalizedName(ctx context.Context, userID, normalizedName string) (*Entity, error)
	// LookupByNormalizedNames is the tier-1 batch cache: one round trip
	// mapping normalizedName to existing entity id.
	LookupByNormalizedNames(ctx context.Context, userID string, names []string) (map[string]string, error)
	Update(ctx context.Context, userID, entityID string, typ, description string, descEmbedding []float32, metadata map[string]any) error
	SetDescription(ctx context.Context, userID, entityID, description string, descEmbedding []float32) error
	MergeMetadata(ctx context.Context, userID, entityID string, metadata map[string]any) error
	SetSummary(ctx context.Context, userID, entityID, summary string) error

	LinkMention(ctx context.Context, userID, memoryID, entityID string) error
	MentionCount(ctx context.Context, userID, entityID string) (int, error)
	MentioningMemories(ctx context.Context, userID, entityID string, limit int) ([]Memory, error)

	GetRelationship(ctx context.Context, userID, sourceID, targetID, relType string) (*EntityRelationship, error)
	CreateRelationship(ctx context.Context, userID string, rel *EntityRelationship) error

	VectorSearch(ctx context.Context, userID string, vec []float32, k int) ([]EntityWithScore, error)
	SearchSubstring(ctx context.Context, userID, query string, limit int) ([]Entity, error)
	RelationshipsFor(ctx context.Context, userID string, entityIDs []string) (map[string][]EntityRelationship, error)

	// Delete resolves idOrName (id takes precedence, then case-insensitive
	// name), detaches and removes the entity. Memories stay intact.
	Delete(ctx context.Context, userID, idOrName string) (*EntityDeletion, error)
}

// AppStore persists App nodes and ACCESSED edges.
type AppStore interface {
	List(ctx context.Context, userID, name string, active *bool) ([]App, error)
	Get(ctx context.Context, userID, appID string) (*App, error)
	SetActive(ctx context.Context, userID, appID string, active bool) (bool, error)
	IsActive(ctx context.Context, userID, appName string) (bool, error)
	LogAccess(ctx context.Context, userID, appName string, memoryIDs []string, query string) error
}

// CommunityStore persists Community nodes and membership edges.
type CommunityStore interface {
	Replace(ctx context.Context, userID string, communities []Community, members map[string][]string) error
	List(ctx context.Context, userID string) ([]Community, error)
	// DetectCommunities maps the user's current memories to raw community
	// ids via the store's detection procedure.
	DetectCommunities(ctx context.Context, userID string) (map[int64][]CommunityMember, error)
}

// ConfigStore reads and writes process-wide configuration records. Reads are
// TTL-cached; Set invalidates.
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
