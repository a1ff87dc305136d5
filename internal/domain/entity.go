package domain

import (
	"strings"
	"time"
)

// Entity is a named thing extracted from memories. At most one entity exists
// per (userId, normalizedName).
type Entity struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	NormalizedName       string         `json:"normalized_name"`
	Type                 string         `json:"type"`
	Description          string         `json:"description,omitempty"`
	DescriptionEmbedding []float32      `json:"-"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	UserID               string         `json:"user_id"`
	Summary              string         `json:"summary,omitempty"`
	MentionCount         int            `json:"mention_count,omitempty"`
}

// NormalizeEntityName computes the uniqueness key for an entity name.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EntityRelationship is a typed RELATED_TO edge between two entities.
type EntityRelationship struct {
	SourceID    string         `json:"source_id"`
	SourceName  string         `json:"source_name,omitempty"`
	TargetID    string         `json:"target_id"`
	TargetName  string         `json:"target_name,omitempty"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	At          time.Time      `json:"at"`
}

// ExtractedEntity is one entity as returned by the extraction LLM call,
// before resolution against the stored graph.
type ExtractedEntity struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExtractedRelationship is one relationship as returned by the extraction
// LLM call. Source and Target are entity names, resolved to ids later.
type ExtractedRelationship struct {
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExtractionResult is the full payload of one extraction LLM call.
type ExtractionResult struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// CommunityMember is one memory assigned to a raw detected community.
type CommunityMember struct {
	MemoryID string `json:"memory_id"`
	Content  string `json:"content"`
}

// Community is a detected cluster of related memories. Level 0 communities
// hold memories directly; level 1 subclusters split a level 0 community by
// shared content prefix.
type Community struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Summary     string    `json:"summary,omitempty"`
	Level       int       `json:"level"`
	ParentID    string    `json:"parent_id,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
