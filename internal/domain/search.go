package domain

import "time"

// SearchMode selects which arms of the hybrid search run.
type SearchMode string

const (
	SearchHybrid SearchMode = "hybrid"
	SearchText   SearchMode = "text"
	SearchVector SearchMode = "vector"
)

func ValidSearchMode(m string) bool {
	switch SearchMode(m) {
	case SearchHybrid, SearchText, SearchVector:
		return true
	}
	return false
}

// SearchResult is one fused hit. TextRank and VectorRank are 1-based and nil
// when the memory did not appear in that arm.
type SearchResult struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AppName    string    `json:"app_name,omitempty"`
	Categories []string  `json:"categories"`
	Tags       []string  `json:"tags"`
	TextRank   *int      `json:"text_rank"`
	VectorRank *int      `json:"vector_rank"`
	RRFScore   float64   `json:"rrf_score"`
}

// SearchRequest carries the inputs of one hybrid search.
type SearchRequest struct {
	Query  string
	UserID string
	TopK   int
	Mode   SearchMode

	// AppName attributes ACCESSED edges when set.
	AppName string
}

// SearchFilters are applied at the HTTP/MCP boundary after fusion.
type SearchFilters struct {
	Category     string
	CreatedAfter *time.Time
	Tag          string
}

// EntityMatch is one entity hit returned by entity search, with its
// relationships in both directions.
type EntityMatch struct {
	Entity
	Relationships []EntityRelationship `json:"relationships,omitempty"`
}
