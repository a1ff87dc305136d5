package domain

import "time"

// MemoryState is the lifecycle state of a memory node.
type MemoryState string

const (
	StateActive   MemoryState = "active"
	StateArchived MemoryState = "archived"
	StatePaused   MemoryState = "paused"
	StateDeleted  MemoryState = "deleted"
)

func ValidMemoryState(s string) bool {
	switch MemoryState(s) {
	case StateActive, StateArchived, StatePaused, StateDeleted:
		return true
	}
	return false
}

// ExtractionStatus tracks the asynchronous entity-extraction lifecycle of a memory.
type ExtractionStatus string

const (
	ExtractionPending ExtractionStatus = "pending"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Memory is a bi-temporal fact owned by exactly one user. A memory is current
// while InvalidAt is nil; supersession, archival and soft deletion all close
// the validity interval.
type Memory struct {
	ID                 string           `json:"id"`
	Content            string           `json:"content"`
	Embedding          []float32        `json:"-"`
	State              MemoryState      `json:"state"`
	Metadata           map[string]any   `json:"metadata,omitempty"`
	Tags               []string         `json:"tags"`
	ValidAt            time.Time        `json:"valid_at"`
	InvalidAt          *time.Time       `json:"invalid_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	ExtractionStatus   ExtractionStatus `json:"extraction_status,omitempty"`
	ExtractionAttempts int              `json:"extraction_attempts,omitempty"`

	// Populated by reads that join neighbouring nodes.
	AppName      string   `json:"app_name,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	SupersededBy string   `json:"superseded_by,omitempty"`
}

// IsCurrent reports whether the memory is currently valid.
func (m *Memory) IsCurrent() bool {
	return m.InvalidAt == nil
}

// User anchors a namespace. Created on first mention, never destroyed.
type User struct {
	UserID    string    `json:"user_id"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// App identifies the client application that created or accessed a memory.
// One App node per (user, appName).
type App struct {
	ID          string    `json:"id"`
	AppName     string    `json:"app_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	MemoryCount int       `json:"memory_count,omitempty"`
}

// HistoryAction labels an audit-log entry.
type HistoryAction string

const (
	HistoryAdd       HistoryAction = "ADD"
	HistorySupersede HistoryAction = "SUPERSEDE"
	HistoryDelete    HistoryAction = "DELETE"
	HistoryArchive   HistoryAction = "ARCHIVE"
	HistoryPause     HistoryAction = "PAUSE"
)

// MemoryHistory is an append-only audit record of a memory mutation.
type MemoryHistory struct {
	ID            string        `json:"id"`
	MemoryID      string        `json:"memory_id"`
	PreviousValue string        `json:"previous_value,omitempty"`
	NewValue      string        `json:"new_value,omitempty"`
	Action        HistoryAction `json:"action"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Categories is the fixed vocabulary the categorizer may assign.
var Categories = []string{
	"personal",
	"relationships",
	"preferences",
	"health",
	"travel",
	"work",
	"education",
	"projects",
	"ai_ml",
	"technology",
	"finance",
	"shopping",
	"food",
	"entertainment",
	"hobbies",
	"sports",
	"goals",
	"misc",
}

// ValidCategory reports whether name is in the fixed vocabulary.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}
